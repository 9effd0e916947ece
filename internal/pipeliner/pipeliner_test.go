package pipeliner

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/janu-io/janu-go/internal/buffer"
	"github.com/janu-io/janu-go/internal/encoding"
	"github.com/janu-io/janu-go/internal/frames"
)

func collectingWriter() (WriteFunc, func() [][]byte) {
	var mu sync.Mutex
	var got [][]byte
	return func(raw []byte) error {
			mu.Lock()
			defer mu.Unlock()
			cp := append([]byte(nil), raw...)
			got = append(got, cp)
			return nil
		}, func() [][]byte {
			mu.Lock()
			defer mu.Unlock()
			return append([][]byte(nil), got...)
		}
}

// encodedSize returns the number of bytes frames.WriteJanuMessage produces
// for msg, used to pick payload lengths that land exactly on an MTU
// boundary without hardcoding the wire format's byte layout.
func encodedSize(t *testing.T, msg frames.JanuMessage) int {
	t.Helper()
	buf := buffer.NewContiguous(0)
	if err := frames.WriteJanuMessage(buf, msg); err != nil {
		t.Fatalf("WriteJanuMessage: %v", err)
	}
	return buf.Len()
}

func TestScheduleProducesFrame(t *testing.T) {
	write, snapshot := collectingWriter()
	p := New(2048, write, 16, 10, nil, nil)
	defer p.Close()

	ch := encoding.Channel{Priority: encoding.Data, Reliability: encoding.Reliable}
	msg := &frames.Data{Key: encoding.ResKey{Suffix: "/a"}, Payload: []byte("hi")}
	if err := p.Schedule(ch, msg, encoding.Block); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	out := snapshot()
	if len(out) != 1 {
		t.Fatalf("got %d writes, want 1", len(out))
	}
	cbuf := buffer.NewConsumer(out[0])
	body, err := frames.Read(cbuf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	frame, ok := body.(*frames.Frame)
	if !ok {
		t.Fatalf("got %T, want *Frame", body)
	}
	if len(frame.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(frame.Messages))
	}
}

func TestFragmentationOnOversizedMessage(t *testing.T) {
	write, snapshot := collectingWriter()
	p := New(64, write, 16, 10, nil, nil)
	defer p.Close()

	ch := encoding.Channel{Priority: encoding.Background, Reliability: encoding.BestEffort}
	big := make([]byte, 512)
	msg := &frames.Data{Key: encoding.ResKey{Suffix: "/big"}, Payload: big}
	if err := p.Schedule(ch, msg, encoding.Drop); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var out [][]byte
	for time.Now().Before(deadline) {
		out = snapshot()
		if len(out) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(out) == 0 {
		t.Fatal("expected at least one fragment written")
	}
	sawFinal := false
	for _, raw := range out {
		cbuf := buffer.NewConsumer(raw)
		body, err := frames.Read(cbuf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		frag, ok := body.(*frames.Fragment)
		if !ok {
			t.Fatalf("got %T, want *Fragment", body)
		}
		if !frag.More {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Fatal("expected a final fragment with More=false")
	}
}

// TestMessageAtMTUEncodesAsSingleFrame pins spec.md §8's boundary: a
// message whose encoded size equals the MTU fits a Frame on its own and
// must never be fragmented.
func TestMessageAtMTUEncodesAsSingleFrame(t *testing.T) {
	write, snapshot := collectingWriter()

	key := encoding.ResKey{Suffix: "/x"}
	atBound := &frames.Data{Key: key, Payload: make([]byte, 50)}
	mtu := encodedSize(t, atBound)

	p := New(mtu, write, 16, 10, nil, nil)
	defer p.Close()

	ch := encoding.Channel{Priority: encoding.Data, Reliability: encoding.BestEffort}
	if err := p.Schedule(ch, atBound, encoding.Drop); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var out [][]byte
	for time.Now().Before(deadline) {
		out = snapshot()
		if len(out) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(out) != 1 {
		t.Fatalf("got %d writes, want exactly 1", len(out))
	}
	body, err := frames.Read(buffer.NewConsumer(out[0]))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := body.(*frames.Frame); !ok {
		t.Fatalf("got %T, want *Frame: a message at exactly the MTU must not fragment", body)
	}
}

// TestMessageOverMTUByOneSplitsIntoTwoFragments pins spec.md §8's other
// boundary: a message one byte over the MTU must split into exactly two
// fragments, no more.
func TestMessageOverMTUByOneSplitsIntoTwoFragments(t *testing.T) {
	write, snapshot := collectingWriter()

	key := encoding.ResKey{Suffix: "/x"}
	atBound := &frames.Data{Key: key, Payload: make([]byte, 50)}
	mtu := encodedSize(t, atBound)
	overBound := &frames.Data{Key: key, Payload: make([]byte, 51)}
	if got := encodedSize(t, overBound); got != mtu+1 {
		t.Fatalf("test setup: 51-byte payload encodes to %d bytes, want %d", got, mtu+1)
	}

	p := New(mtu, write, 16, 10, nil, nil)
	defer p.Close()

	ch := encoding.Channel{Priority: encoding.Data, Reliability: encoding.BestEffort}
	if err := p.Schedule(ch, overBound, encoding.Drop); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var out [][]byte
	for time.Now().Before(deadline) {
		out = snapshot()
		if len(out) >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(out) != 2 {
		t.Fatalf("got %d writes, want exactly 2 fragments", len(out))
	}
	for i, raw := range out {
		body, err := frames.Read(buffer.NewConsumer(raw))
		if err != nil {
			t.Fatalf("Read fragment %d: %v", i, err)
		}
		frag, ok := body.(*frames.Fragment)
		if !ok {
			t.Fatalf("fragment %d: got %T, want *Fragment", i, body)
		}
		if wantMore := i == 0; frag.More != wantMore {
			t.Fatalf("fragment %d: More = %t, want %t", i, frag.More, wantMore)
		}
	}
}

func TestScheduleDropNotifiesOnDrop(t *testing.T) {
	write, _ := collectingWriter()
	var drops int32
	p := New(2048, write, 2, 10, func() { atomic.AddInt32(&drops, 1) }, nil)
	defer p.Close()

	ch := encoding.Channel{Priority: encoding.Data, Reliability: encoding.Reliable}
	tx := p.Tx(ch)
	for i := 0; i < 2; i++ {
		sn := tx.Next()
		tx.Record(sn, []byte{byte(sn)})
	}
	if !tx.WindowFull() {
		t.Fatal("expected window full")
	}

	msg := &frames.Data{Key: encoding.ResKey{Suffix: "/a"}, Payload: []byte("x")}
	if err := p.Schedule(ch, msg, encoding.Drop); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := atomic.LoadInt32(&drops); got != 1 {
		t.Fatalf("onDrop called %d times, want 1", got)
	}
}

func TestAckNackAdvancesWindow(t *testing.T) {
	write, _ := collectingWriter()
	p := New(2048, write, 4, 10, nil, nil)
	defer p.Close()

	ch := encoding.Channel{Priority: encoding.Control, Reliability: encoding.Reliable}
	tx := p.Tx(ch)
	for i := 0; i < 4; i++ {
		sn := tx.Next()
		tx.Record(sn, []byte{byte(sn)})
	}
	if !tx.WindowFull() {
		t.Fatal("expected window full")
	}
	if err := p.HandleAckNack(&frames.AckNack{Channel: ch, NextExpected: 4, Mask: 0}); err != nil {
		t.Fatalf("HandleAckNack: %v", err)
	}
	if tx.WindowFull() {
		t.Fatal("expected window to drain after full ack")
	}
}
