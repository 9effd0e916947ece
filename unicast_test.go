package transport

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/janu-io/janu-go/internal/testlink"
)

func testConfig(pid byte) TransportConfig {
	cfg := DefaultConfig()
	cfg.PeerID = PeerID{pid}
	cfg.KeepAlive = 20 * time.Millisecond
	cfg.Lease = 200 * time.Millisecond
	cfg.MTU = 4096
	return cfg
}

// dialedPair returns two managers already wired to each other over an
// in-memory stream link pair, with the handshake completed on both sides.
func dialedPair(t *testing.T, aH, bH UnicastHandler) (a, b *TransportManager, sa, sb *TransportUnicast) {
	t.Helper()
	a = NewManager(testConfig(1))
	b = NewManager(testConfig(2))

	connA, connB := testlink.NewConnPair()
	linkA := NewStreamLink(connA, 4096, EndPoint{}, EndPoint{})
	linkB := NewStreamLink(connB, 4096, EndPoint{}, EndPoint{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		s   *TransportUnicast
		err error
	}
	initCh := make(chan result, 1)
	respCh := make(chan result, 1)
	go func() {
		s, err := a.handshakeInitiator(ctx, linkA, aH)
		initCh <- result{s, err}
	}()
	go func() {
		s, err := b.handshakeResponder(ctx, linkB, bH)
		respCh <- result{s, err}
	}()
	ir := <-initCh
	rr := <-respCh
	if ir.err != nil {
		t.Fatalf("initiator handshake: %v", ir.err)
	}
	if rr.err != nil {
		t.Fatalf("responder handshake: %v", rr.err)
	}
	return a, b, ir.s, rr.s
}

type recordingHandler struct {
	NopUnicastHandler
	recv chan Message
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{recv: make(chan Message, 256)}
}

func (h *recordingHandler) HandleMessage(_ *TransportUnicast, _ Channel, msg Message) {
	h.recv <- msg
}

func TestHandshakeEstablishesSession(t *testing.T) {
	a, b, sa, sb := dialedPair(t, NopUnicastHandler{}, NopUnicastHandler{})
	defer a.Close()
	defer b.Close()

	if !sa.Peer().Equal(PeerID{2}) {
		t.Fatalf("initiator sees peer %v, want {2}", sa.Peer())
	}
	if !sb.Peer().Equal(PeerID{1}) {
		t.Fatalf("responder sees peer %v, want {1}", sb.Peer())
	}
}

func TestScheduleDeliversReliableInOrder(t *testing.T) {
	recvB := newRecordingHandler()
	a, b, sa, _ := dialedPair(t, NopUnicastHandler{}, recvB)
	defer a.Close()
	defer b.Close()

	ch := Channel{Priority: PriorityData, Reliability: Reliable}
	const n = 50
	for i := 0; i < n; i++ {
		msg := &Data{Key: ResKey{Suffix: "/a"}, Payload: []byte{byte(i)}}
		if err := sa.Schedule(ch, msg, Block); err != nil {
			t.Fatalf("Schedule(%d): %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-recvB.recv:
			data, ok := msg.(*Data)
			if !ok {
				t.Fatalf("got %T, want *Data", msg)
			}
			if len(data.Payload) != 1 || data.Payload[0] != byte(i) {
				t.Fatalf("message %d: got payload %v, want [%d]", i, data.Payload, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestManagerCloseLeavesNoGoroutinesRunning(t *testing.T) {
	defer leaktest.Check(t)()

	a, b, _, _ := dialedPair(t, NopUnicastHandler{}, NopUnicastHandler{})
	if err := a.Close(); err != nil {
		t.Fatalf("a.Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("b.Close: %v", err)
	}
}

func TestScheduleOnClosedSessionFails(t *testing.T) {
	a, b, sa, _ := dialedPair(t, NopUnicastHandler{}, NopUnicastHandler{})
	defer b.Close()

	if err := sa.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("manager Close: %v", err)
	}
	ch := Channel{Priority: PriorityData, Reliability: BestEffort}
	if err := sa.Schedule(ch, &Data{Key: ResKey{Suffix: "/x"}}, Drop); err == nil {
		t.Fatal("expected Schedule to fail on a closed session")
	}
}
