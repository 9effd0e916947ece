// Package pipeliner implements the per-session transmit task: it drains a
// session's conduits in strict priority order into MTU-sized Frames, falling
// back to Fragment messages when a single JanuMessage does not fit a Frame
// on its own (spec.md §4.1, §4.4). One Pipeliner serves all of a session's
// links: its WriteFunc hands each encoded message to whichever link the
// session picks. There is no separate transmit task per link.
//
// The task shape — a close channel, a sync.Once-guarded shutdown, a done
// channel carrying the terminal error — mirrors the mux goroutine in
// go-amqp's link.go, generalized from one link's single credit-gated
// sender to one goroutine fanning out over every conduit of a session.
package pipeliner

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/janu-io/janu-go/internal/buffer"
	"github.com/janu-io/janu-go/internal/conduit"
	"github.com/janu-io/janu-go/internal/encoding"
	"github.com/janu-io/janu-go/internal/frames"
	"github.com/janu-io/janu-go/internal/queue"
)

// WriteFunc hands one fully encoded TransportMessage (a Frame or Fragment,
// already serialized) to the underlying link.
type WriteFunc func(raw []byte) error

// ErrClosed is returned by Schedule once the pipeliner has been closed.
var ErrClosed = errors.New("pipeliner: closed")

type conduitState struct {
	channel encoding.Channel
	tx      *conduit.Tx
	rx      *conduit.Rx[frames.Body]
	pending *queue.Holder[frames.JanuMessage]
}

// Pipeliner owns the tx-side conduit state for one session and the goroutine
// that drains it.
type Pipeliner struct {
	mtu         int
	write       WriteFunc
	limiter     *rate.Limiter
	onDrop      func()
	onFrameSent func()

	conduits [encoding.NumPriorities][2]*conduitState // indexed [priority][reliability]

	wake chan struct{}

	close     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneErr   error
}

// New returns a Pipeliner bounding each conduit's reliable retransmission
// window to windowSize and pacing retransmissions at retransmitHz per
// second (spec.md §5: congestion control paces resends rather than
// flooding the link). onDrop, if non-nil, is called once for every message
// discarded under CongestionControl Drop (spec.md §5: "for Drop, producers
// advance and a drop counter is incremented"). onFrameSent, if non-nil, is
// called once after every Frame or Fragment successfully handed to write,
// so the caller can track link idleness for keep-alive (spec.md §4.4:
// "sends KeepAlive when no Frame sent for keep_alive").
func New(mtu int, write WriteFunc, windowSize int, retransmitHz float64, onDrop func(), onFrameSent func()) *Pipeliner {
	p := &Pipeliner{
		mtu:         mtu,
		write:       write,
		limiter:     rate.NewLimiter(rate.Limit(retransmitHz), 1),
		onDrop:      onDrop,
		onFrameSent: onFrameSent,
		wake:        make(chan struct{}, 1),
		close:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	for pr := 0; pr < encoding.NumPriorities; pr++ {
		for _, rel := range []encoding.Reliability{encoding.Reliable, encoding.BestEffort} {
			ch := encoding.Channel{Priority: encoding.Priority(pr), Reliability: rel}
			p.conduits[pr][rel] = &conduitState{
				channel: ch,
				tx:      conduit.NewTx(rel == encoding.Reliable, windowSize),
				rx:      conduit.NewRx[frames.Body](rel == encoding.Reliable, windowSize),
			}
		}
	}
	go p.run()
	return p
}

func (p *Pipeliner) state(ch encoding.Channel) *conduitState {
	return p.conduits[ch.Priority][ch.Reliability]
}

// Tx returns the tx sequencing state for a conduit.
func (p *Pipeliner) Tx(ch encoding.Channel) *conduit.Tx { return p.state(ch).tx }

// Rx returns the rx sequencing state for a conduit.
func (p *Pipeliner) Rx(ch encoding.Channel) *conduit.Rx[frames.Body] { return p.state(ch).rx }

// Schedule enqueues msg for transmission on ch. Under CongestionControl
// Block it waits for room in a full reliable window; under Drop it
// discards msg immediately rather than block the caller (spec.md §5).
func (p *Pipeliner) Schedule(ch encoding.Channel, msg frames.JanuMessage, cc encoding.CongestionControl) error {
	st := p.state(ch)
	for st.tx.WindowFull() {
		if cc == encoding.Drop {
			if p.onDrop != nil {
				p.onDrop()
			}
			return nil
		}
		select {
		case <-p.close:
			return ErrClosed
		case <-time.After(time.Millisecond):
		}
	}
	if st.pending == nil {
		st.pending = queue.NewHolder[frames.JanuMessage](4)
	}
	st.pending.Push(msg)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the drain goroutine and waits for it to exit.
func (p *Pipeliner) Close() error {
	p.closeOnce.Do(func() { close(p.close) })
	<-p.done
	return p.doneErr
}

// Done returns a channel closed once the drain goroutine has exited.
func (p *Pipeliner) Done() <-chan struct{} { return p.done }

func (p *Pipeliner) run() {
	var err error
	defer func() {
		p.doneErr = err
		close(p.done)
	}()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.close:
			return
		case <-p.wake:
		case <-ticker.C:
		}
		if err = p.drainOnce(); err != nil {
			return
		}
	}
}

// drainOnce makes one pass over every conduit in strict priority order
// (spec.md §4.1 invariant: priority dominance — lower numeric priority
// always drains first), packing as many pending messages as fit into one
// Frame per conduit and falling back to fragmentation for an oversized
// single message.
func (p *Pipeliner) drainOnce() error {
	for pr := 0; pr < encoding.NumPriorities; pr++ {
		for _, rel := range []encoding.Reliability{encoding.Reliable, encoding.BestEffort} {
			st := p.conduits[pr][rel]
			if st.pending == nil || st.pending.Len() == 0 {
				continue
			}
			if err := p.drainConduit(st); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeliner) drainConduit(st *conduitState) error {
	var batch []frames.JanuMessage
	scratch := buffer.NewContiguous(p.mtu)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sn := st.tx.Next()
		frame := &frames.Frame{Channel: st.channel, SN: sn, Messages: batch}
		enc := buffer.NewContiguous(0)
		if err := frames.Write(enc, frame); err != nil {
			return errors.Wrap(err, "pipeliner: encode frame")
		}
		raw := enc.Bytes()
		st.tx.Record(sn, raw)
		if err := p.write(raw); err != nil {
			return errors.Wrap(err, "pipeliner: write frame")
		}
		if p.onFrameSent != nil {
			p.onFrameSent()
		}
		batch = batch[:0]
		scratch = buffer.NewContiguous(p.mtu)
		return nil
	}

	for {
		msg, ok := st.pending.Pop()
		if !ok {
			break
		}
		scratch.Mark()
		if err := frames.WriteJanuMessage(scratch, msg); err == nil {
			batch = append(batch, msg)
			continue
		}
		scratch.RevertToMark()
		if err := flush(); err != nil {
			return err
		}
		scratch.Mark()
		if err := frames.WriteJanuMessage(scratch, msg); err == nil {
			batch = append(batch, msg)
			continue
		}
		scratch.RevertToMark()
		if err := p.fragmentSend(st, msg); err != nil {
			return err
		}
	}
	return flush()
}

// fragmentSend splits a single JanuMessage too large for one Frame into a
// run of Fragment messages, each carrying More=true except the last
// (spec.md §3 invariant 3).
func (p *Pipeliner) fragmentSend(st *conduitState, msg frames.JanuMessage) error {
	full := buffer.NewContiguous(0)
	if err := frames.WriteJanuMessage(full, msg); err != nil {
		return errors.Wrap(err, "pipeliner: encode oversized message")
	}
	raw := full.Bytes()
	chunkSize := p.mtu - 16
	if chunkSize < 1 {
		chunkSize = 1
	}
	for off := 0; off < len(raw); off += chunkSize {
		end := off + chunkSize
		if end > len(raw) {
			end = len(raw)
		}
		sn := st.tx.Next()
		frag := &frames.Fragment{
			Channel: st.channel,
			SN:      sn,
			More:    end < len(raw),
			Payload: raw[off:end],
		}
		enc := buffer.NewContiguous(0)
		if err := frames.Write(enc, frag); err != nil {
			return errors.Wrap(err, "pipeliner: encode fragment")
		}
		encRaw := enc.Bytes()
		st.tx.Record(sn, encRaw)
		if err := p.write(encRaw); err != nil {
			return errors.Wrap(err, "pipeliner: write fragment")
		}
		if p.onFrameSent != nil {
			p.onFrameSent()
		}
	}
	return nil
}

// HandleAckNack advances the conduit's acknowledged base and, paced by the
// retransmission rate limiter, replays whatever entries the mask names
// (spec.md §4.4/§5: retransmission is congestion-paced, not immediate).
func (p *Pipeliner) HandleAckNack(an *frames.AckNack) error {
	st := p.state(an.Channel)
	st.tx.Ack(an.NextExpected)
	if an.Mask == 0 || !p.limiter.Allow() {
		return nil
	}
	for _, entry := range st.tx.Missing(an.NextExpected, an.Mask) {
		if err := p.write(entry.Payload); err != nil {
			return errors.Wrap(err, "pipeliner: retransmit")
		}
	}
	return nil
}
