// Package conduit implements the per-(priority, reliability) sequencing
// state described in spec.md §4.4: a monotonic tx sequence counter backed
// by a fixed-capacity retransmission ring, and an rx side that tracks the
// next expected sequence number and the gaps behind it for AckNack.
//
// The shape generalizes go-amqp's per-link credit bookkeeping in link.go
// (a single counter plus a small fixed window) from one number per link to
// one sliding window per conduit, backed by internal/queue's ring.
package conduit

import (
	"sync"

	"github.com/janu-io/janu-go/internal/queue"
)

// TxEntry is a sent, not-yet-acknowledged unit of a reliable conduit, kept
// around so it can be replayed on AckNack.
type TxEntry struct {
	SN      uint64
	Payload []byte
}

// Tx is the send side of a conduit's sliding window.
type Tx struct {
	mu       sync.Mutex
	reliable bool
	nextSN   uint64
	baseSN   uint64 // oldest unacknowledged sn; reliable only
	window   *queue.Queue[TxEntry]
}

// NewTx returns a Tx. windowSize bounds how many unacknowledged reliable
// frames may be in flight at once; it is ignored for best-effort conduits.
func NewTx(reliable bool, windowSize int) *Tx {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Tx{
		reliable: reliable,
		window:   queue.New[TxEntry](windowSize),
	}
}

// Next allocates the next sequence number for this conduit.
func (t *Tx) Next() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	sn := t.nextSN
	t.nextSN++
	return sn
}

// Record stashes payload under sn for possible retransmission. It is a
// no-op for best-effort conduits, which never retransmit.
func (t *Tx) Record(sn uint64, payload []byte) {
	if !t.reliable {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.Set(sn, TxEntry{SN: sn, Payload: payload})
}

// WindowFull reports whether the number of unacknowledged reliable frames
// has reached the window's capacity; the caller (the session's pipeliner,
// under CongestionControl Block) should stall new sends on this conduit
// until an AckNack advances the base.
func (t *Tx) WindowFull() bool {
	if !t.reliable {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextSN-t.baseSN >= uint64(t.window.Cap())
}

// Ack clears every entry with sn < nextExpected, advancing the base of the
// window (spec.md §4.4: AckNack.NextExpected is a cumulative ack).
func (t *Tx) Ack(nextExpected uint64) {
	if !t.reliable {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for sn := t.baseSN; sn < nextExpected; sn++ {
		t.window.Clear(sn)
	}
	if nextExpected > t.baseSN {
		t.baseSN = nextExpected
	}
}

// Missing returns the recorded entries named by mask relative to
// nextExpected (bit i set means sn = nextExpected+i needs resending), in
// ascending sequence order. Entries that already aged out of the window or
// were never recorded are silently skipped.
func (t *Tx) Missing(nextExpected uint64, mask uint64) []TxEntry {
	if !t.reliable {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TxEntry
	for i := 0; i < 64 && mask != 0; i++ {
		if mask&(1<<uint(i)) != 0 {
			sn := nextExpected + uint64(i)
			if e, ok := t.window.Get(sn); ok && e.SN == sn {
				out = append(out, e)
			}
			mask &^= 1 << uint(i)
		}
	}
	return out
}

// Rx is the receive side of a conduit's sliding window: it tracks the next
// in-order sequence number expected and buffers the payload of any later
// sequence numbers that have already arrived out of order, so a gap-filling
// arrival can hand back the whole now-contiguous run rather than just the
// sequence numbers (spec.md §3 invariant 2: delivery must follow sn order,
// which requires keeping the out-of-order arrival around, not just a flag
// that it arrived).
type Rx[T any] struct {
	mu         sync.Mutex
	reliable   bool
	expectedSN uint64
	windowSize int
	arrived    *queue.Queue[T]
}

// NewRx returns an Rx. windowSize bounds how far ahead of expectedSN an
// out-of-order arrival is tracked; it is ignored for best-effort conduits.
func NewRx[T any](reliable bool, windowSize int) *Rx[T] {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Rx[T]{
		reliable:   reliable,
		windowSize: windowSize,
		arrived:    queue.New[T](windowSize),
	}
}

// Receive records the arrival of sn carrying payload. It returns
// deliverable, the run of payloads (starting at the sn that made
// expectedSN advance) that are now safe to deliver in order, and
// duplicate, true if sn had already been delivered or recorded.
//
// Best-effort conduits never buffer for reordering: every new, non-stale sn
// is delivered immediately and expectedSN tracks the high-water mark only
// for gap visibility in logs.
func (r *Rx[T]) Receive(sn uint64, payload T) (deliverable []T, duplicate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.reliable {
		if sn < r.expectedSN {
			return nil, true
		}
		r.expectedSN = sn + 1
		return []T{payload}, false
	}

	switch {
	case sn < r.expectedSN:
		return nil, true
	case sn == r.expectedSN:
		r.expectedSN++
		deliverable = append(deliverable, payload)
		for {
			v, ok := r.arrived.Get(r.expectedSN)
			if !ok {
				break
			}
			r.arrived.Clear(r.expectedSN)
			deliverable = append(deliverable, v)
			r.expectedSN++
		}
		return deliverable, false
	default:
		if r.arrived.Occupied(sn) {
			return nil, true
		}
		r.arrived.Set(sn, payload)
		return nil, false
	}
}

// AckNack computes the state to report back to the sender: NextExpected is
// the cumulative ack, and bit i of Mask is set when sn = NextExpected+i has
// not yet arrived.
func (r *Rx[T]) AckNack() (nextExpected uint64, mask uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reliable {
		return r.expectedSN, 0
	}
	for i := 0; i < 64 && i < r.windowSize; i++ {
		if !r.arrived.Occupied(r.expectedSN + uint64(i)) {
			mask |= 1 << uint(i)
		}
	}
	return r.expectedSN, mask
}
