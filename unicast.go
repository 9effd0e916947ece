package transport

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/janu-io/janu-go/internal/buffer"
	"github.com/janu-io/janu-go/internal/conduit"
	"github.com/janu-io/janu-go/internal/debug"
	"github.com/janu-io/janu-go/internal/encoding"
	"github.com/janu-io/janu-go/internal/frames"
	"github.com/janu-io/janu-go/internal/pipeliner"
	"github.com/janu-io/janu-go/internal/shared"
)

type sessionState int32

const (
	stateOpening sessionState = iota
	stateEstablished
	stateClosing
	stateClosed
)

type reassembly struct {
	channel encoding.Channel
	buf     []byte
}

// TransportUnicast is one established peer-to-peer session: a set of
// striped physical links sharing one set of per-conduit sequence spaces.
// Its lifecycle (Opening -> Established -> Closing -> Closed) is terminal
// once Closed; there is no transition back out, matching go-amqp's
// connection/session state discipline.
type TransportUnicast struct {
	id            string
	cfg           TransportConfig
	remotePeer    PeerID
	remoteWhatAmI WhatAmI

	handler UnicastHandler
	metrics *metricsCounters

	state int32 // sessionState, accessed atomically

	mu       sync.Mutex
	links    []Link
	reassem  map[encoding.Channel]*reassembly
	lastRecv time.Time
	lastSent time.Time

	pipe *pipeliner.Pipeliner

	close     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneErr   error
}

func newTransportUnicast(cfg TransportConfig, remotePeer PeerID, remoteWhatAmI WhatAmI, handler UnicastHandler, metrics *metricsCounters) *TransportUnicast {
	if handler == nil {
		handler = NopUnicastHandler{}
	}
	s := &TransportUnicast{
		id:            shared.NewLinkName(),
		cfg:           cfg,
		remotePeer:    remotePeer,
		remoteWhatAmI: remoteWhatAmI,
		handler:       handler,
		metrics:       metrics,
		state:         int32(stateOpening),
		reassem:       make(map[encoding.Channel]*reassembly),
		lastRecv:      time.Now(),
		lastSent:      time.Now(),
		close:         make(chan struct{}),
		done:          make(chan struct{}),
	}
	s.pipe = pipeliner.New(cfg.MTU, s.writeStriped, cfg.WindowSize, cfg.RetransmitHz, s.countDrop, s.markSent)
	return s
}

// ID returns a process-unique identifier for this session, stable for its
// lifetime, useful for correlating log lines across its links.
func (s *TransportUnicast) ID() string { return s.id }

// Peer returns the remote peer's identifier.
func (s *TransportUnicast) Peer() PeerID { return s.remotePeer }

// WhatAmI returns the remote peer's declared role.
func (s *TransportUnicast) WhatAmI() WhatAmI { return s.remoteWhatAmI }

func (s *TransportUnicast) getState() sessionState {
	return sessionState(atomic.LoadInt32(&s.state))
}

func (s *TransportUnicast) setState(st sessionState) {
	atomic.StoreInt32(&s.state, int32(st))
}

// IsClosed reports whether the session has reached its terminal state.
func (s *TransportUnicast) IsClosed() bool { return s.getState() == stateClosed }

// addLink stripes a newly established physical link into the session and
// starts its rx task. It refuses the link once MaxLinks physical links are
// already striped into this session (spec.md §4.3).
func (s *TransportUnicast) addLink(l Link) error {
	s.mu.Lock()
	if s.cfg.MaxLinks > 0 && len(s.links) >= s.cfg.MaxLinks {
		s.mu.Unlock()
		return newError(ErrOther, nil)
	}
	s.links = append(s.links, l)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.incLinks(1)
	}
	s.setState(stateEstablished)
	s.handler.NewLink(s, l)
	go s.rxLoop(l)
	go s.keepAliveLoop(l)
	return nil
}

// writeStriped picks a link by hashing the payload (a cheap, deterministic
// stand-in for the sender's own choice of which frame goes on which
// stripe) and fails over to the next link on a write error (spec.md §4.4
// multi-link striping).
func (s *TransportUnicast) writeStriped(raw []byte) error {
	s.mu.Lock()
	links := append([]Link(nil), s.links...)
	s.mu.Unlock()
	if len(links) == 0 {
		return newError(ErrInvalidLink, nil)
	}
	h := fnv.New32a()
	_, _ = h.Write(raw)
	start := int(h.Sum32()) % len(links)
	var lastErr error
	for i := 0; i < len(links); i++ {
		l := links[(start+i)%len(links)]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := l.Send(ctx, raw)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return wrapf(ErrIoError, lastErr, "writeStriped: all links failed")
}

func (s *TransportUnicast) countDrop() {
	if s.metrics != nil {
		s.metrics.incDropped(1)
	}
}

// markSent records that a Frame or Fragment was just written, so
// keepAliveLoop can tell whether the link has been idle (spec.md §4.4).
func (s *TransportUnicast) markSent() {
	s.mu.Lock()
	s.lastSent = time.Now()
	s.mu.Unlock()
}

// Schedule queues msg for delivery on ch under the given congestion
// control policy.
func (s *TransportUnicast) Schedule(ch Channel, msg Message, cc CongestionControl) error {
	if s.IsClosed() {
		return newError(ErrInvalidLink, nil)
	}
	return s.pipe.Schedule(ch, msg, cc)
}

func (s *TransportUnicast) rxLoop(l Link) {
	for {
		select {
		case <-s.close:
			return
		default:
		}
		raw, err := l.Recv(context.Background())
		if err != nil {
			s.removeLink(l, err)
			return
		}
		s.mu.Lock()
		s.lastRecv = time.Now()
		s.mu.Unlock()
		body, err := frames.Read(buffer.NewConsumer(raw))
		if err != nil {
			debug.Log(1, "unicast[%s]: decode error: %v", s.id, err)
			continue
		}
		s.dispatch(body)
	}
}

func (s *TransportUnicast) dispatch(body frames.Body) {
	switch m := body.(type) {
	case *frames.Frame:
		s.deliverFrame(m)
	case *frames.Fragment:
		s.deliverFragment(m)
	case *frames.Sync:
		s.replyAckNack(m.Channel)
	case *frames.AckNack:
		if err := s.pipe.HandleAckNack(m); err != nil {
			debug.Log(1, "unicast[%s]: retransmit error: %v", s.id, err)
		}
	case *frames.KeepAlive:
		// lastRecv already refreshed by rxLoop.
	case *frames.Close:
		s.handleRemoteClose(m)
	default:
		debug.Log(1, "unicast[%s]: unexpected message during established session: %T", s.id, body)
	}
}

// deliverFrame dispatches a Frame's messages to the handler. Duplicate
// sequence numbers (a replay of an already-delivered retransmission) are
// dropped to preserve at-most-once delivery. On a reliable conduit an
// arrival ahead of the expected sn (e.g. under multi-link striping or
// failover, spec.md §4.4) is buffered by the conduit's rx window rather
// than delivered, and only handed back once the gap fills, so the handler
// always sees strictly increasing sn (spec.md §3 invariant 2).
func (s *TransportUnicast) deliverFrame(f *frames.Frame) {
	rx := s.pipe.Rx(f.Channel)
	deliverable, duplicate := rx.Receive(f.SN, frames.Body(f))
	if duplicate {
		return
	}
	for _, body := range deliverable {
		frame, ok := body.(*frames.Frame)
		if !ok {
			continue
		}
		for _, jm := range frame.Messages {
			s.handler.HandleMessage(s, frame.Channel, jm)
			if s.metrics != nil {
				s.metrics.incDelivered(1)
			}
		}
	}
	if f.Channel.Reliability == encoding.Reliable {
		s.replyAckNack(f.Channel)
	}
}

// deliverFragment accepts a Fragment in conduit sn order (buffering early
// arrivals the same way deliverFrame does) and reassembles it; the
// handler only sees a decoded JanuMessage once every fragment that makes
// it up has arrived in order and the last one (More=false) completes it.
func (s *TransportUnicast) deliverFragment(f *frames.Fragment) {
	rx := s.pipe.Rx(f.Channel)
	deliverable, duplicate := rx.Receive(f.SN, frames.Body(f))
	if duplicate {
		return
	}
	for _, body := range deliverable {
		frag, ok := body.(*frames.Fragment)
		if !ok {
			continue
		}
		s.reassembleFragment(frag)
	}
	if f.Channel.Reliability == encoding.Reliable {
		s.replyAckNack(f.Channel)
	}
}

func (s *TransportUnicast) reassembleFragment(f *frames.Fragment) {
	s.mu.Lock()
	r, ok := s.reassem[f.Channel]
	if !ok {
		r = &reassembly{channel: f.Channel}
		s.reassem[f.Channel] = r
	}
	r.buf = append(r.buf, f.Payload...)
	var complete []byte
	if !f.More {
		complete = r.buf
		delete(s.reassem, f.Channel)
	}
	s.mu.Unlock()

	if complete == nil {
		return
	}
	jm, err := frames.ReadJanuMessage(buffer.NewConsumer(complete))
	if err != nil {
		debug.Log(1, "unicast[%s]: reassembled message decode error: %v", s.id, err)
		return
	}
	s.handler.HandleMessage(s, f.Channel, jm)
	if s.metrics != nil {
		s.metrics.incDelivered(1)
	}
}

func (s *TransportUnicast) replyAckNack(ch Channel) {
	next, mask := s.pipe.Rx(ch).AckNack()
	raw, err := encodeBody(&frames.AckNack{Channel: ch, NextExpected: next, Mask: mask})
	if err != nil {
		return
	}
	_ = s.writeStriped(raw)
}

func (s *TransportUnicast) handleRemoteClose(c *frames.Close) {
	s.close1(wrapf(ErrOther, nil, "remote closed: %s", c.Reason))
}

func (s *TransportUnicast) removeLink(l Link, cause error) {
	s.mu.Lock()
	for i, existing := range s.links {
		if existing == l {
			s.links = append(s.links[:i], s.links[i+1:]...)
			break
		}
	}
	remaining := len(s.links)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.incLinks(-1)
	}
	s.handler.DelLink(s, l, cause)
	if remaining == 0 {
		s.close1(cause)
	}
}

func (s *TransportUnicast) keepAliveLoop(l Link) {
	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-s.close:
			return
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastSent) >= s.cfg.KeepAlive
			stale := time.Since(s.lastRecv) > s.cfg.Lease
			s.mu.Unlock()
			if idle {
				raw, err := encodeBody(&frames.KeepAlive{})
				if err == nil {
					ctx, cancel := context.WithTimeout(context.Background(), s.cfg.KeepAlive)
					_ = l.Send(ctx, raw)
					cancel()
				}
			}
			if stale {
				s.close1(wrapf(ErrIoError, nil, "lease expired"))
				return
			}
		}
	}
}

// Close begins a graceful shutdown: it notifies the peer, stops every
// link's rx/keepalive task, and transitions to the terminal Closed state.
func (s *TransportUnicast) Close() error {
	return s.close1(nil)
}

func (s *TransportUnicast) close1(cause error) error {
	var didClose bool
	s.closeOnce.Do(func() {
		didClose = true
		s.setState(stateClosing)
		s.handler.Closing(s)
		raw, err := encodeBody(&frames.Close{Reason: frames.CloseGeneric})
		if err == nil {
			_ = s.writeStriped(raw)
		}
		close(s.close)
		_ = s.pipe.Close()
		s.mu.Lock()
		links := append([]Link(nil), s.links...)
		s.mu.Unlock()
		for _, l := range links {
			_ = l.Close()
		}
		s.doneErr = cause
		s.setState(stateClosed)
		s.handler.Closed(s, cause)
		close(s.done)
	})
	if !didClose {
		<-s.done
	}
	return s.doneErr
}

// Done returns a channel closed once the session has reached its terminal
// state.
func (s *TransportUnicast) Done() <-chan struct{} { return s.done }

func encodeBody(body frames.Body) ([]byte, error) {
	buf := buffer.NewContiguous(0)
	if err := frames.Write(buf, body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
