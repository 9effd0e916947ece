package transport

import (
	"sync"
	"sync/atomic"
	"time"

	commonlog "github.com/prometheus/common/log"

	"github.com/janu-io/janu-go/internal/buffer"
	"github.com/janu-io/janu-go/internal/conduit"
	"github.com/janu-io/janu-go/internal/establishment"
	"github.com/janu-io/janu-go/internal/frames"
	"github.com/janu-io/janu-go/internal/shared"
)

// Bus is the multicast transport's datagram substrate: a single
// Publish fans out to every Subscribe-r. Concrete drivers (a real UDP
// multicast group) are out of scope for this module; internal/testlink
// provides an in-memory Bus for tests.
type Bus interface {
	Publish(data []byte)
	Subscribe() BusSubscription
}

// BusSubscription is a peer's view of a Bus.
type BusSubscription interface {
	Recv() <-chan []byte
	Close()
}

// TransportMulticast is a group session: peers discover each other by
// periodically announcing a Join on a shared Bus, and are evicted once
// their announced lease lapses without a refresh (spec.md §4.5).
type TransportMulticast struct {
	id      string
	cfg     TransportConfig
	handler MulticastHandler
	bus     Bus
	sub     BusSubscription
	log     commonlog.Logger

	table *establishment.PeerTable
	// reliableTx/reliableRx is a single shared Control-priority reliable
	// conduit. It is created with the session and not used afterwards: Joins
	// are published once per announce tick and never acknowledged or
	// retransmitted, and the session keeps no per-peer conduit state.
	reliableTx *conduit.Tx
	reliableRx *conduit.Rx[frames.Body]

	state int32 // sessionState

	close     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// JoinMulticast starts a group session on bus, announcing presence every
// announceEvery until Close.
func JoinMulticast(cfg TransportConfig, bus Bus, handler MulticastHandler, announceEvery time.Duration) *TransportMulticast {
	if handler == nil {
		handler = NopMulticastHandler{}
	}
	m := &TransportMulticast{
		id:      shared.NewGroupSessionID(),
		cfg:     cfg,
		handler: handler,
		bus:     bus,
		sub:     bus.Subscribe(),
		log:     commonlog.Base(),
		table:   establishment.NewPeerTable(),
		state:   int32(stateOpening),
		close:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.reliableTx = conduit.NewTx(true, cfg.WindowSize)
	m.reliableRx = conduit.NewRx[frames.Body](true, cfg.WindowSize)
	atomic.StoreInt32(&m.state, int32(stateEstablished))
	go m.recvLoop()
	go m.announceLoop(announceEvery)
	go m.evictLoop(announceEvery)
	return m
}

// ID returns a process-unique identifier for this group session.
func (m *TransportMulticast) ID() string { return m.id }

// Peers returns the currently known, non-evicted peer ids.
func (m *TransportMulticast) Peers() []PeerID {
	return m.table.List()
}

func (m *TransportMulticast) recvLoop() {
	for {
		select {
		case <-m.close:
			return
		case raw, ok := <-m.sub.Recv():
			if !ok {
				return
			}
			body, err := frames.Read(buffer.NewConsumer(raw))
			if err != nil {
				m.log.Debugf("multicast[%s]: decode error: %v", m.id, err)
				continue
			}
			join, ok := body.(*frames.Join)
			if !ok {
				continue
			}
			if join.PeerID.Equal(m.cfg.PeerID) {
				continue // loopback of our own announcement
			}
			if isNew := m.table.Touch(join, time.Now(), m.cfg.MaxSessions); isNew {
				m.log.Infof("multicast[%s]: new peer %s", m.id, join.PeerID)
				m.handler.NewPeer(m, join.PeerID)
			}
		}
	}
}

func (m *TransportMulticast) announceLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	m.publishJoin()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.publishJoin()
		}
	}
}

func (m *TransportMulticast) publishJoin() {
	join := establishment.BuildJoin(establishment.Config{
		PeerID:       m.cfg.PeerID,
		WhatAmI:      m.cfg.WhatAmI,
		SnResolution: m.cfg.SnResolution,
		Lease:        m.cfg.Lease,
	}, nil)
	raw, err := encodeBody(join)
	if err != nil {
		m.log.Debugf("multicast[%s]: encode join error: %v", m.id, err)
		return
	}
	m.bus.Publish(raw)
}

func (m *TransportMulticast) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			for _, pid := range m.table.Evict(time.Now()) {
				m.log.Infof("multicast[%s]: peer %s evicted (lease expired)", m.id, pid)
				m.handler.DelPeer(m, pid)
			}
		}
	}
}

// Close stops the announce/evict/recv tasks and leaves the bus.
func (m *TransportMulticast) Close() error {
	m.closeOnce.Do(func() {
		atomic.StoreInt32(&m.state, int32(stateClosing))
		m.handler.Closing(m)
		close(m.close)
		m.sub.Close()
		atomic.StoreInt32(&m.state, int32(stateClosed))
		m.handler.Closed(m, nil)
		close(m.done)
	})
	<-m.done
	return nil
}

// Done returns a channel closed once the group session has reached its
// terminal state.
func (m *TransportMulticast) Done() <-chan struct{} { return m.done }

