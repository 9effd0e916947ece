package transport

import (
	"context"
	"sync"
	"time"

	"github.com/janu-io/janu-go/internal/buffer"
	"github.com/janu-io/janu-go/internal/establishment"
	"github.com/janu-io/janu-go/internal/frames"
)

// TransportManager owns every unicast session and group session a process
// maintains, plus the registry of LinkManagers available to dial or listen
// with. It is the root orchestration object, playing the role go-amqp's
// top-level Client plays for a single AMQP connection, generalized to a
// peer that may hold many concurrent sessions.
type TransportManager struct {
	cfg TransportConfig

	mu           sync.Mutex
	linkManagers map[string]LinkManager
	sessions     map[string]*TransportUnicast // keyed by remote PeerID.String()
	groups       []*TransportMulticast
	closed       bool

	metrics metricsCounters
}

// NewManager returns a TransportManager configured with cfg.
func NewManager(cfg TransportConfig) *TransportManager {
	return &TransportManager{
		cfg:          cfg,
		linkManagers: make(map[string]LinkManager),
		sessions:     make(map[string]*TransportUnicast),
	}
}

// RegisterLinkManager makes lm available for Dial/Listen by its declared
// protocol name.
func (m *TransportManager) RegisterLinkManager(lm LinkManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkManagers[lm.Protocol()] = lm
}

// Metrics returns a snapshot of session/link/delivery counters.
func (m *TransportManager) Metrics() Metrics {
	return m.metrics.snapshot()
}

// OpenUnicast establishes (or reuses) a session with the peer at ep,
// running the InitSyn/InitAck/OpenSyn/OpenAck handshake over a freshly
// dialed link. Calling OpenUnicast again for a peer this manager already
// holds a session with returns the existing session instead of opening a
// second one (spec.md §8: open_transport is idempotent).
func (m *TransportManager) OpenUnicast(ctx context.Context, ep EndPoint, handler UnicastHandler) (*TransportUnicast, error) {
	lm, err := m.linkManagerFor(string(ep.Locator.Protocol))
	if err != nil {
		return nil, err
	}
	link, err := lm.Dial(ctx, ep)
	if err != nil {
		return nil, wrapf(ErrIoError, err, "OpenUnicast: dial %s", ep)
	}
	return m.handshakeInitiator(ctx, link, handler)
}

// AcceptUnicast runs the responder side of the handshake over an already
// transport-connected inbound link (as delivered by a LinkManager's Listen
// callback), registering the resulting session.
func (m *TransportManager) AcceptUnicast(ctx context.Context, link Link, handler UnicastHandler) (*TransportUnicast, error) {
	return m.handshakeResponder(ctx, link, handler)
}

func (m *TransportManager) linkManagerFor(protocol string) (LinkManager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lm, ok := m.linkManagers[protocol]
	if !ok {
		return nil, newError(ErrInvalidLocator, nil)
	}
	return lm, nil
}

func (m *TransportManager) handshakeInitiator(ctx context.Context, link Link, handler UnicastHandler) (*TransportUnicast, error) {
	cfg := establishment.Config{
		PeerID:       m.cfg.PeerID,
		WhatAmI:      m.cfg.WhatAmI,
		SnResolution: m.cfg.SnResolution,
		IsQoS:        m.cfg.IsQoS,
		Lease:        m.cfg.Lease,
		CookieKey:    m.cfg.CookieKey,
		CookieTTL:    m.cfg.CookieTTL,
	}
	if err := sendBody(ctx, link, establishment.BuildInitSyn(cfg)); err != nil {
		return nil, err
	}
	ackBody, err := recvBody(ctx, link)
	if err != nil {
		return nil, err
	}
	if c, ok := ackBody.(*frames.Close); ok {
		return nil, closeErr(c)
	}
	ack, ok := ackBody.(*frames.InitAck)
	if !ok {
		return nil, newError(ErrInvalidMessage, nil)
	}
	if err := sendBody(ctx, link, establishment.BuildOpenSyn(ack, cfg.Lease, 0)); err != nil {
		return nil, err
	}
	openAckBody, err := recvBody(ctx, link)
	if err != nil {
		return nil, err
	}
	if c, ok := openAckBody.(*frames.Close); ok {
		return nil, closeErr(c)
	}
	openAck, ok := openAckBody.(*frames.OpenAck)
	if !ok {
		return nil, newError(ErrInvalidMessage, nil)
	}
	establishment.HandleOpenAck(openAck)
	return m.register(ctx, ack.PeerID, ack.WhatAmI, link, handler)
}

func closeErr(c *frames.Close) error {
	return wrapf(ErrOther, nil, "peer closed handshake: %s", c.Reason)
}

func (m *TransportManager) handshakeResponder(ctx context.Context, link Link, handler UnicastHandler) (*TransportUnicast, error) {
	cfg := establishment.Config{
		PeerID:       m.cfg.PeerID,
		WhatAmI:      m.cfg.WhatAmI,
		SnResolution: m.cfg.SnResolution,
		IsQoS:        m.cfg.IsQoS,
		Lease:        m.cfg.Lease,
		CookieKey:    m.cfg.CookieKey,
		CookieTTL:    m.cfg.CookieTTL,
	}
	synBody, err := recvBody(ctx, link)
	if err != nil {
		return nil, err
	}
	syn, ok := synBody.(*frames.InitSyn)
	if !ok {
		return nil, newError(ErrInvalidMessage, nil)
	}
	ack, err := establishment.HandleInitSyn(cfg, syn, time.Now())
	if err != nil {
		_ = sendBody(ctx, link, &frames.Close{Reason: frames.CloseUnsupportedVersion})
		return nil, wrapf(ErrInvalidMessage, err, "handshake: HandleInitSyn")
	}
	if err := sendBody(ctx, link, ack); err != nil {
		return nil, err
	}
	openSynBody, err := recvBody(ctx, link)
	if err != nil {
		return nil, err
	}
	openSyn, ok := openSynBody.(*frames.OpenSyn)
	if !ok {
		return nil, newError(ErrInvalidMessage, nil)
	}
	openAck, result, err := establishment.HandleOpenSyn(cfg, openSyn, time.Now())
	if err != nil {
		_ = sendBody(ctx, link, &frames.Close{Reason: frames.CloseInvalidCookie})
		return nil, wrapf(ErrInvalidMessage, err, "handshake: HandleOpenSyn")
	}
	if err := sendBody(ctx, link, openAck); err != nil {
		return nil, err
	}
	return m.register(ctx, result.PeerID, result.WhatAmI, link, handler)
}

// register binds link to a session for result's peer, reusing an existing
// session for that peer if one is already established. It enforces
// MaxSessions/MaxLinks (spec.md §4.3): a rejected link is told why over the
// wire with a Close before being closed.
func (m *TransportManager) register(ctx context.Context, peer PeerID, whatami WhatAmI, link Link, handler UnicastHandler) (*TransportUnicast, error) {
	key := peer.String()
	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok && !existing.IsClosed() {
		m.mu.Unlock()
		if err := existing.addLink(link); err != nil {
			m.rejectLink(ctx, link, frames.CloseMaxLinks)
			return nil, err
		}
		return existing, nil
	}
	if m.closed {
		m.mu.Unlock()
		_ = link.Close()
		return nil, newError(ErrInvalidLink, nil)
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		m.rejectLink(ctx, link, frames.CloseMaxSessions)
		return nil, newError(ErrOther, nil)
	}
	session := newTransportUnicast(m.cfg, peer, whatami, handler, &m.metrics)
	m.sessions[key] = session
	m.mu.Unlock()

	m.metrics.incSessions(1)
	if err := session.addLink(link); err != nil {
		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()
		m.metrics.incSessions(-1)
		m.rejectLink(ctx, link, frames.CloseMaxLinks)
		return nil, err
	}
	go func() {
		<-session.Done()
		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()
		m.metrics.incSessions(-1)
	}()
	return session, nil
}

// rejectLink notifies link's peer why it is being refused before closing
// the link.
func (m *TransportManager) rejectLink(ctx context.Context, link Link, reason frames.CloseReason) {
	_ = sendBody(ctx, link, &frames.Close{Reason: reason})
	_ = link.Close()
}

// JoinMulticast opens a group session on bus (usually backed by a
// LinkManager-independent multicast Bus, e.g. internal/testlink in tests).
func (m *TransportManager) JoinMulticast(bus Bus, handler MulticastHandler) *TransportMulticast {
	group := JoinMulticast(m.cfg, bus, handler, m.cfg.KeepAlive)
	m.mu.Lock()
	m.groups = append(m.groups, group)
	m.mu.Unlock()
	return group
}

// Close shuts down every session and group session this manager owns.
func (m *TransportManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*TransportUnicast, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	groups := append([]*TransportMulticast(nil), m.groups...)
	m.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, g := range groups {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func sendBody(ctx context.Context, link Link, body frames.Body) error {
	raw, err := encodeBody(body)
	if err != nil {
		return wrapf(ErrInvalidMessage, err, "sendBody: encode %s", body.Kind())
	}
	if err := link.Send(ctx, raw); err != nil {
		return wrapf(ErrIoError, err, "sendBody: send %s", body.Kind())
	}
	return nil
}

func recvBody(ctx context.Context, link Link) (frames.Body, error) {
	raw, err := link.Recv(ctx)
	if err != nil {
		return nil, wrapf(ErrIoError, err, "recvBody: recv")
	}
	body, err := frames.Read(buffer.NewConsumer(raw))
	if err != nil {
		return nil, wrapf(ErrInvalidMessage, err, "recvBody: decode")
	}
	return body, nil
}
