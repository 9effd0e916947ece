package transport

import (
	"context"
	"testing"
	"time"

	"github.com/janu-io/janu-go/internal/testlink"
)

// fakeLinkManager dials by handing the responder half of an in-memory
// stream pair straight to a peer manager's AcceptUnicast, skipping any
// real socket setup (spec.md §4.6: concrete link drivers are out of
// scope; only the LinkManager contract is exercised here).
type fakeLinkManager struct {
	protocol string
	peer     *TransportManager
	handler  UnicastHandler
}

func (f *fakeLinkManager) Protocol() string { return f.protocol }

func (f *fakeLinkManager) Dial(ctx context.Context, ep EndPoint) (Link, error) {
	connA, connB := testlink.NewConnPair()
	linkA := NewStreamLink(connA, 4096, EndPoint{}, ep)
	linkB := NewStreamLink(connB, 4096, ep, EndPoint{})
	go func() {
		_, _ = f.peer.AcceptUnicast(ctx, linkB, f.handler)
	}()
	return linkA, nil
}

func (f *fakeLinkManager) Listen(ctx context.Context, ep EndPoint, accept func(Link)) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestOpenUnicastIsIdempotent(t *testing.T) {
	a := NewManager(testConfig(101))
	b := NewManager(testConfig(102))
	defer a.Close()
	defer b.Close()

	a.RegisterLinkManager(&fakeLinkManager{protocol: "test", peer: b})

	ep := EndPoint{Locator: Locator{Protocol: "test", Address: "x"}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s1, err := a.OpenUnicast(ctx, ep, NopUnicastHandler{})
	if err != nil {
		t.Fatalf("OpenUnicast #1: %v", err)
	}
	s2, err := a.OpenUnicast(ctx, ep, NopUnicastHandler{})
	if err != nil {
		t.Fatalf("OpenUnicast #2: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected OpenUnicast to return the same session for the same peer")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.Metrics().Sessions != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := b.Metrics().Sessions; got != 1 {
		t.Fatalf("responder manager sessions = %d, want 1 (both dials should share one session)", got)
	}
}

func TestManagerCloseTearsDownSessions(t *testing.T) {
	a := NewManager(testConfig(111))
	b := NewManager(testConfig(112))
	defer b.Close()

	a.RegisterLinkManager(&fakeLinkManager{protocol: "test", peer: b})
	ep := EndPoint{Locator: Locator{Protocol: "test", Address: "x"}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := a.OpenUnicast(ctx, ep, NopUnicastHandler{})
	if err != nil {
		t.Fatalf("OpenUnicast: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s.IsClosed() {
		t.Fatal("expected session to be closed after manager Close")
	}
}

func TestMaxSessionsRejectsSessionBeyondCap(t *testing.T) {
	bCfg := testConfig(140)
	bCfg.MaxSessions = 1
	b := NewManager(bCfg)
	defer b.Close()

	a1 := NewManager(testConfig(141))
	defer a1.Close()
	a2 := NewManager(testConfig(142))
	defer a2.Close()

	a1.RegisterLinkManager(&fakeLinkManager{protocol: "test", peer: b})
	a2.RegisterLinkManager(&fakeLinkManager{protocol: "test", peer: b})
	ep := EndPoint{Locator: Locator{Protocol: "test", Address: "x"}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := a1.OpenUnicast(ctx, ep, NopUnicastHandler{}); err != nil {
		t.Fatalf("first OpenUnicast: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.Metrics().Sessions != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := b.Metrics().Sessions; got != 1 {
		t.Fatalf("responder manager sessions = %d, want 1 before the second dial", got)
	}

	s2, err := a2.OpenUnicast(ctx, ep, NopUnicastHandler{})
	if err != nil {
		t.Fatalf("second OpenUnicast (local handshake completes before the responder's rejection arrives): %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !s2.IsClosed() {
		time.Sleep(5 * time.Millisecond)
	}
	if !s2.IsClosed() {
		t.Fatal("expected the session beyond MaxSessions to be closed once the responder's rejection is received")
	}
	if got := b.Metrics().Sessions; got != 1 {
		t.Fatalf("responder manager sessions = %d, want 1", got)
	}
}

func TestAddLinkRejectsLinkBeyondMaxLinks(t *testing.T) {
	cfg := testConfig(150)
	cfg.MaxLinks = 1
	s := newTransportUnicast(cfg, PeerID{2}, Peer, NopUnicastHandler{}, nil)
	defer s.Close()

	connA, connB := testlink.NewConnPair()
	defer connB.Close()
	link1 := NewStreamLink(connA, 4096, EndPoint{}, EndPoint{})
	if err := s.addLink(link1); err != nil {
		t.Fatalf("first addLink: %v", err)
	}

	connC, connD := testlink.NewConnPair()
	defer connC.Close()
	defer connD.Close()
	link2 := NewStreamLink(connC, 4096, EndPoint{}, EndPoint{})
	if err := s.addLink(link2); err == nil {
		t.Fatal("expected addLink to fail once MaxLinks is reached")
	}
}
