package transport

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/janu-io/janu-go/internal/testlink"
)

// busAdapter wraps *testlink.Bus (a generic in-memory fan-out bus with no
// dependency on this package) to satisfy the Bus interface, whose
// Subscribe method returns the root package's BusSubscription type.
type busAdapter struct{ *testlink.Bus }

func (b busAdapter) Subscribe() BusSubscription { return b.Bus.Subscribe() }

type peerEvent struct {
	peer PeerID
	del  bool
}

type recordingMulticastHandler struct {
	NopMulticastHandler
	events chan peerEvent
}

func newRecordingMulticastHandler() *recordingMulticastHandler {
	return &recordingMulticastHandler{events: make(chan peerEvent, 16)}
}

func (h *recordingMulticastHandler) NewPeer(_ *TransportMulticast, peer PeerID) {
	h.events <- peerEvent{peer: peer}
}

func (h *recordingMulticastHandler) DelPeer(_ *TransportMulticast, peer PeerID) {
	h.events <- peerEvent{peer: peer, del: true}
}

func TestMulticastDiscoversAndEvictsPeer(t *testing.T) {
	bus := busAdapter{testlink.NewBus()}

	cfgA := testConfig(10)
	cfgA.Lease = 100 * time.Millisecond
	cfgB := testConfig(20)
	cfgB.Lease = 100 * time.Millisecond

	hb := newRecordingMulticastHandler()
	groupA := JoinMulticast(cfgA, bus, NopMulticastHandler{}, 20*time.Millisecond)
	groupB := JoinMulticast(cfgB, bus, hb, 20*time.Millisecond)
	defer groupA.Close()

	select {
	case ev := <-hb.events:
		if ev.del {
			t.Fatal("expected NewPeer, got DelPeer")
		}
		if !ev.peer.Equal(cfgA.PeerID) {
			t.Fatalf("got peer %v, want %v", ev.peer, cfgA.PeerID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NewPeer")
	}

	if err := groupA.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case ev := <-hb.events:
		if !ev.del {
			t.Fatal("expected DelPeer")
		}
		if !ev.peer.Equal(cfgA.PeerID) {
			t.Fatalf("got peer %v, want %v", ev.peer, cfgA.PeerID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DelPeer after lease expiry")
	}

	if err := groupB.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMulticastTeardownLeavesNoGoroutinesRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := busAdapter{testlink.NewBus()}
	cfgA := testConfig(50)
	cfgA.Lease = 100 * time.Millisecond

	group := JoinMulticast(cfgA, bus, NopMulticastHandler{}, 20*time.Millisecond)
	if err := group.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMulticastPeersListsKnownPeers(t *testing.T) {
	bus := busAdapter{testlink.NewBus()}
	cfgA := testConfig(30)
	cfgB := testConfig(40)

	groupA := JoinMulticast(cfgA, bus, NopMulticastHandler{}, 20*time.Millisecond)
	groupB := JoinMulticast(cfgB, bus, NopMulticastHandler{}, 20*time.Millisecond)
	defer groupA.Close()
	defer groupB.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(groupA.Peers()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	peers := groupA.Peers()
	if len(peers) != 1 || !peers[0].Equal(cfgB.PeerID) {
		t.Fatalf("groupA.Peers() = %v, want [%v]", peers, cfgB.PeerID)
	}
}
