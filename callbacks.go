package transport

// UnicastHandler receives lifecycle and data events for a TransportUnicast.
// Implementing a capability set instead of a single concrete handler type
// lets a caller ignore the events it doesn't care about by embedding
// NopUnicastHandler.
type UnicastHandler interface {
	// HandleMessage is invoked for every Message delivered on a conduit,
	// in sequence for Reliable conduits.
	HandleMessage(session *TransportUnicast, ch Channel, msg Message)
	// NewLink is invoked once a physical link is added to the session's
	// stripe set, before its rx task is started.
	NewLink(session *TransportUnicast, link Link)
	// DelLink is invoked when a physical link is removed from the
	// session's stripe set, whether by graceful close or failure.
	DelLink(session *TransportUnicast, link Link, cause error)
	// Closing is invoked once a close handshake has started, before any
	// link is torn down.
	Closing(session *TransportUnicast)
	// Closed is invoked once the session has reached its terminal state.
	Closed(session *TransportUnicast, cause error)
}

// NopUnicastHandler implements UnicastHandler with no-ops; embed it to
// override only the events you need.
type NopUnicastHandler struct{}

func (NopUnicastHandler) HandleMessage(*TransportUnicast, Channel, Message) {}
func (NopUnicastHandler) NewLink(*TransportUnicast, Link)                  {}
func (NopUnicastHandler) DelLink(*TransportUnicast, Link, error)           {}
func (NopUnicastHandler) Closing(*TransportUnicast)                        {}
func (NopUnicastHandler) Closed(*TransportUnicast, error)                  {}

// MulticastHandler receives lifecycle events for a TransportMulticast.
type MulticastHandler interface {
	// NewPeer is invoked the first time a peer's Join is observed.
	NewPeer(session *TransportMulticast, peer PeerID)
	// DelPeer is invoked once a peer's lease lapses without a refreshing
	// Join (spec.md §4.5).
	DelPeer(session *TransportMulticast, peer PeerID)
	// Closing is invoked once the group session has started closing.
	Closing(session *TransportMulticast)
	// Closed is invoked once the group session has reached its terminal
	// state.
	Closed(session *TransportMulticast, cause error)
}

// NopMulticastHandler implements MulticastHandler with no-ops.
type NopMulticastHandler struct{}

func (NopMulticastHandler) NewPeer(*TransportMulticast, PeerID) {}
func (NopMulticastHandler) DelPeer(*TransportMulticast, PeerID) {}
func (NopMulticastHandler) Closing(*TransportMulticast)         {}
func (NopMulticastHandler) Closed(*TransportMulticast, error)   {}
