// Package transport implements janu's peer-to-peer transport core: wire
// codec, link abstraction, unicast and multicast establishment, and the
// per-conduit reliability and congestion-control machinery that sit below
// pub/sub, query, and storage-query traffic.
package transport

import (
	"github.com/janu-io/janu-go/internal/encoding"
)

// PeerID identifies a peer for the lifetime of a transport instance.
type PeerID = encoding.PeerID

// WhatAmI classifies a peer's role in the network.
type WhatAmI = encoding.WhatAmI

const (
	Router WhatAmI = encoding.Router
	Peer   WhatAmI = encoding.Peer
	Client WhatAmI = encoding.Client
)

// Locator names a physical endpoint by protocol and address.
type Locator = encoding.Locator

// EndPoint is a Locator plus protocol-specific configuration properties.
type EndPoint = encoding.EndPoint

// ParseEndPoint parses an endpoint string of the form
// "protocol/address[?key=value&key=value]".
func ParseEndPoint(s string) (EndPoint, error) { return encoding.ParseEndPoint(s) }

// Priority is one of the 8 conduit priority levels.
type Priority = encoding.Priority

const (
	PriorityControl         = encoding.Control
	PriorityRealTime         = encoding.RealTime
	PriorityInteractiveHigh  = encoding.InteractiveHigh
	PriorityInteractiveLow   = encoding.InteractiveLow
	PriorityDataHigh         = encoding.DataHigh
	PriorityData             = encoding.Data
	PriorityDataLow          = encoding.DataLow
	PriorityBackground       = encoding.Background
)

// Reliability selects whether a conduit guarantees delivery.
type Reliability = encoding.Reliability

const (
	Reliable   = encoding.Reliable
	BestEffort = encoding.BestEffort
)

// Channel identifies a conduit: a (priority, reliability) pair.
type Channel = encoding.Channel

// CongestionControl is the producer-side policy applied when a conduit's
// send window is full.
type CongestionControl = encoding.CongestionControl

const (
	Block = encoding.Block
	Drop  = encoding.Drop
)

// ResKey identifies a resource, by numeric id, name, or both.
type ResKey = encoding.ResKey
