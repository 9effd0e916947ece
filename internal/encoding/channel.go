package encoding

import "github.com/pkg/errors"

// Priority is one of 8 levels, lower value meaning higher priority, per
// spec.md §3. It occupies the low 3 bits of a frame header byte.
type Priority uint8

const (
	Control Priority = iota
	RealTime
	InteractiveHigh
	InteractiveLow
	DataHigh
	Data
	DataLow
	Background
)

// NumPriorities is the size of the conduit priority space.
const NumPriorities = int(Background) + 1

func (p Priority) String() string {
	names := [...]string{"Control", "RealTime", "InteractiveHigh", "InteractiveLow", "DataHigh", "Data", "DataLow", "Background"}
	if int(p) < len(names) {
		return names[p]
	}
	return "Invalid"
}

// Valid reports whether p is one of the 8 defined priorities.
func (p Priority) Valid() bool {
	return p <= Background
}

// Reliability selects whether a conduit guarantees delivery.
type Reliability uint8

const (
	Reliable Reliability = iota
	BestEffort
)

func (r Reliability) String() string {
	if r == Reliable {
		return "Reliable"
	}
	return "BestEffort"
}

// Channel identifies a conduit: a (priority, reliability) pair, each with
// its own sequence-number space.
type Channel struct {
	Priority    Priority
	Reliability Reliability
}

// ErrInvalidChannel is returned for an out-of-range priority byte.
var ErrInvalidChannel = errors.New("encoding: invalid channel byte")

// Encode packs priority (low 3 bits) and reliability (bit 3) into one byte,
// matching the frame header layout from spec.md §4.1/§6.
func (c Channel) Encode() byte {
	b := byte(c.Priority) & 0x07
	if c.Reliability == Reliable {
		b |= 0x08
	}
	return b
}

// DecodeChannel unpacks a channel byte written by Channel.Encode.
func DecodeChannel(b byte) (Channel, error) {
	p := Priority(b & 0x07)
	if !p.Valid() {
		return Channel{}, ErrInvalidChannel
	}
	rel := BestEffort
	if b&0x08 != 0 {
		rel = Reliable
	}
	return Channel{Priority: p, Reliability: rel}, nil
}

// CongestionControl is the producer-side policy applied when a conduit's
// outbound queue is full.
type CongestionControl uint8

const (
	Block CongestionControl = iota
	Drop
)

func (c CongestionControl) String() string {
	if c == Block {
		return "Block"
	}
	return "Drop"
}
