package encoding

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/janu-io/janu-go/internal/buffer"
)

// MaxPeerIDLen is the largest a PeerID may be, per spec.
const MaxPeerIDLen = 16

// ErrInvalidPeerID is returned for a PeerID outside 1..=16 bytes.
var ErrInvalidPeerID = errors.New("encoding: peer id must be 1..=16 bytes")

// PeerID is an opaque session identifier, 1 to 16 bytes. Ordering is total:
// first by length, then lexicographically, which gives establishment a
// cheap, deterministic initiator tie-break.
type PeerID []byte

// Validate reports whether p is a well-formed PeerID.
func (p PeerID) Validate() error {
	if len(p) < 1 || len(p) > MaxPeerIDLen {
		return ErrInvalidPeerID
	}
	return nil
}

// Compare implements the length-then-bytes total order from spec.md §3.
// It returns -1, 0 or 1.
func (p PeerID) Compare(other PeerID) int {
	if len(p) != len(other) {
		if len(p) < len(other) {
			return -1
		}
		return 1
	}
	return bytes.Compare(p, other)
}

// Equal reports whether p and other identify the same peer.
func (p PeerID) Equal(other PeerID) bool {
	return bytes.Equal(p, other)
}

// String renders the PeerID as hex, for logging.
func (p PeerID) String() string {
	const hex = "0123456789abcdef"
	out := make([]byte, 0, len(p)*2)
	for _, b := range p {
		out = append(out, hex[b>>4], hex[b&0xf])
	}
	return string(out)
}

// WritePeerID writes a length byte followed by the raw peer id bytes.
func WritePeerID(buf *buffer.Buffer, p PeerID) bool {
	buf.Mark()
	if !buf.WriteByte(byte(len(p))) {
		buf.RevertToMark()
		return false
	}
	if !buf.Write(p) {
		buf.RevertToMark()
		return false
	}
	return true
}

// ReadPeerID reads a length-prefixed peer id.
func ReadPeerID(buf *buffer.Buffer) (PeerID, error) {
	n, err := buf.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "ReadPeerID: length")
	}
	p, err := buf.ReadN(int(n))
	if err != nil {
		return nil, errors.Wrap(err, "ReadPeerID: body")
	}
	id := PeerID(append([]byte(nil), p...))
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

// WhatAmI is a bit-flag set of {Router, Peer, Client}, used in scouting
// filters and establishment.
type WhatAmI uint8

const (
	Router WhatAmI = 1 << iota
	Peer
	Client
)

func (w WhatAmI) String() string {
	switch w {
	case Router:
		return "Router"
	case Peer:
		return "Peer"
	case Client:
		return "Client"
	default:
		return "Unknown"
	}
}

// Is reports whether w includes the flags in mask.
func (w WhatAmI) Is(mask WhatAmI) bool {
	return w&mask != 0
}
