// Package establishment implements the unicast four-message handshake
// (InitSyn/InitAck/OpenSyn/OpenAck) and multicast peer discovery via Join,
// per spec.md §4.3. The responder stays stateless until OpenSyn by folding
// everything it needs to remember into the cookie (internal/cookie); the
// initiator/responder role for a simultaneous handshake is resolved by
// comparing PeerIDs, never by arrival order.
package establishment

import (
	"time"

	"github.com/pkg/errors"

	"github.com/janu-io/janu-go/internal/cookie"
	"github.com/janu-io/janu-go/internal/encoding"
	"github.com/janu-io/janu-go/internal/frames"
)

// ErrUnsupportedVersion is returned when a peer's InitSyn/InitAck names a
// protocol version this build does not speak.
var ErrUnsupportedVersion = errors.New("establishment: unsupported version")

// Version is the protocol version this build negotiates.
const Version = 1

// Config carries the local peer's identity and establishment policy.
type Config struct {
	PeerID       encoding.PeerID
	WhatAmI      encoding.WhatAmI
	SnResolution uint64
	IsQoS        bool
	Lease        time.Duration
	CookieKey    cookie.Key
	CookieTTL    time.Duration
}

// IsInitiator applies the tie-break rule for a simultaneous handshake
// between local and remote: the larger PeerID always initiates, so both
// sides converge on the same outcome without coordination (spec.md §4.3).
func IsInitiator(local, remote encoding.PeerID) bool {
	return local.Compare(remote) > 0
}

// BuildInitSyn produces the first handshake message, sent by the
// initiator.
func BuildInitSyn(cfg Config) *frames.InitSyn {
	return &frames.InitSyn{
		Version:          Version,
		WhatAmI:          cfg.WhatAmI,
		PeerID:           cfg.PeerID,
		SnResolutionPref: cfg.SnResolution,
		IsQoS:            cfg.IsQoS,
	}
}

// HandleInitSyn is the responder's reaction to an InitSyn: it mints an
// opaque cookie binding the initiator's parameters and replies with
// InitAck, without allocating any per-initiator state.
func HandleInitSyn(cfg Config, syn *frames.InitSyn, now time.Time) (*frames.InitAck, error) {
	if syn.Version != Version {
		return nil, ErrUnsupportedVersion
	}
	snResolution := cfg.SnResolution
	if syn.SnResolutionPref < snResolution {
		snResolution = syn.SnResolutionPref
	}
	raw, err := cookie.Mint(cfg.CookieKey, syn.PeerID, syn.WhatAmI, snResolution, now)
	if err != nil {
		return nil, errors.Wrap(err, "establishment: mint cookie")
	}
	return &frames.InitAck{
		WhatAmI:      cfg.WhatAmI,
		PeerID:       cfg.PeerID,
		SnResolution: snResolution,
		Cookie:       raw,
	}, nil
}

// BuildOpenSyn is the initiator's reaction to InitAck: it echoes the
// cookie unmodified and proposes a lease and initial sequence number.
func BuildOpenSyn(ack *frames.InitAck, lease time.Duration, initialSN uint64) *frames.OpenSyn {
	return &frames.OpenSyn{
		LeaseMillis: uint64(lease / time.Millisecond),
		InitialSN:   initialSN,
		Cookie:      ack.Cookie,
	}
}

// OpenResult is what the responder learns about the initiator once an
// OpenSyn's cookie has been verified.
type OpenResult struct {
	PeerID       encoding.PeerID
	WhatAmI      encoding.WhatAmI
	SnResolution uint64
}

// HandleOpenSyn is the responder's reaction to OpenSyn: it verifies the
// cookie (recovering the initiator's identity without having stored any
// state since InitSyn) and replies with OpenAck, completing establishment.
func HandleOpenSyn(cfg Config, syn *frames.OpenSyn, now time.Time) (*frames.OpenAck, OpenResult, error) {
	pid, whatami, snResolution, err := cookie.Verify(cfg.CookieKey, syn.Cookie, cfg.CookieTTL, now)
	if err != nil {
		return nil, OpenResult{}, errors.Wrap(err, "establishment: verify cookie")
	}
	return &frames.OpenAck{
			LeaseMillis: uint64(cfg.Lease / time.Millisecond),
			InitialSN:   0,
		}, OpenResult{
			PeerID:       pid,
			WhatAmI:      whatami,
			SnResolution: snResolution,
		}, nil
}

// HandleOpenAck is the initiator's final step: the session is now
// established with the responder's chosen lease.
func HandleOpenAck(ack *frames.OpenAck) (lease time.Duration) {
	return time.Duration(ack.LeaseMillis) * time.Millisecond
}
