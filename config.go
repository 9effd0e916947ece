package transport

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/janu-io/janu-go/internal/cookie"
)

// TransportConfig holds everything a TransportManager needs to establish
// and run sessions: local identity and the tuning knobs for the
// conduit/pipeliner machinery. It holds no endpoints.
type TransportConfig struct {
	PeerID       PeerID
	WhatAmI      WhatAmI
	SnResolution uint64
	IsQoS        bool
	Lease        time.Duration
	KeepAlive    time.Duration

	// MTU bounds the size of a single Frame/Fragment payload.
	MTU int
	// WindowSize bounds in-flight unacknowledged frames per reliable
	// conduit.
	WindowSize int
	// RetransmitHz paces congestion-controlled retransmission.
	RetransmitHz float64

	// MaxSessions caps the number of distinct peers this manager will
	// register a unicast session for, and the number of distinct peers a
	// group session will track from multicast Join announcements
	// (spec.md §4.3/§4.5). Zero means unbounded.
	MaxSessions int
	// MaxLinks caps the number of physical links striped into a single
	// unicast session (spec.md §4.3). Zero means unbounded.
	MaxLinks int

	CookieKey cookie.Key
	CookieTTL time.Duration
}

// DefaultConfig returns a TransportConfig with a fresh random PeerID and
// the tuning defaults spec.md's reference implementation assumes.
func DefaultConfig() TransportConfig {
	var key cookie.Key
	_, _ = rand.Read(key[:])
	var pid [8]byte
	_, _ = rand.Read(pid[:])
	return TransportConfig{
		PeerID:       PeerID(pid[:]),
		WhatAmI:      Peer,
		SnResolution: 1 << 28,
		Lease:        10 * time.Second,
		KeepAlive:    3 * time.Second,
		MTU:          65_535,
		WindowSize:   128,
		RetransmitHz: 20,
		MaxSessions:  0,
		MaxLinks:     0,
		CookieKey:    key,
		CookieTTL:    time.Minute,
	}
}

var janHomeOnce sync.Once
var janHomeValue string

// JanuHome resolves and caches the process-wide home directory used for
// any on-disk state (spec.md §6/§9): $JANU_HOME if set, else
// $HOME/.janu, else the literal ".janu" in the working directory.
func JanuHome() string {
	janHomeOnce.Do(func() {
		if v := os.Getenv("JANU_HOME"); v != "" {
			janHomeValue = v
			return
		}
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			janHomeValue = filepath.Join(home, ".janu")
			return
		}
		janHomeValue = ".janu"
	})
	return janHomeValue
}

