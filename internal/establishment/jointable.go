package establishment

import (
	"sync"
	"time"

	"github.com/janu-io/janu-go/internal/encoding"
	"github.com/janu-io/janu-go/internal/frames"
)

// PeerEntry is one row of a multicast PeerTable: everything learned about a
// peer from its Join announcements.
type PeerEntry struct {
	PeerID       encoding.PeerID
	WhatAmI      encoding.WhatAmI
	SnResolution uint64
	Lease        time.Duration
	LastSeen     time.Time
}

func (e *PeerEntry) expired(now time.Time) bool {
	return now.Sub(e.LastSeen) > e.Lease
}

// PeerTable tracks peers discovered on a multicast locator via Join
// messages, evicting any whose lease has lapsed without a refresh
// (spec.md §4.3).
type PeerTable struct {
	mu      sync.Mutex
	entries map[string]*PeerEntry
}

// NewPeerTable returns an empty PeerTable.
func NewPeerTable() *PeerTable {
	return &PeerTable{entries: make(map[string]*PeerEntry)}
}

// BuildJoin announces (or refreshes) the local peer's presence, carrying
// the initial sequence number of every conduit so newly discovered peers
// and this one start a reliable conduit in sync.
func BuildJoin(cfg Config, initialSNs []frames.ConduitInitialSN) *frames.Join {
	return &frames.Join{
		PeerID:       cfg.PeerID,
		WhatAmI:      cfg.WhatAmI,
		LeaseMillis:  uint64(cfg.Lease / time.Millisecond),
		SnResolution: cfg.SnResolution,
		InitialSNs:   initialSNs,
	}
}

// Touch records (or refreshes) the peer named by join, returning true if
// this is the first time the peer has been seen. If maxPeers is positive
// and that many distinct peers are already known, a Join from a never-seen
// peer is ignored rather than tracked (spec.md §4.5); refreshes of already
// known peers are never affected by the cap.
func (t *PeerTable) Touch(join *frames.Join, now time.Time, maxPeers int) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := join.PeerID.String()
	e, ok := t.entries[key]
	if !ok {
		if maxPeers > 0 && len(t.entries) >= maxPeers {
			return false
		}
		e = &PeerEntry{PeerID: join.PeerID}
		t.entries[key] = e
	}
	e.WhatAmI = join.WhatAmI
	e.SnResolution = join.SnResolution
	e.Lease = time.Duration(join.LeaseMillis) * time.Millisecond
	e.LastSeen = now
	return !ok
}

// Evict removes every peer whose lease has lapsed as of now, returning
// their ids.
func (t *PeerTable) Evict(now time.Time) []encoding.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []encoding.PeerID
	for key, e := range t.entries {
		if e.expired(now) {
			evicted = append(evicted, e.PeerID)
			delete(t.entries, key)
		}
	}
	return evicted
}

// Get returns the entry for pid, if present.
func (t *PeerTable) Get(pid encoding.PeerID) (PeerEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pid.String()]
	if !ok {
		return PeerEntry{}, false
	}
	return *e, true
}

// Len returns the number of currently tracked peers.
func (t *PeerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// List returns the ids of every currently tracked (non-evicted) peer.
func (t *PeerTable) List() []encoding.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]encoding.PeerID, 0, len(t.entries))
	for _, e := range t.entries {
		ids = append(ids, e.PeerID)
	}
	return ids
}
