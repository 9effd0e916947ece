package transport

import "sync/atomic"

// Metrics is a snapshot of a TransportManager's counters, in the spirit of
// a prometheus/common-style metrics surface (spec.md §4.6 expansion):
// plain named counters a caller can scrape or assert on in tests, without
// this module taking a dependency on a specific metrics backend.
type Metrics struct {
	Sessions  int64
	Links     int64
	Delivered int64
	Dropped   int64
}

type metricsCounters struct {
	sessions  int64
	links     int64
	delivered int64
	dropped   int64
}

func (c *metricsCounters) snapshot() Metrics {
	return Metrics{
		Sessions:  atomic.LoadInt64(&c.sessions),
		Links:     atomic.LoadInt64(&c.links),
		Delivered: atomic.LoadInt64(&c.delivered),
		Dropped:   atomic.LoadInt64(&c.dropped),
	}
}

func (c *metricsCounters) incSessions(delta int64)  { atomic.AddInt64(&c.sessions, delta) }
func (c *metricsCounters) incLinks(delta int64)     { atomic.AddInt64(&c.links, delta) }
func (c *metricsCounters) incDelivered(delta int64) { atomic.AddInt64(&c.delivered, delta) }
func (c *metricsCounters) incDropped(delta int64)   { atomic.AddInt64(&c.dropped, delta) }
