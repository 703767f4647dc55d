package sched

import "sync/atomic"

// Clock is a monotonic logical clock used to order callbacks and events.
//
// Every scheduled callback and every posted event is stamped with a strictly
// increasing seq from this clock. Ordering never depends on wall time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations), but
// in practice only the timeline goroutine calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
