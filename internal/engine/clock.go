package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps change log entries.
//
// Every applied mutation gets a strictly increasing seq. Wall-clock time is
// never used for ordering.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The engine draws seqs under its write lock so log order matches commit
// order.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, typically the last
// seq recorded in the change log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
