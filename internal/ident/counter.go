package ident

import "sync/atomic"

// Counter allocates strictly increasing ordinals for one session.
//
// The first call to Next returns 1. Reset starts a new session's sequence;
// ordinals are never reused within a session.
//
// Thread-safety: Counter is safe for concurrent use (atomic operations).
type Counter struct {
	seq atomic.Int64
}

// NewCounter creates a counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter whose next ordinal is start+1.
func NewCounterAt(start int64) *Counter {
	c := &Counter{}
	c.seq.Store(start)
	return c
}

// Next returns the next ordinal and increments the counter.
func (c *Counter) Next() int64 {
	return c.seq.Add(1)
}

// NextID returns the next ordinal already encoded as an identifier.
func (c *Counter) NextID() string {
	return Encode(c.Next())
}

// Current returns the last allocated ordinal without incrementing.
func (c *Counter) Current() int64 {
	return c.seq.Load()
}

// Reset returns the counter to 0 so the next ordinal is 1 again.
func (c *Counter) Reset() {
	c.seq.Store(0)
}
