package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time a DeterministicClock maps seq 0 to.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock provides a thread-safe monotonic clock for fakes and tests.
//
// Each call to Now advances the clock by one tick and returns Epoch plus
// that many seconds, so records created later always compare later and the
// same sequence of calls always yields the same timestamps.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now advances the clock and returns the matching wall time.
// Its signature matches time.Now so it can be injected as a clock func.
func (c *DeterministicClock) Now() time.Time {
	return At(c.Next())
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// At returns the wall time for tick seq.
func At(seq int64) time.Time {
	return Epoch.Add(time.Duration(seq) * time.Second)
}
