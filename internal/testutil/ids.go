package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs hands out readable, predictable IDs per prefix:
// "unit-1", "unit-2", "lesson-1", ...
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewSequentialIDs creates a generator with all counters at zero.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{counters: make(map[string]int)}
}

// Next returns the next ID for prefix.
func (g *SequentialIDs) Next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[prefix]++
	return fmt.Sprintf("%s-%d", prefix, g.counters[prefix])
}

// FixedIDs returns predetermined IDs in order, regardless of prefix.
//
// Panics once all IDs have been consumed; a test that creates more
// records than it planned for is misconfigured.
type FixedIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDs creates a generator that returns ids in order.
func NewFixedIDs(ids ...string) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// Next returns the next predetermined ID. The prefix is ignored.
func (g *FixedIDs) Next(string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedIDs: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
