package gossip

import (
	"sync"
	"time"
)

type seenEntry struct {
	id string
	at time.Time
}

// seenSet tracks fact ids already processed by this node. Retention is
// bounded two ways: entries expire after ttl, and when maxEntries is reached
// the oldest entries are evicted. Insertion order approximates time order, so
// both policies prune from the front of the queue.
type seenSet struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	queue      []seenEntry
	ttl        time.Duration
	maxEntries int
}

func newSeenSet(ttl time.Duration, maxEntries int) *seenSet {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &seenSet{
		entries:    make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// MarkIfNew atomically checks and marks an id. It returns true when the id
// was not present (or had expired), false for a duplicate. The check-then-
// mark runs under one lock so concurrent deliveries of the same fact cannot
// both be admitted.
func (s *seenSet) MarkIfNew(id string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.entries[id]; ok && now.Sub(at) <= s.ttl {
		return false
	}
	s.entries[id] = now
	s.queue = append(s.queue, seenEntry{id: id, at: now})
	s.pruneLocked(now)
	return true
}

// Len reports the live entry count.
func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries; the node's maintenance loop calls it so the
// set shrinks even without new inserts.
func (s *seenSet) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())
}

func (s *seenSet) pruneLocked(now time.Time) {
	// Expired entries first, then size overflow, both from the oldest end.
	// A re-marked id leaves a stale queue slot behind; the timestamp match
	// keeps those slots from deleting the live entry.
	cut := 0
	for cut < len(s.queue) {
		entry := s.queue[cut]
		expired := now.Sub(entry.at) > s.ttl
		if !expired && len(s.queue)-cut <= s.maxEntries {
			break
		}
		if at, ok := s.entries[entry.id]; ok && at.Equal(entry.at) {
			delete(s.entries, entry.id)
		}
		cut++
	}
	if cut > 0 {
		s.queue = append(s.queue[:0], s.queue[cut:]...)
	}
}
