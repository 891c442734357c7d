package gossip

import (
	"context"
	"sync"
)

// FactLog retains applied facts for out-of-core readers (persistence and
// reporting layers). The log never participates in forwarding decisions.
type FactLog interface {
	Append(ctx context.Context, fact Fact) error
	Recent(ctx context.Context, limit int) ([]Fact, error)
}

// MemoryFactLog keeps the most recent facts in memory.
type MemoryFactLog struct {
	mu    sync.Mutex
	facts []Fact
	limit int
}

// NewMemoryFactLog creates a log bounded to limit facts (0 means 1000).
func NewMemoryFactLog(limit int) *MemoryFactLog {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryFactLog{limit: limit}
}

func (l *MemoryFactLog) Append(ctx context.Context, fact Fact) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.facts = append(l.facts, fact)
	if len(l.facts) > l.limit {
		l.facts = l.facts[len(l.facts)-l.limit:]
	}
	return nil
}

func (l *MemoryFactLog) Recent(ctx context.Context, limit int) ([]Fact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.facts) {
		limit = len(l.facts)
	}
	out := make([]Fact, limit)
	copy(out, l.facts[len(l.facts)-limit:])
	return out, nil
}
