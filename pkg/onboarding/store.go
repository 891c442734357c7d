package onboarding

import (
	"context"
	"sync"

	"github.com/jllopis/semmesh/pkg/errors"
)

// Store persists participant records.
type Store interface {
	Put(ctx context.Context, record ParticipantRecord) error
	Get(ctx context.Context, id string) (ParticipantRecord, error)
	List(ctx context.Context) ([]ParticipantRecord, error)
}

// MemoryStore keeps participant records in memory. Suitable for tests and
// single-run nodes that don't need onboarding state to survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]ParticipantRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]ParticipantRecord)}
}

func (s *MemoryStore) Put(ctx context.Context, record ParticipantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (ParticipantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return ParticipantRecord{}, errors.New(errors.CodeNotFound, "participant not found", nil).
			WithAttribute("participant", id)
	}
	return record, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]ParticipantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ParticipantRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out, nil
}
