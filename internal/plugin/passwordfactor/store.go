package passwordfactor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/model"
)

// MemoryStore keeps factor records in memory. Suitable for tests and
// single-process deployments; production setups plug in their own Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]Record)}
}

func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, model.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Put(_ context.Context, userID uuid.UUID, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[userID] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, userID)
	return nil
}
