package audit

import (
	"context"
	"sync"

	"custodia/pkg/domain"
)

// InMemoryStore keeps the ledger in a slice. Append order is ledger order.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	entry = Normalize(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) ListByTarget(_ context.Context, entityType domain.EntityType, entityID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.TargetEntityType == entityType && e.TargetEntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListByAction(_ context.Context, action domain.AuditAction) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.entries) - limit
	if start < 0 {
		start = 0
	}
	return append([]Entry{}, s.entries[start:]...), nil
}
