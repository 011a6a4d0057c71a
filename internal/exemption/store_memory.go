package exemption

import (
	"context"
	"sync"
	"time"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
)

type recordKey struct {
	entityType domain.EntityType
	entityID   string
}

type InMemoryStore struct {
	mu    sync.RWMutex
	byID  map[domain.ExemptionID]Exemption
	byRec map[recordKey][]domain.ExemptionID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[domain.ExemptionID]Exemption),
		byRec: make(map[recordKey][]domain.ExemptionID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, ex Exemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[ex.ID]; dup {
		return sentinel.ErrConflict
	}
	s.byID[ex.ID] = ex
	key := recordKey{ex.EntityType, ex.EntityID}
	s.byRec[key] = append(s.byRec[key], ex.ID)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.ExemptionID) (Exemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.byID[id]
	if !ok {
		return Exemption{}, sentinel.ErrNotFound
	}
	return ex, nil
}

func (s *InMemoryStore) ActiveFor(_ context.Context, entityType domain.EntityType, entityID string) ([]Exemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Exemption
	for _, id := range s.byRec[recordKey{entityType, entityID}] {
		if ex := s.byID[id]; ex.Active {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Deactivate(_ context.Context, id domain.ExemptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	ex.Active = false
	ex.UpdatedAt = time.Now().UTC()
	s.byID[id] = ex
	return nil
}
