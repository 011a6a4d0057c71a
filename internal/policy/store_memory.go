package policy

import (
	"context"
	"sync"
	"time"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	versions map[domain.EntityType][]RetentionPolicy
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{versions: make(map[domain.EntityType][]RetentionPolicy)}
}

func (s *InMemoryStore) Insert(_ context.Context, p RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[p.EntityType] = append(s.versions[p.EntityType], p)
	return nil
}

func (s *InMemoryStore) DeactivateActive(_ context.Context, entityType domain.EntityType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.versions[entityType]
	highest := 0
	for i := range versions {
		if versions[i].Version > highest {
			highest = versions[i].Version
		}
		if versions[i].Active {
			versions[i].Active = false
			versions[i].UpdatedAt = time.Now().UTC()
		}
	}
	return highest, nil
}

func (s *InMemoryStore) ActiveFor(_ context.Context, entityType domain.EntityType) (RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.versions[entityType] {
		if p.Active {
			return p, nil
		}
	}
	return RetentionPolicy{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) History(_ context.Context, entityType domain.EntityType) ([]RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RetentionPolicy{}, s.versions[entityType]...), nil
}
