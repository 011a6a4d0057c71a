package dsr

import (
	"context"
	"sync"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
)

// InMemoryStore backs the request workflow for tests and single-process use.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[domain.RequestID]Request
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[domain.RequestID]Request)}
}

func (s *InMemoryStore) Create(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[req.ID]; ok {
		return sentinel.ErrConflict
	}
	s.byID[req.ID] = req
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.RequestID) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[id]
	if !ok {
		return Request{}, sentinel.ErrNotFound
	}
	return req, nil
}

func (s *InMemoryStore) Update(_ context.Context, req Request, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	s.byID[req.ID] = req
	return nil
}
