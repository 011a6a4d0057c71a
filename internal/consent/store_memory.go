package consent

import (
	"context"
	"sync"

	"custodia/pkg/domain"
)

type pairKey struct {
	userID  domain.SubjectID
	purpose string
}

type InMemoryStore struct {
	mu     sync.RWMutex
	byPair map[pairKey][]Record
	byUser map[domain.SubjectID][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byPair: make(map[pairKey][]Record),
		byUser: make(map[domain.SubjectID][]Record),
	}
}

func (s *InMemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{rec.UserID, rec.Purpose}
	s.byPair[key] = append(s.byPair[key], rec)
	s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec)
	return nil
}

func (s *InMemoryStore) ListByUserPurpose(_ context.Context, userID domain.SubjectID, purpose string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record{}, s.byPair[pairKey{userID, purpose}]...), nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID domain.SubjectID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record{}, s.byUser[userID]...), nil
}
