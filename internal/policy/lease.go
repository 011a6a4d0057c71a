package policy

import (
	"context"
	"sync"
	"time"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
)

// Lease enforces mutual exclusion of retention runs per entity type. A
// second concurrent acquire fails fast with sentinel.ErrLeaseHeld rather
// than queueing; the scheduler simply tries again next run.
type Lease interface {
	// Acquire takes the lease for the entity type. TTL bounds how long a
	// crashed holder can block the next run.
	Acquire(ctx context.Context, entityType domain.EntityType, holder string, ttl time.Duration) error
	// Release drops the lease if holder still owns it.
	Release(ctx context.Context, entityType domain.EntityType, holder string) error
}

type memoryLease struct {
	holder    string
	expiresAt time.Time
}

// MemoryLease is a process-local Lease for tests and single-node use.
type MemoryLease struct {
	mu     sync.Mutex
	leases map[domain.EntityType]memoryLease
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{leases: make(map[domain.EntityType]memoryLease)}
}

func (l *MemoryLease) Acquire(_ context.Context, entityType domain.EntityType, holder string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if cur, ok := l.leases[entityType]; ok && cur.expiresAt.After(now) && cur.holder != holder {
		return sentinel.ErrLeaseHeld
	}
	l.leases[entityType] = memoryLease{holder: holder, expiresAt: now.Add(ttl)}
	return nil
}

func (l *MemoryLease) Release(_ context.Context, entityType domain.EntityType, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[entityType]; ok && cur.holder == holder {
		delete(l.leases, entityType)
	}
	return nil
}
