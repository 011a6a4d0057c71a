package vault

import (
	"context"
	"sync"
)

// MemoryKeyring keeps the version pointer in process. Tests and single-node
// deployments only; anything distributed needs the Postgres keyring.
type MemoryKeyring struct {
	mu      sync.Mutex
	version int
}

// NewMemoryKeyring starts at version 1.
func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{version: 1}
}

func (k *MemoryKeyring) CurrentVersion(_ context.Context) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.version, nil
}

func (k *MemoryKeyring) Advance(_ context.Context) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.version++
	return k.version, nil
}
