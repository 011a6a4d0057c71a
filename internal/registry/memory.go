package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
)

// MemoryAccessor is an in-memory Accessor. It backs the engine's unit tests
// and gives product modules a reference implementation of the contract,
// including the ordered iteration ListExpired requires.
type MemoryAccessor struct {
	mu         sync.RWMutex
	entityType domain.EntityType
	records    map[string]Record
	// parentOf links a record to its parent record for cascade deletes.
	parentOf map[string]string
}

// NewMemoryAccessor returns an empty accessor for the entity type.
func NewMemoryAccessor(t domain.EntityType) *MemoryAccessor {
	return &MemoryAccessor{
		entityType: t,
		records:    make(map[string]Record),
		parentOf:   make(map[string]string),
	}
}

// Put inserts or replaces a record.
func (m *MemoryAccessor) Put(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.EntityType = m.entityType
	m.records[rec.ID] = rec
}

// PutChild inserts a record linked to a parent record of another type.
func (m *MemoryAccessor) PutChild(rec Record, parentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.EntityType = m.entityType
	m.records[rec.ID] = rec
	m.parentOf[rec.ID] = parentID
}

// Len returns the number of live records.
func (m *MemoryAccessor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryAccessor) basisTime(rec Record, basis domain.RetentionBasis) (time.Time, bool) {
	switch basis {
	case domain.BasisLastActivity:
		return rec.LastActivityAt, true
	case domain.BasisSoftDelete:
		if rec.DeletedAt == nil {
			return time.Time{}, false
		}
		return *rec.DeletedAt, true
	default:
		return rec.CreatedAt, true
	}
}

func (m *MemoryAccessor) ListExpired(_ context.Context, q ExpiryQuery) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Record
	for _, id := range ids {
		if q.AfterID != "" && id <= q.AfterID {
			continue
		}
		rec := m.records[id]
		if rec.DeletedAt != nil && !q.IncludeDeleted {
			continue
		}
		ts, ok := m.basisTime(rec, q.Basis)
		if !ok || ts.After(q.Cutoff) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryAccessor) ListBySubject(_ context.Context, subject domain.SubjectID) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.records {
		if rec.SubjectID == subject {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryAccessor) Fetch(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}

func (m *MemoryAccessor) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(m.records, id)
	delete(m.parentOf, id)
	return nil
}

func (m *MemoryAccessor) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	now := time.Now()
	rec.DeletedAt = &now
	m.records[id] = rec
	return nil
}

func (m *MemoryAccessor) Anonymize(_ context.Context, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	for field, placeholder := range fields {
		if _, present := rec.Fields[field]; present {
			rec.Fields[field] = placeholder
		}
	}
	m.records[id] = rec
	return nil
}

func (m *MemoryAccessor) ListChildIDs(_ context.Context, _ domain.EntityType, parentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, pid := range m.parentOf {
		if pid == parentID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryAccessor) DeleteChildrenOf(_ context.Context, _ domain.EntityType, parentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pid := range m.parentOf {
		if pid == parentID {
			delete(m.records, id)
			delete(m.parentOf, id)
		}
	}
	return nil
}
