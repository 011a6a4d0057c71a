package retention

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
	txcontext "custodia/pkg/tx"
)

// Snapshot is what the archive store keeps of a record after the source is
// soft-deleted. Fields hold the classification-aware snapshot: restricted
// values stay encrypted unless the policy asked for a raw archive.
type Snapshot struct {
	ID         uuid.UUID
	EntityType domain.EntityType
	EntityID   string
	SubjectID  domain.SubjectID
	Fields     map[string]any
	TakenAt    time.Time
}

// ArchiveStore persists snapshots.
type ArchiveStore interface {
	Save(ctx context.Context, snap Snapshot) error
	FindByEntity(ctx context.Context, entityType domain.EntityType, entityID string) (Snapshot, error)
}

// InMemoryArchive backs tests.
type InMemoryArchive struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewInMemoryArchive() *InMemoryArchive {
	return &InMemoryArchive{snaps: make(map[string]Snapshot)}
}

func archiveKey(t domain.EntityType, id string) string {
	return t.String() + "/" + id
}

func (s *InMemoryArchive) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[archiveKey(snap.EntityType, snap.EntityID)] = snap
	return nil
}

func (s *InMemoryArchive) FindByEntity(_ context.Context, entityType domain.EntityType, entityID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[archiveKey(entityType, entityID)]
	if !ok {
		return Snapshot{}, sentinel.ErrNotFound
	}
	return snap, nil
}

// PostgresArchive stores snapshots with the field map serialized as JSONB.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

func (s *PostgresArchive) Save(ctx context.Context, snap Snapshot) error {
	fields, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("marshal snapshot fields: %w", err)
	}
	exec := txcontext.Resolve(ctx, s.db)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO archive_snapshots (id, entity_type, entity_id, subject_id, fields, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, snap.ID, snap.EntityType.String(), snap.EntityID, uuid.UUID(snap.SubjectID), fields, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresArchive) FindByEntity(ctx context.Context, entityType domain.EntityType, entityID string) (Snapshot, error) {
	exec := txcontext.Resolve(ctx, s.db)
	var (
		snap      Snapshot
		subjectID uuid.UUID
		fields    []byte
		etype     string
	)
	err := exec.QueryRowContext(ctx, `
		SELECT id, entity_type, entity_id, subject_id, fields, taken_at
		FROM archive_snapshots
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY taken_at DESC
		LIMIT 1
	`, entityType.String(), entityID).Scan(
		&snap.ID, &etype, &snap.EntityID, &subjectID, &fields, &snap.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap.EntityType = domain.EntityType(etype)
	snap.SubjectID = domain.SubjectID(subjectID)
	if err := json.Unmarshal(fields, &snap.Fields); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot fields: %w", err)
	}
	return snap, nil
}
