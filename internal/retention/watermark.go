package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"custodia/pkg/domain"
)

// WatermarkStore remembers the last processed record ID per entity type and
// run day. Re-running on the same day resumes past the watermark instead of
// reprocessing; a new day starts fresh.
type WatermarkStore interface {
	Get(ctx context.Context, entityType domain.EntityType, runDay string) (string, error)
	Set(ctx context.Context, entityType domain.EntityType, runDay, lastID string) error
}

// RunDay formats the watermark day key.
func RunDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

type watermarkKey struct {
	entityType domain.EntityType
	runDay     string
}

// InMemoryWatermarks backs tests and dry runs.
type InMemoryWatermarks struct {
	mu    sync.RWMutex
	marks map[watermarkKey]string
}

func NewInMemoryWatermarks() *InMemoryWatermarks {
	return &InMemoryWatermarks{marks: make(map[watermarkKey]string)}
}

func (s *InMemoryWatermarks) Get(_ context.Context, entityType domain.EntityType, runDay string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marks[watermarkKey{entityType, runDay}], nil
}

func (s *InMemoryWatermarks) Set(_ context.Context, entityType domain.EntityType, runDay, lastID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[watermarkKey{entityType, runDay}] = lastID
	return nil
}

// PostgresWatermarks persists watermarks so a crashed run resumes where it
// stopped.
type PostgresWatermarks struct {
	db *sql.DB
}

func NewPostgresWatermarks(db *sql.DB) *PostgresWatermarks {
	return &PostgresWatermarks{db: db}
}

func (s *PostgresWatermarks) Get(ctx context.Context, entityType domain.EntityType, runDay string) (string, error) {
	var lastID string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_id FROM retention_watermarks
		WHERE entity_type = $1 AND run_day = $2
	`, entityType.String(), runDay).Scan(&lastID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load watermark: %w", err)
	}
	return lastID, nil
}

func (s *PostgresWatermarks) Set(ctx context.Context, entityType domain.EntityType, runDay, lastID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_watermarks (entity_type, run_day, last_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_type, run_day) DO UPDATE
		SET last_id = EXCLUDED.last_id, updated_at = now()
	`, entityType.String(), runDay, lastID)
	if err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}
