package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custodia/pkg/domain"
	txcontext "custodia/pkg/tx"
)

// PostgresStore writes each entry to the audit_log table and mirrors it into
// the outbox table in the same statement batch. The ledger table is the
// source of truth; the outbox feeds the Kafka publisher. Neither table has an
// update or delete path in this package.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	entry = Normalize(entry)
	exec := txcontext.Resolve(ctx, s.db)

	_, err := exec.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, actor, action, target_entity_type, target_entity_id,
			outcome, detail, request_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		uuid.UUID(entry.ID),
		entry.Actor,
		entry.Action.String(),
		entry.TargetEntityType.String(),
		entry.TargetEntityID,
		entry.Outcome.String(),
		entry.Detail,
		entry.RequestID,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload, err := json.Marshal(outboxPayload{
		ID:               entry.ID.String(),
		Actor:            entry.Actor,
		Action:           entry.Action.String(),
		TargetEntityType: entry.TargetEntityType.String(),
		TargetEntityID:   entry.TargetEntityID,
		Outcome:          entry.Outcome.String(),
		Detail:           entry.Detail,
		RequestID:        entry.RequestID,
		Timestamp:        entry.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	if _, err := exec.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, payload, created_at)
		VALUES ($1, $2, $3)
	`, uuid.UUID(entry.ID), payload, entry.Timestamp); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID               string `json:"id"`
	Actor            string `json:"actor"`
	Action           string `json:"action"`
	TargetEntityType string `json:"target_entity_type"`
	TargetEntityID   string `json:"target_entity_id"`
	Outcome          string `json:"outcome"`
	Detail           string `json:"detail,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
	Timestamp        string `json:"timestamp"`
}

// OutboxRow is an unpublished ledger mirror row.
type OutboxRow struct {
	ID      uuid.UUID
	Payload []byte
}

// Unpublished returns up to limit outbox rows with no published marker, in
// insertion order.
func (s *PostgresStore) Unpublished(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPublished stamps outbox rows after a successful broker ack. The rows
// stay in the table; the ledger itself is never touched.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_outbox
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByTarget(ctx context.Context, entityType domain.EntityType, entityID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries+`
		WHERE target_entity_type = $1 AND target_entity_id = $2
		ORDER BY created_at
	`, entityType.String(), entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListByAction(ctx context.Context, action domain.AuditAction) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries+`
		WHERE action = $1
		ORDER BY created_at
	`, action.String())
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries+`
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

const selectEntries = `
	SELECT id, actor, action, target_entity_type, target_entity_id,
		   outcome, detail, request_id, created_at
	FROM audit_log
`

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			id      uuid.UUID
			action  string
			etype   string
			outcome string
		)
		if err := rows.Scan(&id, &e.Actor, &action, &etype, &e.TargetEntityID,
			&outcome, &e.Detail, &e.RequestID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = domain.AuditID(id)
		e.Action = domain.AuditAction(action)
		e.TargetEntityType = domain.EntityType(etype)
		e.Outcome = domain.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
