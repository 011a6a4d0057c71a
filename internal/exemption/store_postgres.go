package exemption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
	txcontext "custodia/pkg/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, ex Exemption) error {
	exec := txcontext.Resolve(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO exemptions (
			id, entity_type, entity_id, reason, created_by,
			expires_at, active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		uuid.UUID(ex.ID),
		ex.EntityType.String(),
		ex.EntityID,
		ex.Reason,
		ex.CreatedBy,
		ex.ExpiresAt,
		ex.Active,
		ex.CreatedAt,
		ex.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exemption: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.ExemptionID) (Exemption, error) {
	exec := txcontext.Resolve(ctx, s.db)
	row := exec.QueryRowContext(ctx, selectExemption+` WHERE id = $1`, uuid.UUID(id))
	ex, err := scanExemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Exemption{}, sentinel.ErrNotFound
	}
	return ex, err
}

func (s *PostgresStore) ActiveFor(ctx context.Context, entityType domain.EntityType, entityID string) ([]Exemption, error) {
	exec := txcontext.Resolve(ctx, s.db)
	rows, err := exec.QueryContext(ctx, selectExemption+`
		WHERE entity_type = $1 AND entity_id = $2 AND active
	`, entityType.String(), entityID)
	if err != nil {
		return nil, fmt.Errorf("query exemptions: %w", err)
	}
	defer rows.Close()

	var out []Exemption
	for rows.Next() {
		ex, err := scanExemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Deactivate(ctx context.Context, id domain.ExemptionID) error {
	exec := txcontext.Resolve(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE exemptions
		SET active = false, updated_at = now()
		WHERE id = $1
	`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("deactivate exemption: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const selectExemption = `
	SELECT id, entity_type, entity_id, reason, created_by,
		   expires_at, active, created_at, updated_at
	FROM exemptions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExemption(row rowScanner) (Exemption, error) {
	var (
		ex    Exemption
		id    uuid.UUID
		etype string
	)
	err := row.Scan(&id, &etype, &ex.EntityID, &ex.Reason, &ex.CreatedBy,
		&ex.ExpiresAt, &ex.Active, &ex.CreatedAt, &ex.UpdatedAt)
	if err != nil {
		return Exemption{}, err
	}
	ex.ID = domain.ExemptionID(id)
	ex.EntityType = domain.EntityType(etype)
	return ex, nil
}
