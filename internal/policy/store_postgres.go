package policy

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

func (s *PostgresStore) Insert(ctx context.Context, p RetentionPolicy) error {
	exec := txcontext.Resolve(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO policies (
			id, entity_type, retention_days, indefinite, strategy, basis,
			legal_basis, applies_to_deleted, raw_archive, version, active,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		uuid.UUID(p.ID),
		p.EntityType.String(),
		p.RetentionDays,
		p.Indefinite,
		p.Strategy.String(),
		p.Basis.String(),
		p.LegalBasis,
		p.AppliesToDeleted,
		p.RawArchive,
		p.Version,
		p.Active,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateActive(ctx context.Context, entityType domain.EntityType) (int, error) {
	exec := txcontext.Resolve(ctx, s.db)
	if _, err := exec.ExecContext(ctx, `
		UPDATE policies
		SET active = false, updated_at = now()
		WHERE entity_type = $1 AND active
	`, entityType.String()); err != nil {
		return 0, fmt.Errorf("deactivate policy: %w", err)
	}
	var highest sql.NullInt64
	if err := exec.QueryRowContext(ctx, `
		SELECT max(version) FROM policies WHERE entity_type = $1
	`, entityType.String()).Scan(&highest); err != nil {
		return 0, fmt.Errorf("load policy version: %w", err)
	}
	return int(highest.Int64), nil
}

func (s *PostgresStore) ActiveFor(ctx context.Context, entityType domain.EntityType) (RetentionPolicy, error) {
	exec := txcontext.Resolve(ctx, s.db)
	row := exec.QueryRowContext(ctx, selectPolicy+`
		WHERE entity_type = $1 AND active
	`, entityType.String())
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RetentionPolicy{}, sentinel.ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) History(ctx context.Context, entityType domain.EntityType) ([]RetentionPolicy, error) {
	exec := txcontext.Resolve(ctx, s.db)
	rows, err := exec.QueryContext(ctx, selectPolicy+`
		WHERE entity_type = $1
		ORDER BY version
	`, entityType.String())
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var out []RetentionPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const selectPolicy = `
	SELECT id, entity_type, retention_days, indefinite, strategy, basis,
		   legal_basis, applies_to_deleted, raw_archive, version, active,
		   created_at, updated_at
	FROM policies
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (RetentionPolicy, error) {
	var (
		p        RetentionPolicy
		id       uuid.UUID
		etype    string
		strategy string
		basis    string
	)
	err := row.Scan(&id, &etype, &p.RetentionDays, &p.Indefinite, &strategy,
		&basis, &p.LegalBasis, &p.AppliesToDeleted, &p.RawArchive,
		&p.Version, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return RetentionPolicy{}, err
	}
	p.ID = domain.PolicyID(id)
	p.EntityType = domain.EntityType(etype)
	p.Strategy = domain.ArchiveStrategy(strategy)
	p.Basis = domain.RetentionBasis(basis)
	return p, nil
}
