package policy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"custodia/pkg/domain"
	"custodia/pkg/sentinel"
)

// PostgresLease keeps lease rows in the policy schema. The upsert only wins
// when the existing row is expired or already ours, so two engines racing on
// the same entity type cannot both proceed.
type PostgresLease struct {
	db *sql.DB
}

func NewPostgresLease(db *sql.DB) *PostgresLease {
	return &PostgresLease{db: db}
}

func (l *PostgresLease) Acquire(ctx context.Context, entityType domain.EntityType, holder string, ttl time.Duration) error {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO retention_leases (entity_type, holder, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (entity_type) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE retention_leases.expires_at < now()
		   OR retention_leases.holder = EXCLUDED.holder
	`, entityType.String(), holder, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrLeaseHeld
	}
	return nil
}

func (l *PostgresLease) Release(ctx context.Context, entityType domain.EntityType, holder string) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM retention_leases
		WHERE entity_type = $1 AND holder = $2
	`, entityType.String(), holder)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
