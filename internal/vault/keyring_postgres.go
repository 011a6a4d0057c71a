package vault

import (
	"context"
	"database/sql"
	"fmt"

	txcontext "custodia/pkg/tx"
)

// PostgresKeyring stores the version pointer in a single-row table so every
// process sees a rotation immediately. Advance relies on the row update being
// atomic under the default isolation level.
type PostgresKeyring struct {
	db *sql.DB
}

// NewPostgresKeyring creates the keyring against an existing database.
func NewPostgresKeyring(db *sql.DB) *PostgresKeyring {
	return &PostgresKeyring{db: db}
}

func (k *PostgresKeyring) CurrentVersion(ctx context.Context) (int, error) {
	exec := txcontext.Resolve(ctx, k.db)
	// Seed the singleton row on first use; ON CONFLICT keeps this safe under
	// concurrent startups.
	if _, err := exec.ExecContext(ctx, `
		INSERT INTO vault_keyring (id, current_version, updated_at)
		VALUES (1, 1, now())
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		return 0, fmt.Errorf("seed keyring: %w", err)
	}
	var version int
	err := exec.QueryRowContext(ctx, `
		SELECT current_version FROM vault_keyring WHERE id = 1
	`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("load key version: %w", err)
	}
	return version, nil
}

func (k *PostgresKeyring) Advance(ctx context.Context) (int, error) {
	exec := txcontext.Resolve(ctx, k.db)
	var version int
	// Rotating before the row was ever read seeds it directly at version 2:
	// version 1 is the implicit initial version either way.
	err := exec.QueryRowContext(ctx, `
		INSERT INTO vault_keyring (id, current_version, updated_at)
		VALUES (1, 2, now())
		ON CONFLICT (id) DO UPDATE
		SET current_version = vault_keyring.current_version + 1, updated_at = now()
		RETURNING current_version
	`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("advance key version: %w", err)
	}
	return version, nil
}
