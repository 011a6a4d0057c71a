package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "custodia/pkg/domainerrors"
)

const defaultTxTimeout = 5 * time.Second

// Runner executes fn atomically. Services use it to pair a mutation with its
// audit entry: both commit or neither does.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner opens a database transaction, stores it in the context, and
// commits when fn returns nil. Stores that resolve their executor via
// Resolve then participate automatically.
type SQLRunner struct {
	DB      *sql.DB
	Timeout time.Duration
}

func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{DB: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dbtx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbtx.Rollback()
	}()

	if err := fn(WithTx(ctx, dbtx)); err != nil {
		return err
	}
	return dbtx.Commit()
}

// NopRunner satisfies Runner without a database. In-memory stores have no
// transaction to join, so fn runs directly.
type NopRunner struct{}

func (NopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
