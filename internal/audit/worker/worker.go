// Package worker drains the audit outbox into Kafka. It polls rather than
// listens so a broker outage only delays the mirror and never blocks ledger
// writes.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodia/internal/audit"
)

// Sink abstracts the Kafka publisher so the worker is testable without a
// broker.
type Sink interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Worker periodically publishes unpublished outbox rows.
type Worker struct {
	store    *audit.PostgresStore
	sink     Sink
	log      *slog.Logger
	interval time.Duration
	batch    int
}

func New(store *audit.PostgresStore, sink Sink, log *slog.Logger) *Worker {
	return &Worker{
		store:    store,
		sink:     sink,
		log:      log,
		interval: 5 * time.Second,
		batch:    200,
	}
}

// Run loops until the context is cancelled. Publish failures are logged and
// retried on the next tick; rows are only marked published after the ack.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.log.Warn("audit outbox drain failed", "err", err)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	rows, err := w.store.Unpublished(ctx, w.batch)
	if err != nil {
		return err
	}
	var done []uuid.UUID
	for _, row := range rows {
		if err := w.sink.Publish(ctx, row.ID.String(), row.Payload); err != nil {
			// Stop at the first failure to preserve publish order.
			w.log.Warn("audit publish failed", "id", row.ID, "err", err)
			break
		}
		done = append(done, row.ID)
	}
	return w.store.MarkPublished(ctx, done)
}
