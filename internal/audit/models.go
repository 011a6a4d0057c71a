// Package audit is the append-only ledger every mutating path in the core
// writes to. Insert-only is enforced at the interface boundary: Store has no
// update or delete method, by construction rather than convention.
package audit

import (
	"context"
	"time"

	"custodia/pkg/domain"
)

// Entry is one ledger row. Exactly one Entry is written per audited action,
// in the same transaction as the mutation it records.
type Entry struct {
	ID               domain.AuditID
	Actor            string
	Action           domain.AuditAction
	TargetEntityType domain.EntityType
	TargetEntityID   string
	Outcome          domain.Outcome
	// Detail carries a short free-form note, e.g. a rejection reason or a
	// partial-completion summary. Never plaintext field values.
	Detail    string
	RequestID string
	Timestamp time.Time
}

// Store persists ledger entries. Append-only by design.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByTarget(ctx context.Context, entityType domain.EntityType, entityID string) ([]Entry, error)
	ListByAction(ctx context.Context, action domain.AuditAction) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// Normalize fills defaults callers routinely omit.
func Normalize(entry Entry) Entry {
	if entry.ID.IsNil() {
		entry.ID = domain.NewAuditID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return entry
}
