// Package dsr orchestrates data subject requests through their state
// machine. Verification can never be skipped, terminal states are immutable,
// and every transition lands in the audit ledger with its before and after
// status.
package dsr

import (
	"context"
	"time"

	"custodia/pkg/domain"
)

// Request is one data subject request.
type Request struct {
	ID        domain.RequestID
	SubjectID domain.SubjectID
	Type      domain.DSRType
	Status    domain.DSRStatus

	SubmittedAt time.Time
	VerifiedAt  *time.Time
	CompletedAt *time.Time

	// ResultRef is the signed bundle reference for access and portability
	// requests. Subjects receive this and the terminal status, nothing
	// else.
	ResultRef string
	// ResultNote carries a human-readable completion note, e.g. that some
	// records were anonymized under legal hold instead of deleted.
	ResultNote      string
	RejectionReason string

	// Version implements optimistic concurrency: a transition only commits
	// when the stored version still matches.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists requests. Update must fail with sentinel.ErrConflict when
// expectedVersion no longer matches the stored row.
type Store interface {
	Create(ctx context.Context, req Request) error
	FindByID(ctx context.Context, id domain.RequestID) (Request, error)
	Update(ctx context.Context, req Request, expectedVersion int) error
}
