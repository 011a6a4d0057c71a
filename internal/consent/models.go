// Package consent is the append-only per-(user, purpose) consent history.
// Records are only ever appended; the current status is derived from the
// latest entry, and the full grant/revoke history stays queryable forever.
// Enforcing consent before processing is the caller's responsibility.
package consent

import (
	"context"
	"time"

	"custodia/pkg/domain"
)

// Record is one ledger entry.
type Record struct {
	ID      domain.ConsentID
	UserID  domain.SubjectID
	Purpose string
	Granted bool
	// IP and UserAgent capture the evidentiary context of the decision.
	IP        string
	UserAgent string
	// Device is a normalized browser/OS summary parsed from UserAgent,
	// e.g. "Chrome 126 on Linux". The raw header is kept alongside.
	Device    string
	Timestamp time.Time
	RevokedAt *time.Time
}

// Store persists consent entries. Append-only by design: there is no update
// or delete method.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// ListByUserPurpose returns the full history for the pair in append
	// order.
	ListByUserPurpose(ctx context.Context, userID domain.SubjectID, purpose string) ([]Record, error)
	// ListByUser returns every entry for the user, for access/portability
	// bundles.
	ListByUser(ctx context.Context, userID domain.SubjectID) ([]Record, error)
}
