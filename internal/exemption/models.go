// Package exemption is the legal hold registry. An active, unexpired hold
// unconditionally blocks deletion and archival of the record it names,
// whatever the retention policy says.
package exemption

import (
	"context"
	"time"

	"custodia/pkg/domain"
)

// Exemption is one legal hold row. Rows are deactivated, never deleted.
type Exemption struct {
	ID         domain.ExemptionID
	EntityType domain.EntityType
	EntityID   string
	Reason     string
	CreatedBy  string
	// ExpiresAt nil means the hold is permanent.
	ExpiresAt *time.Time
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InForce reports whether the hold blocks actions at the given instant.
func (e Exemption) InForce(at time.Time) bool {
	if !e.Active {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(at)
}

// Store persists legal holds.
type Store interface {
	Create(ctx context.Context, ex Exemption) error
	FindByID(ctx context.Context, id domain.ExemptionID) (Exemption, error)
	// ActiveFor returns every active row for the record, expired or not;
	// expiry is evaluated by the caller against its own clock.
	ActiveFor(ctx context.Context, entityType domain.EntityType, entityID string) ([]Exemption, error)
	// Deactivate flips active to false. There is no delete.
	Deactivate(ctx context.Context, id domain.ExemptionID) error
}
