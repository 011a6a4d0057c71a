// Package policy stores retention policies. Policies are versioned: putting
// a new policy for an entity type deactivates the prior version but never
// deletes it, so the applicable rules at any past date stay reconstructable.
package policy

import (
	"context"
	"time"

	"custodia/pkg/domain"
)

// RetentionPolicy is one policy version for an entity type.
type RetentionPolicy struct {
	ID         domain.PolicyID
	EntityType domain.EntityType
	// RetentionDays is the retention window. Ignored when Indefinite.
	RetentionDays int
	// Indefinite keeps records forever; the engine only reviews them.
	Indefinite bool
	Strategy   domain.ArchiveStrategy
	// Basis selects which timestamp the window counts from.
	Basis      domain.RetentionBasis
	LegalBasis string
	// AppliesToDeleted widens the policy to soft-deleted records.
	AppliesToDeleted bool
	// RawArchive requests archive snapshots with restricted fields
	// decrypted. Default false keeps ciphertext as stored.
	RawArchive bool
	Version    int
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Cutoff returns the newest timestamp still expired under the policy at now.
// The zero time (and false) means nothing expires.
func (p RetentionPolicy) Cutoff(now time.Time) (time.Time, bool) {
	if p.Indefinite {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -p.RetentionDays), true
}

// Store persists policy versions. Versions are inserted and deactivated,
// never removed.
type Store interface {
	Insert(ctx context.Context, p RetentionPolicy) error
	// DeactivateActive clears the active flag on the current version, if
	// any, and returns its version number (0 when none existed).
	DeactivateActive(ctx context.Context, entityType domain.EntityType) (int, error)
	// ActiveFor returns the single active version for the entity type.
	ActiveFor(ctx context.Context, entityType domain.EntityType) (RetentionPolicy, error)
	// History returns all versions, oldest first.
	History(ctx context.Context, entityType domain.EntityType) ([]RetentionPolicy, error)
}
