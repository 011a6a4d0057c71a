// Package registry is the seam between the compliance core and the product's
// concrete entities. Campaigns, contacts, sessions and whatever else the
// product stores register an Accessor here under an entity type name; the
// core only ever talks to Accessors and never imports domain packages.
package registry

import (
	"context"
	"fmt"
	"time"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
)

// Record is the generic view of a domain entity the core operates on.
// Fields hold the snapshot values keyed by field name; encrypted fields hold
// their EncryptedValue rather than plaintext.
type Record struct {
	EntityType     domain.EntityType
	ID             string
	SubjectID      domain.SubjectID
	Fields         map[string]any
	CreatedAt      time.Time
	LastActivityAt time.Time
	DeletedAt      *time.Time
}

// ExpiryQuery selects candidate records for a retention run.
type ExpiryQuery struct {
	// Cutoff is the newest timestamp still considered expired.
	Cutoff time.Time
	// Basis selects which record timestamp Cutoff compares against.
	Basis domain.RetentionBasis
	// IncludeDeleted widens the scan to soft-deleted records.
	IncludeDeleted bool
	// AfterID resumes iteration past the watermark; empty starts from the top.
	AfterID string
	// Limit bounds the page size.
	Limit int
}

// Accessor is implemented once per entity type by the owning product module.
// All methods must be safe to call from concurrent retention workers.
type Accessor interface {
	// ListExpired returns up to Limit candidate records ordered by ID so a
	// watermark can resume iteration deterministically.
	ListExpired(ctx context.Context, q ExpiryQuery) ([]Record, error)
	// ListBySubject returns every record referencing the subject.
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Record, error)
	// Fetch returns a single record.
	Fetch(ctx context.Context, id string) (Record, error)
	// Delete hard-deletes the record. The engine deletes registered children
	// first; Delete itself must not cascade.
	Delete(ctx context.Context, id string) error
	// SoftDelete marks the record deleted without removing it.
	SoftDelete(ctx context.Context, id string) error
	// Anonymize overwrites the given fields with irreversible placeholders.
	Anonymize(ctx context.Context, id string, fields map[string]string) error
	// ListChildIDs returns the IDs of this type's records that hang off the
	// given parent record. Used to walk a cascade level by level.
	ListChildIDs(ctx context.Context, parentType domain.EntityType, parentID string) ([]string, error)
	// DeleteChildrenOf removes this type's records that hang off the given
	// parent record. Called during cascading deletes, children-first.
	DeleteChildrenOf(ctx context.Context, parentType domain.EntityType, parentID string) error
}

type registration struct {
	accessor Accessor
	// children are entity types whose rows must be removed before a record
	// of this type is hard-deleted. The order within the slice is the
	// deletion order.
	children []domain.EntityType
}

// Registry holds the accessor registrations. It is built once at startup and
// read-only afterwards, so no locking is needed.
type Registry struct {
	entries   map[domain.EntityType]registration
	finalized bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[domain.EntityType]registration)}
}

// Register adds an accessor for an entity type. Children name the entity
// types that must be deleted before a record of this type; their relative
// order is the cascade order.
func (r *Registry) Register(t domain.EntityType, a Accessor, children ...domain.EntityType) error {
	if r.finalized {
		return fmt.Errorf("registry already finalized")
	}
	if t.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "entity type cannot be empty")
	}
	if _, dup := r.entries[t]; dup {
		return fmt.Errorf("entity type %q registered twice", t)
	}
	r.entries[t] = registration{accessor: a, children: children}
	return nil
}

// Finalize validates the dependency graph. Every declared child must be
// registered and the graph must be acyclic; a violation is a configuration
// error, never a runtime traversal hazard.
func (r *Registry) Finalize() error {
	for t, reg := range r.entries {
		for _, child := range reg.children {
			if _, ok := r.entries[child]; !ok {
				return fmt.Errorf("entity type %q declares unregistered child %q", t, child)
			}
		}
	}
	state := make(map[domain.EntityType]int) // 0 unvisited, 1 in stack, 2 done
	var visit func(t domain.EntityType) error
	visit = func(t domain.EntityType) error {
		switch state[t] {
		case 1:
			return fmt.Errorf("dependency cycle through entity type %q", t)
		case 2:
			return nil
		}
		state[t] = 1
		for _, child := range r.entries[t].children {
			if err := visit(child); err != nil {
				return err
			}
		}
		state[t] = 2
		return nil
	}
	for t := range r.entries {
		if err := visit(t); err != nil {
			return err
		}
	}
	r.finalized = true
	return nil
}

// Accessor returns the accessor for an entity type.
func (r *Registry) Accessor(t domain.EntityType) (Accessor, error) {
	reg, ok := r.entries[t]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown entity type %q", t)
	}
	return reg.accessor, nil
}

// Known reports whether the entity type has a registered accessor.
func (r *Registry) Known(t domain.EntityType) bool {
	_, ok := r.entries[t]
	return ok
}

// Types returns all registered entity types in unspecified order.
func (r *Registry) Types() []domain.EntityType {
	out := make([]domain.EntityType, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	return out
}

// DeletionOrder returns the entity types to clear before hard-deleting a
// record of type t, deepest descendants first. The record's own type is not
// included.
func (r *Registry) DeletionOrder(t domain.EntityType) ([]domain.EntityType, error) {
	reg, ok := r.entries[t]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown entity type %q", t)
	}
	var order []domain.EntityType
	seen := make(map[domain.EntityType]bool)
	var walk func(reg registration)
	walk = func(reg registration) {
		for _, child := range reg.children {
			if seen[child] {
				continue
			}
			seen[child] = true
			walk(r.entries[child])
			order = append(order, child)
		}
	}
	walk(reg)
	// walk appends parents after their descendants, which is already the
	// children-first cascade order.
	return order, nil
}

// directParents filters candidates down to the types that declare child as a
// direct child.
func (r *Registry) directParents(child domain.EntityType, candidates []domain.EntityType) []domain.EntityType {
	var out []domain.EntityType
	for _, p := range candidates {
		for _, c := range r.entries[p].children {
			if c == child {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// CascadeDelete hard-deletes a record and every registered descendant,
// deepest level first. Grandchildren hang off intermediate records rather
// than the root, so the cascade first walks the graph top-down collecting the
// IDs each level will lose, then deletes bottom-up per direct parent record.
func (r *Registry) CascadeDelete(ctx context.Context, t domain.EntityType, id string) error {
	order, err := r.DeletionOrder(t)
	if err != nil {
		return err
	}
	candidates := append([]domain.EntityType{t}, order...)

	// Reverse of the deletion order is topological, parents before children,
	// so each type sees its direct parents' final ID sets.
	ids := make(map[domain.EntityType][]string, len(candidates))
	ids[t] = []string{id}
	for i := len(order) - 1; i >= 0; i-- {
		ct := order[i]
		acc := r.entries[ct].accessor
		for _, parent := range r.directParents(ct, candidates) {
			for _, pid := range ids[parent] {
				childIDs, err := acc.ListChildIDs(ctx, parent, pid)
				if err != nil {
					return fmt.Errorf("list %s children of %s/%s: %w", ct, parent, pid, err)
				}
				ids[ct] = append(ids[ct], childIDs...)
			}
		}
	}

	for _, ct := range order {
		acc := r.entries[ct].accessor
		for _, parent := range r.directParents(ct, candidates) {
			for _, pid := range ids[parent] {
				if err := acc.DeleteChildrenOf(ctx, parent, pid); err != nil {
					return fmt.Errorf("delete %s children of %s/%s: %w", ct, parent, pid, err)
				}
			}
		}
	}
	return r.entries[t].accessor.Delete(ctx, id)
}
