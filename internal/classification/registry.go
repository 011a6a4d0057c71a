// Package classification maps (entity type, field) pairs to sensitivity
// levels. The vault, the export engine and the retention archiver all consume
// the same registry so masking and encryption decisions cannot drift apart.
package classification

import (
	"sync"

	"custodia/pkg/domain"
)

// FieldClassification is one registered field rule.
type FieldClassification struct {
	EntityType domain.EntityType
	Field      string
	Level      domain.ClassificationLevel
	Origin     domain.FieldOrigin
}

type fieldKey struct {
	entityType domain.EntityType
	field      string
}

// Registry answers classification queries. Unregistered fields default to
// Internal with observed origin.
type Registry struct {
	mu     sync.RWMutex
	fields map[fieldKey]FieldClassification
}

// NewRegistry returns an empty classification registry.
func NewRegistry() *Registry {
	return &Registry{fields: make(map[fieldKey]FieldClassification)}
}

// Set registers or replaces a field classification.
func (r *Registry) Set(fc FieldClassification) {
	if fc.Origin == "" {
		fc.Origin = domain.OriginObserved
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[fieldKey{fc.EntityType, fc.Field}] = fc
}

// Classify returns the sensitivity level for a field, Internal by default.
func (r *Registry) Classify(t domain.EntityType, field string) domain.ClassificationLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fc, ok := r.fields[fieldKey{t, field}]; ok {
		return fc.Level
	}
	return domain.ClassificationInternal
}

// Origin returns the recorded origin for a field, observed by default.
func (r *Registry) Origin(t domain.EntityType, field string) domain.FieldOrigin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fc, ok := r.fields[fieldKey{t, field}]; ok {
		return fc.Origin
	}
	return domain.OriginObserved
}

// RequiresEncryption reports whether the field must be stored through the
// crypto vault.
func (r *Registry) RequiresEncryption(t domain.EntityType, field string) bool {
	return r.Classify(t, field) == domain.ClassificationRestricted
}

// RequiresMask reports whether a reader at authLevel must see the field
// masked. Readers see fields at or below their own level. An unrecognized
// authLevel grants nothing: AtLeast treats unknown values as maximally
// sensitive, which is right for a field's level but would hand a mistyped
// reader level full clearance, so the reader side is checked explicitly.
func (r *Registry) RequiresMask(level, authLevel domain.ClassificationLevel) bool {
	if !level.AtLeast(domain.ClassificationConfidential) {
		return false
	}
	return !authLevel.IsValid() || !authLevel.AtLeast(level)
}

// SensitiveFields returns the field names of the entity type classified at or
// above the given level. Used to pick anonymization targets.
func (r *Registry) SensitiveFields(t domain.EntityType, min domain.ClassificationLevel) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for key, fc := range r.fields {
		if key.entityType == t && fc.Level.AtLeast(min) {
			out = append(out, key.field)
		}
	}
	return out
}
