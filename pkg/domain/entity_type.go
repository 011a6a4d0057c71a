package domain

import (
	dErrors "custodia/pkg/domainerrors"
)

// EntityType names a class of managed records ("session", "contact", ...).
// The core treats entity types generically; concrete accessors register under
// these names at startup. Invariant: the value is lowercase snake_case and
// non-empty.
//
// Usage: construct via ParseEntityType at trust boundaries to enforce the
// shape; whether the type is actually registered is checked against the
// accessor registry, not here.
type EntityType string

// ParseEntityType constructs an EntityType from external input.
//
// Errors: returns CodeValidation when the value is empty or contains
// characters outside [a-z0-9_]; no other errors are expected.
func ParseEntityType(s string) (EntityType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "entity type cannot be empty")
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return "", dErrors.New(dErrors.CodeValidation, "entity type must be lowercase snake_case")
		}
	}
	return EntityType(s), nil
}

// String returns the string representation of the entity type.
func (t EntityType) String() string {
	return string(t)
}

// IsNil returns true if the entity type is empty.
func (t EntityType) IsNil() bool {
	return t == ""
}
