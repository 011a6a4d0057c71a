package domain

import (
	dErrors "custodia/pkg/domainerrors"
)

// FieldOrigin records where a field's value came from. Portability exports
// carry only self-provided and observed data; derived values stay out.
type FieldOrigin string

const (
	OriginSelfProvided FieldOrigin = "self_provided"
	OriginObserved     FieldOrigin = "observed"
	OriginDerived      FieldOrigin = "derived"
)

// ParseFieldOrigin constructs a FieldOrigin from external input.
func ParseFieldOrigin(s string) (FieldOrigin, error) {
	o := FieldOrigin(s)
	switch o {
	case OriginSelfProvided, OriginObserved, OriginDerived:
		return o, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown field origin")
}

// Portable reports whether the origin belongs in a portability bundle.
func (o FieldOrigin) Portable() bool {
	return o == OriginSelfProvided || o == OriginObserved
}

func (o FieldOrigin) String() string { return string(o) }
