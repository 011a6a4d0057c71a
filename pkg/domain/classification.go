package domain

import (
	dErrors "custodia/pkg/domainerrors"
)

// ClassificationLevel is the sensitivity tier of a field. Levels are ordered:
// Public < Internal < Confidential < Restricted. Restricted fields must be
// stored through the crypto vault; Confidential and above are masked for
// unauthorized readers.
type ClassificationLevel string

const (
	ClassificationPublic       ClassificationLevel = "public"
	ClassificationInternal     ClassificationLevel = "internal"
	ClassificationConfidential ClassificationLevel = "confidential"
	ClassificationRestricted   ClassificationLevel = "restricted"
)

// classificationOrder is the single source of truth for level ordering.
var classificationOrder = map[ClassificationLevel]int{
	ClassificationPublic:       0,
	ClassificationInternal:     1,
	ClassificationConfidential: 2,
	ClassificationRestricted:   3,
}

// ParseClassificationLevel constructs a ClassificationLevel from external input.
func ParseClassificationLevel(s string) (ClassificationLevel, error) {
	l := ClassificationLevel(s)
	if _, ok := classificationOrder[l]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, "unknown classification level")
	}
	return l, nil
}

// IsValid checks if the level is one of the supported enum values.
func (l ClassificationLevel) IsValid() bool {
	_, ok := classificationOrder[l]
	return ok
}

// AtLeast returns true if this level is as sensitive as other, or more so.
// Unknown levels compare as the most sensitive tier so misconfiguration fails
// toward masking rather than disclosure.
func (l ClassificationLevel) AtLeast(other ClassificationLevel) bool {
	lo, ok := classificationOrder[l]
	if !ok {
		return true
	}
	oo, ok := classificationOrder[other]
	if !ok {
		return false
	}
	return lo >= oo
}

// String returns the string representation of the level.
func (l ClassificationLevel) String() string {
	return string(l)
}
