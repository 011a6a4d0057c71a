package domain

import (
	dErrors "custodia/pkg/domainerrors"
)

// ArchiveStrategy tells the retention engine what to do with an expired record.
type ArchiveStrategy string

const (
	// ArchiveStrategyNone records the review and leaves the record alone.
	ArchiveStrategyNone ArchiveStrategy = "none"
	// ArchiveStrategyArchive snapshots the record to the archive store and
	// soft-deletes the source.
	ArchiveStrategyArchive ArchiveStrategy = "archive"
	// ArchiveStrategyDelete hard-deletes the record and its registered
	// children.
	ArchiveStrategyDelete ArchiveStrategy = "delete"
)

var validArchiveStrategies = map[ArchiveStrategy]bool{
	ArchiveStrategyNone:    true,
	ArchiveStrategyArchive: true,
	ArchiveStrategyDelete:  true,
}

// ParseArchiveStrategy constructs an ArchiveStrategy from external input.
func ParseArchiveStrategy(s string) (ArchiveStrategy, error) {
	a := ArchiveStrategy(s)
	if !validArchiveStrategies[a] {
		return "", dErrors.New(dErrors.CodeValidation, "unknown archive strategy")
	}
	return a, nil
}

func (a ArchiveStrategy) String() string { return string(a) }

// RetentionBasis selects which record timestamp the retention window counts
// from.
type RetentionBasis string

const (
	BasisCreation     RetentionBasis = "creation"
	BasisLastActivity RetentionBasis = "last_activity"
	BasisSoftDelete   RetentionBasis = "soft_delete"
)

var validBases = map[RetentionBasis]bool{
	BasisCreation:     true,
	BasisLastActivity: true,
	BasisSoftDelete:   true,
}

// ParseRetentionBasis constructs a RetentionBasis from external input.
func ParseRetentionBasis(s string) (RetentionBasis, error) {
	b := RetentionBasis(s)
	if !validBases[b] {
		return "", dErrors.New(dErrors.CodeValidation, "unknown retention basis")
	}
	return b, nil
}

func (b RetentionBasis) String() string { return string(b) }
