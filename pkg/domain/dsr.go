package domain

import (
	dErrors "custodia/pkg/domainerrors"
)

// DSRType classifies a data subject request.
type DSRType string

const (
	DSRTypeAccess      DSRType = "access"
	DSRTypeDeletion    DSRType = "deletion"
	DSRTypePortability DSRType = "portability"
)

var validDSRTypes = map[DSRType]bool{
	DSRTypeAccess:      true,
	DSRTypeDeletion:    true,
	DSRTypePortability: true,
}

// ParseDSRType constructs a DSRType from external input.
func ParseDSRType(s string) (DSRType, error) {
	t := DSRType(s)
	if !validDSRTypes[t] {
		return "", dErrors.New(dErrors.CodeValidation, "unknown request type")
	}
	return t, nil
}

func (t DSRType) String() string { return string(t) }

// DSRStatus is a state in the data subject request lifecycle.
//
// The machine is submitted -> identity_verified -> in_progress ->
// {completed, rejected}. Rejection is additionally reachable from submitted
// and identity_verified. Completed and rejected are terminal.
type DSRStatus string

const (
	DSRStatusSubmitted        DSRStatus = "submitted"
	DSRStatusIdentityVerified DSRStatus = "identity_verified"
	DSRStatusInProgress       DSRStatus = "in_progress"
	DSRStatusCompleted        DSRStatus = "completed"
	DSRStatusRejected         DSRStatus = "rejected"
)

// dsrTransitions is the single source of truth for legal status transitions.
var dsrTransitions = map[DSRStatus]map[DSRStatus]bool{
	DSRStatusSubmitted: {
		DSRStatusIdentityVerified: true,
		DSRStatusRejected:         true,
	},
	DSRStatusIdentityVerified: {
		DSRStatusInProgress: true,
		DSRStatusRejected:   true,
	},
	DSRStatusInProgress: {
		DSRStatusCompleted: true,
	},
}

// ParseDSRStatus constructs a DSRStatus from external input.
func ParseDSRStatus(s string) (DSRStatus, error) {
	st := DSRStatus(s)
	switch st {
	case DSRStatusSubmitted, DSRStatusIdentityVerified, DSRStatusInProgress,
		DSRStatusCompleted, DSRStatusRejected:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown request status")
}

// CanTransition reports whether moving from this status to next is legal.
func (s DSRStatus) CanTransition(next DSRStatus) bool {
	return dsrTransitions[s][next]
}

// Terminal reports whether the status admits no further transitions.
func (s DSRStatus) Terminal() bool {
	return s == DSRStatusCompleted || s == DSRStatusRejected
}

func (s DSRStatus) String() string { return string(s) }
