package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row does not exist in store
// - ErrConflict: version check or unique constraint lost a race
// - ErrLeaseHeld: another holder owns the run lease
// - ErrExpired: lease or hold past its expiry
//
// For validation errors (bad input, missing fields), use pkg/domainerrors
// directly.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrLeaseHeld = errors.New("lease held")
	ErrExpired   = errors.New("expired")
)
