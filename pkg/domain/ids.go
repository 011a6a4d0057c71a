package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Typed identifiers for compliance records. Wrapping uuid.UUID keeps the
// signatures honest: a PolicyID cannot be passed where an ExemptionID is
// expected. Construct via the Parse* functions at trust boundaries; direct
// casting bypasses validation.

// SubjectID identifies the natural person a record belongs to.
type SubjectID uuid.UUID

// PolicyID identifies a retention policy version.
type PolicyID uuid.UUID

// ExemptionID identifies a legal hold row.
type ExemptionID uuid.UUID

// RequestID identifies a data subject request.
type RequestID uuid.UUID

// ConsentID identifies a single consent ledger entry.
type ConsentID uuid.UUID

// AuditID identifies an audit ledger entry.
type AuditID uuid.UUID

// NewSubjectID returns a fresh random SubjectID.
func NewSubjectID() SubjectID { return SubjectID(uuid.New()) }

// NewPolicyID returns a fresh random PolicyID.
func NewPolicyID() PolicyID { return PolicyID(uuid.New()) }

// NewExemptionID returns a fresh random ExemptionID.
func NewExemptionID() ExemptionID { return ExemptionID(uuid.New()) }

// NewRequestID returns a fresh random RequestID.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

// NewConsentID returns a fresh random ConsentID.
func NewConsentID() ConsentID { return ConsentID(uuid.New()) }

// NewAuditID returns a fresh random AuditID.
func NewAuditID() AuditID { return AuditID(uuid.New()) }

func parseUUID(kind, s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", kind, err)
	}
	return u, nil
}

// ParseSubjectID validates and returns a SubjectID from external input.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID("subject id", s)
	return SubjectID(u), err
}

// ParsePolicyID validates and returns a PolicyID from external input.
func ParsePolicyID(s string) (PolicyID, error) {
	u, err := parseUUID("policy id", s)
	return PolicyID(u), err
}

// ParseExemptionID validates and returns an ExemptionID from external input.
func ParseExemptionID(s string) (ExemptionID, error) {
	u, err := parseUUID("exemption id", s)
	return ExemptionID(u), err
}

// ParseRequestID validates and returns a RequestID from external input.
func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID("request id", s)
	return RequestID(u), err
}

func (id SubjectID) String() string   { return uuid.UUID(id).String() }
func (id PolicyID) String() string    { return uuid.UUID(id).String() }
func (id ExemptionID) String() string { return uuid.UUID(id).String() }
func (id RequestID) String() string   { return uuid.UUID(id).String() }
func (id ConsentID) String() string   { return uuid.UUID(id).String() }
func (id AuditID) String() string     { return uuid.UUID(id).String() }

func (id SubjectID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id PolicyID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ExemptionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id AuditID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
