package domain

// AuditAction classifies an audit ledger entry by the kind of mutation it
// records. Every mutating path in the core writes exactly one of these.
type AuditAction string

const (
	AuditPolicyChange    AuditAction = "policy_change"
	AuditExecution       AuditAction = "execution"
	AuditExemptionChange AuditAction = "exemption_change"
	AuditDSRStep         AuditAction = "dsr_step"
	AuditConsentChange   AuditAction = "consent_change"
)

func (a AuditAction) String() string { return string(a) }

// Outcome is the result recorded for a single audited action.
type Outcome string

const (
	OutcomeDeleted    Outcome = "deleted"
	OutcomeArchived   Outcome = "archived"
	OutcomeReviewed   Outcome = "reviewed"
	OutcomeExempted   Outcome = "exempted"
	OutcomeAnonymized Outcome = "anonymized"
	OutcomeFailed     Outcome = "failed"
	OutcomeCreated    Outcome = "created"
	OutcomeRemoved    Outcome = "removed"
	OutcomeGranted    Outcome = "granted"
	OutcomeRevoked    Outcome = "revoked"
)

func (o Outcome) String() string { return string(o) }
