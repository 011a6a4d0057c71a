package consent

import (
	"context"
	"time"

	"github.com/mssola/useragent"

	"custodia/internal/audit"
	"custodia/internal/platform/metrics"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
	txpkg "custodia/pkg/tx"
)

// Service appends consent decisions and answers status queries.
type Service struct {
	store   Store
	audits  audit.Store
	runner  txpkg.Runner
	metrics *metrics.Metrics
}

func NewService(store Store, audits audit.Store, runner txpkg.Runner, m *metrics.Metrics) *Service {
	return &Service{store: store, audits: audits, runner: runner, metrics: m}
}

func deviceSummary(rawUA string) string {
	if rawUA == "" {
		return ""
	}
	ua := useragent.New(rawUA)
	name, version := ua.Browser()
	if name == "" {
		return ""
	}
	if os := ua.OS(); os != "" {
		return name + " " + version + " on " + os
	}
	return name + " " + version
}

// RecordConsent appends a decision. Never overwrites prior history.
func (s *Service) RecordConsent(ctx context.Context, userID domain.SubjectID, purpose string, granted bool, ip, rawUA string) (Record, error) {
	if userID.IsNil() {
		return Record{}, dErrors.New(dErrors.CodeValidation, "user id cannot be empty")
	}
	if purpose == "" {
		return Record{}, dErrors.New(dErrors.CodeValidation, "purpose cannot be empty")
	}

	rec := Record{
		ID:        domain.NewConsentID(),
		UserID:    userID,
		Purpose:   purpose,
		Granted:   granted,
		IP:        ip,
		UserAgent: rawUA,
		Device:    deviceSummary(rawUA),
		Timestamp: time.Now().UTC(),
	}

	outcome := domain.OutcomeGranted
	if !granted {
		outcome = domain.OutcomeRevoked
	}
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Append(ctx, rec); err != nil {
			return err
		}
		return s.audits.Append(ctx, audit.Entry{
			Actor:          userID.String(),
			Action:         domain.AuditConsentChange,
			TargetEntityID: userID.String(),
			Outcome:        outcome,
			Detail:         purpose,
		})
	})
	if err != nil {
		return Record{}, err
	}
	if s.metrics != nil {
		s.metrics.ConsentWrites.WithLabelValues(outcome.String()).Inc()
	}
	return rec, nil
}

// CurrentStatus returns the latest non-revoked entry's decision, false when
// no history exists.
func (s *Service) CurrentStatus(ctx context.Context, userID domain.SubjectID, purpose string) (bool, error) {
	history, err := s.store.ListByUserPurpose(ctx, userID, purpose)
	if err != nil {
		return false, err
	}
	if len(history) == 0 {
		return false, nil
	}
	// The ledger is append-ordered, so the last entry is the current word. A
	// revocation entry always reads as false regardless of its Granted flag.
	latest := history[len(history)-1]
	if latest.RevokedAt != nil {
		return false, nil
	}
	return latest.Granted, nil
}

// Revoke appends a granted=false entry stamped with the revocation time. The
// original grant remains in history.
func (s *Service) Revoke(ctx context.Context, userID domain.SubjectID, purpose string) error {
	now := time.Now().UTC()
	rec := Record{
		ID:        domain.NewConsentID(),
		UserID:    userID,
		Purpose:   purpose,
		Granted:   false,
		Timestamp: now,
		RevokedAt: &now,
	}
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Append(ctx, rec); err != nil {
			return err
		}
		return s.audits.Append(ctx, audit.Entry{
			Actor:          userID.String(),
			Action:         domain.AuditConsentChange,
			TargetEntityID: userID.String(),
			Outcome:        domain.OutcomeRevoked,
			Detail:         purpose,
		})
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ConsentWrites.WithLabelValues(domain.OutcomeRevoked.String()).Inc()
	}
	return nil
}

// History returns the append-ordered ledger for a user and purpose.
func (s *Service) History(ctx context.Context, userID domain.SubjectID, purpose string) ([]Record, error) {
	return s.store.ListByUserPurpose(ctx, userID, purpose)
}
