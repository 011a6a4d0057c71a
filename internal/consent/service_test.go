package consent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
	txpkg "custodia/pkg/tx"
)

// =============================================================================
// Consent Service Test Suite
// =============================================================================
// Justification for unit tests: status resolution over an append-only ledger
// has ordering subtleties (revocation entries, re-grants) that must never
// regress; a wrong answer here is a compliance violation.

const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

type ConsentServiceSuite struct {
	suite.Suite
	store   *InMemoryStore
	audits  *audit.InMemoryStore
	service *Service
	userID  domain.SubjectID
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.audits = audit.NewInMemoryStore()
	s.service = NewService(s.store, s.audits, txpkg.NopRunner{}, nil)
	s.userID = domain.NewSubjectID()
}

func (s *ConsentServiceSuite) TestRecordConsent() {
	ctx := context.Background()

	s.Run("empty user fails validation", func() {
		_, err := s.service.RecordConsent(ctx, domain.SubjectID{}, "marketing", true, "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("empty purpose fails validation", func() {
		_, err := s.service.RecordConsent(ctx, s.userID, "", true, "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("grant records device summary and audits", func() {
		rec, err := s.service.RecordConsent(ctx, s.userID, "marketing", true, "198.51.100.7", chromeUA)
		s.Require().NoError(err)
		s.True(rec.Granted)
		s.Contains(rec.Device, "Chrome")
		s.Contains(rec.Device, "on Linux")

		entries, err := s.audits.ListByAction(ctx, domain.AuditConsentChange)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(domain.OutcomeGranted, entries[0].Outcome)
	})

	s.Run("missing user agent leaves device empty", func() {
		rec, err := s.service.RecordConsent(ctx, s.userID, "analytics", true, "", "")
		s.Require().NoError(err)
		s.Empty(rec.Device)
	})
}

func (s *ConsentServiceSuite) TestCurrentStatus() {
	ctx := context.Background()

	s.Run("no history reads as not granted", func() {
		granted, err := s.service.CurrentStatus(ctx, s.userID, "marketing")
		s.NoError(err)
		s.False(granted)
	})

	s.Run("latest entry wins", func() {
		_, err := s.service.RecordConsent(ctx, s.userID, "marketing", true, "", "")
		s.Require().NoError(err)
		_, err = s.service.RecordConsent(ctx, s.userID, "marketing", false, "", "")
		s.Require().NoError(err)

		granted, err := s.service.CurrentStatus(ctx, s.userID, "marketing")
		s.NoError(err)
		s.False(granted)
	})

	s.Run("purposes are independent", func() {
		_, err := s.service.RecordConsent(ctx, s.userID, "analytics", true, "", "")
		s.Require().NoError(err)

		granted, err := s.service.CurrentStatus(ctx, s.userID, "analytics")
		s.NoError(err)
		s.True(granted)
	})
}

func (s *ConsentServiceSuite) TestRevoke() {
	ctx := context.Background()

	_, err := s.service.RecordConsent(ctx, s.userID, "marketing", true, "", "")
	s.Require().NoError(err)

	s.Require().NoError(s.service.Revoke(ctx, s.userID, "marketing"))

	s.Run("status reads false after revocation", func() {
		granted, err := s.service.CurrentStatus(ctx, s.userID, "marketing")
		s.NoError(err)
		s.False(granted)
	})

	s.Run("original grant stays in history", func() {
		history, err := s.service.History(ctx, s.userID, "marketing")
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.True(history[0].Granted)
		s.Nil(history[0].RevokedAt)
		s.False(history[1].Granted)
		s.NotNil(history[1].RevokedAt)
	})

	s.Run("re-grant after revocation reads true", func() {
		_, err := s.service.RecordConsent(ctx, s.userID, "marketing", true, "", "")
		s.Require().NoError(err)

		granted, err := s.service.CurrentStatus(ctx, s.userID, "marketing")
		s.NoError(err)
		s.True(granted)
	})
}
