package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
	"custodia/pkg/sentinel"
	txpkg "custodia/pkg/tx"
)

// =============================================================================
// Policy Service Test Suite
// =============================================================================

type knownTypes map[domain.EntityType]bool

func (k knownTypes) Known(t domain.EntityType) bool { return k[t] }

type PolicyServiceSuite struct {
	suite.Suite
	store   *InMemoryStore
	audits  *audit.InMemoryStore
	service *Service
}

func TestPolicyServiceSuite(t *testing.T) {
	suite.Run(t, new(PolicyServiceSuite))
}

func (s *PolicyServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.audits = audit.NewInMemoryStore()
	s.service = NewService(s.store, s.audits, knownTypes{"sessions": true}, txpkg.NopRunner{})
}

func (s *PolicyServiceSuite) TestPut() {
	ctx := context.Background()

	s.Run("unknown entity type fails validation", func() {
		_, err := s.service.Put(ctx, RetentionPolicy{
			EntityType: "ghosts", RetentionDays: 30, Strategy: domain.ArchiveStrategyDelete,
		}, "dpo@corp")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("non-positive window fails unless indefinite", func() {
		_, err := s.service.Put(ctx, RetentionPolicy{
			EntityType: "sessions", RetentionDays: 0, Strategy: domain.ArchiveStrategyDelete,
		}, "dpo@corp")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.service.Put(ctx, RetentionPolicy{
			EntityType: "sessions", Indefinite: true, Strategy: domain.ArchiveStrategyNone,
		}, "dpo@corp")
		s.NoError(err)
	})

	s.Run("invalid strategy fails validation", func() {
		_, err := s.service.Put(ctx, RetentionPolicy{
			EntityType: "sessions", RetentionDays: 30, Strategy: "shred",
		}, "dpo@corp")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("basis defaults to creation", func() {
		p, err := s.service.Put(ctx, RetentionPolicy{
			EntityType: "sessions", RetentionDays: 30, Strategy: domain.ArchiveStrategyDelete,
		}, "dpo@corp")
		s.Require().NoError(err)
		s.Equal(domain.BasisCreation, p.Basis)
	})
}

func (s *PolicyServiceSuite) TestVersioning() {
	ctx := context.Background()

	v1, err := s.service.Put(ctx, RetentionPolicy{
		EntityType: "sessions", RetentionDays: 90, Strategy: domain.ArchiveStrategyArchive,
	}, "dpo@corp")
	s.Require().NoError(err)
	s.Equal(1, v1.Version)

	v2, err := s.service.Put(ctx, RetentionPolicy{
		EntityType: "sessions", RetentionDays: 30, Strategy: domain.ArchiveStrategyDelete,
	}, "dpo@corp")
	s.Require().NoError(err)
	s.Equal(2, v2.Version)

	s.Run("only the newest version is active", func() {
		active, err := s.service.ActiveFor(ctx, "sessions")
		s.Require().NoError(err)
		s.Equal(2, active.Version)
		s.Equal(30, active.RetentionDays)
	})

	s.Run("history keeps every version oldest first", func() {
		history, err := s.service.History(ctx, "sessions")
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(1, history[0].Version)
		s.False(history[0].Active)
		s.Equal(2, history[1].Version)
		s.True(history[1].Active)
	})

	s.Run("each version change is audited", func() {
		entries, err := s.audits.ListByAction(ctx, domain.AuditPolicyChange)
		s.Require().NoError(err)
		s.Len(entries, 2)
	})
}

func (s *PolicyServiceSuite) TestActiveFor() {
	ctx := context.Background()
	_, err := s.service.ActiveFor(ctx, "sessions")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PolicyServiceSuite) TestCutoff() {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	s.Run("window counts back from now", func() {
		p := RetentionPolicy{RetentionDays: 30}
		cutoff, ok := p.Cutoff(now)
		s.True(ok)
		s.Equal(time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC), cutoff)
	})

	s.Run("indefinite policies never expire anything", func() {
		p := RetentionPolicy{Indefinite: true}
		_, ok := p.Cutoff(now)
		s.False(ok)
	})
}

// =============================================================================
// Memory Lease Tests
// =============================================================================

func TestMemoryLease(t *testing.T) {
	ctx := context.Background()
	lease := NewMemoryLease()

	if err := lease.Acquire(ctx, "sessions", "holder-a", time.Minute); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := lease.Acquire(ctx, "sessions", "holder-b", time.Minute); err != sentinel.ErrLeaseHeld {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	// Same holder may extend its own lease.
	if err := lease.Acquire(ctx, "sessions", "holder-a", time.Minute); err != nil {
		t.Fatalf("re-acquire by holder failed: %v", err)
	}
	// Other entity types are independent partitions.
	if err := lease.Acquire(ctx, "invoices", "holder-b", time.Minute); err != nil {
		t.Fatalf("acquire on other type failed: %v", err)
	}
	if err := lease.Release(ctx, "sessions", "holder-a"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := lease.Acquire(ctx, "sessions", "holder-b", time.Minute); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}
