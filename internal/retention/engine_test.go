package retention

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/classification"
	"custodia/internal/exemption"
	"custodia/internal/policy"
	"custodia/internal/registry"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
	txpkg "custodia/pkg/tx"
)

// =============================================================================
// Retention Engine Test Suite
// =============================================================================
// Justification for unit tests: the engine's per-record isolation, legal hold
// precedence, cascade ordering and watermark idempotence are the core
// compliance guarantees; every path is reachable with memory stores.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type EngineSuite struct {
	suite.Suite
	registry   *registry.Registry
	sessions   *registry.MemoryAccessor
	events     *registry.MemoryAccessor
	policies   *policy.InMemoryStore
	exemptions *exemption.Service
	exStore    *exemption.InMemoryStore
	audits     *audit.InMemoryStore
	archives   *InMemoryArchive
	watermarks *InMemoryWatermarks
	lease      *policy.MemoryLease
	engine     *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.sessions = registry.NewMemoryAccessor("sessions")
	s.events = registry.NewMemoryAccessor("events")

	s.registry = registry.New()
	s.Require().NoError(s.registry.Register("sessions", s.sessions, "events"))
	s.Require().NoError(s.registry.Register("events", s.events))
	s.Require().NoError(s.registry.Finalize())

	s.policies = policy.NewInMemoryStore()
	s.exStore = exemption.NewInMemoryStore()
	s.audits = audit.NewInMemoryStore()
	s.exemptions = exemption.NewService(s.exStore, s.audits, s.registry, txpkg.NopRunner{})
	s.archives = NewInMemoryArchive()
	s.watermarks = NewInMemoryWatermarks()
	s.lease = policy.NewMemoryLease()

	s.engine = NewEngine(
		s.registry, s.policies, s.exemptions, classification.NewRegistry(),
		nil, s.archives, s.watermarks, s.audits, txpkg.NopRunner{}, s.lease,
		testLogger(), nil, Config{BatchSize: 2},
	)
}

func (s *EngineSuite) putPolicy(t domain.EntityType, days int, strategy domain.ArchiveStrategy) {
	s.Require().NoError(s.policies.Insert(context.Background(), policy.RetentionPolicy{
		ID:            domain.NewPolicyID(),
		EntityType:    t,
		RetentionDays: days,
		Strategy:      strategy,
		Basis:         domain.BasisCreation,
		Version:       1,
		Active:        true,
	}))
}

func (s *EngineSuite) putSession(id string, age time.Duration) registry.Record {
	rec := registry.Record{
		ID:             id,
		SubjectID:      domain.NewSubjectID(),
		Fields:         map[string]any{"ip": "10.0.0.1"},
		CreatedAt:      time.Now().Add(-age),
		LastActivityAt: time.Now().Add(-age),
	}
	s.sessions.Put(rec)
	return rec
}

func (s *EngineSuite) TestRun() {
	ctx := context.Background()

	s.Run("no active policy is a clean no-op", func() {
		summary, err := s.engine.Run(ctx, "sessions")
		s.NoError(err)
		s.Empty(summary.Counts)
	})

	s.Run("expired record is deleted with its children", func() {
		s.putPolicy("sessions", 30, domain.ArchiveStrategyDelete)
		s.putSession("sess-old", 40*24*time.Hour)
		s.putSession("sess-new", time.Hour)
		s.events.PutChild(registry.Record{ID: "ev-1"}, "sess-old")
		s.events.PutChild(registry.Record{ID: "ev-2"}, "sess-old")

		summary, err := s.engine.Run(ctx, "sessions")
		s.Require().NoError(err)
		s.Equal(1, summary.Counts[domain.OutcomeDeleted])

		_, err = s.sessions.Fetch(ctx, "sess-old")
		s.Error(err)
		_, err = s.sessions.Fetch(ctx, "sess-new")
		s.NoError(err)
		s.Equal(0, s.events.Len())

		entries, err := s.audits.ListByTarget(ctx, "sessions", "sess-old")
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(domain.OutcomeDeleted, entries[0].Outcome)
	})
}

func (s *EngineSuite) TestCascadeReachesGrandchildren() {
	ctx := context.Background()

	users := registry.NewMemoryAccessor("users")
	sessions := registry.NewMemoryAccessor("sessions")
	events := registry.NewMemoryAccessor("events")
	reg := registry.New()
	s.Require().NoError(reg.Register("users", users, "sessions"))
	s.Require().NoError(reg.Register("sessions", sessions, "events"))
	s.Require().NoError(reg.Register("events", events))
	s.Require().NoError(reg.Finalize())

	s.putPolicy("users", 30, domain.ArchiveStrategyDelete)
	users.Put(registry.Record{
		ID:        "user-1",
		SubjectID: domain.NewSubjectID(),
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
	})
	sessions.PutChild(registry.Record{ID: "sess-1"}, "user-1")
	events.PutChild(registry.Record{ID: "ev-1"}, "sess-1")

	engine := NewEngine(
		reg, s.policies, s.exemptions, classification.NewRegistry(),
		nil, s.archives, s.watermarks, s.audits, txpkg.NopRunner{},
		policy.NewMemoryLease(), testLogger(), nil, Config{},
	)

	summary, err := engine.Run(ctx, "users")
	s.Require().NoError(err)
	s.Equal(1, summary.Counts[domain.OutcomeDeleted])

	// The event hangs off the session, not the user; the cascade must walk
	// through the intermediate level rather than stop at direct children.
	s.Equal(0, sessions.Len())
	s.Equal(0, events.Len())
}

func (s *EngineSuite) TestLegalHoldBlocksDeletion() {
	ctx := context.Background()
	s.putPolicy("sessions", 30, domain.ArchiveStrategyDelete)
	s.putSession("sess-held", 40*24*time.Hour)

	_, err := s.exemptions.Create(ctx, "sessions", "sess-held", "litigation", "legal@corp", nil)
	s.Require().NoError(err)

	summary, err := s.engine.Run(ctx, "sessions")
	s.Require().NoError(err)
	s.Equal(1, summary.Counts[domain.OutcomeExempted])
	s.Equal(0, summary.Counts[domain.OutcomeDeleted])

	_, err = s.sessions.Fetch(ctx, "sess-held")
	s.NoError(err)

	entries, err := s.audits.ListByTarget(ctx, "sessions", "sess-held")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(domain.OutcomeExempted, entries[0].Outcome)
	s.Equal("active legal hold", entries[0].Detail)
}

func (s *EngineSuite) TestArchiveStrategy() {
	ctx := context.Background()
	s.putPolicy("sessions", 30, domain.ArchiveStrategyArchive)
	rec := s.putSession("sess-arch", 40*24*time.Hour)

	summary, err := s.engine.Run(ctx, "sessions")
	s.Require().NoError(err)
	s.Equal(1, summary.Counts[domain.OutcomeArchived])

	snap, err := s.archives.FindByEntity(ctx, "sessions", "sess-arch")
	s.Require().NoError(err)
	s.Equal(rec.SubjectID, snap.SubjectID)
	s.Equal("10.0.0.1", snap.Fields["ip"])

	// Source is soft-deleted, not gone.
	kept, err := s.sessions.Fetch(ctx, "sess-arch")
	s.Require().NoError(err)
	s.NotNil(kept.DeletedAt)
}

func (s *EngineSuite) TestReviewStrategy() {
	ctx := context.Background()
	s.putPolicy("sessions", 30, domain.ArchiveStrategyNone)
	s.putSession("sess-rev", 40*24*time.Hour)

	summary, err := s.engine.Run(ctx, "sessions")
	s.Require().NoError(err)
	s.Equal(1, summary.Counts[domain.OutcomeReviewed])

	_, err = s.sessions.Fetch(ctx, "sess-rev")
	s.NoError(err)
}

func (s *EngineSuite) TestWatermarkIdempotence() {
	ctx := context.Background()
	s.putPolicy("sessions", 30, domain.ArchiveStrategyNone)
	for i := range 5 {
		s.putSession(fmt.Sprintf("sess-%d", i), 40*24*time.Hour)
	}

	first, err := s.engine.Run(ctx, "sessions")
	s.Require().NoError(err)
	s.Equal(5, first.Counts[domain.OutcomeReviewed])

	// A same-day re-run resumes past the watermark and touches nothing.
	second, err := s.engine.Run(ctx, "sessions")
	s.Require().NoError(err)
	s.Empty(second.Counts)

	entries, err := s.audits.ListByAction(ctx, domain.AuditExecution)
	s.Require().NoError(err)
	s.Len(entries, 5)
}

func (s *EngineSuite) TestLeaseConflict() {
	ctx := context.Background()
	s.putPolicy("sessions", 30, domain.ArchiveStrategyDelete)

	s.Require().NoError(s.lease.Acquire(ctx, "sessions", "other-engine", time.Minute))

	_, err := s.engine.Run(ctx, "sessions")
	s.Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *EngineSuite) TestRunAll() {
	ctx := context.Background()
	s.putPolicy("sessions", 30, domain.ArchiveStrategyDelete)
	s.putPolicy("events", 30, domain.ArchiveStrategyDelete)
	s.putSession("sess-1", 40*24*time.Hour)

	summaries, err := s.engine.RunAll(ctx)
	s.Require().NoError(err)
	s.Len(summaries, 2)
}

// txRecorder counts transactions so a test can assert which writes got one.
type txRecorder struct {
	calls int
}

func (r *txRecorder) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return fn(ctx)
}

// failingChecker fails the hold lookup for one record to prove failures stay
// isolated.
type failingChecker struct {
	inner  *exemption.Service
	failID string
}

func (f *failingChecker) IsExempt(ctx context.Context, t domain.EntityType, id string, at time.Time) (bool, error) {
	if id == f.failID {
		return false, fmt.Errorf("hold lookup unavailable")
	}
	return f.inner.IsExempt(ctx, t, id, at)
}

func (s *EngineSuite) TestFailureIsolation() {
	ctx := context.Background()
	s.putPolicy("sessions", 30, domain.ArchiveStrategyDelete)
	s.putSession("sess-bad", 40*24*time.Hour)
	s.putSession("sess-ok", 40*24*time.Hour)

	runner := &txRecorder{}
	engine := NewEngine(
		s.registry, s.policies, &failingChecker{inner: s.exemptions, failID: "sess-bad"},
		classification.NewRegistry(), nil, s.archives, s.watermarks, s.audits,
		runner, policy.NewMemoryLease(), testLogger(), nil, Config{},
	)

	summary, err := engine.Run(ctx, "sessions")
	s.Require().NoError(err)
	s.Equal(1, summary.Counts[domain.OutcomeFailed])
	s.Equal(1, summary.Counts[domain.OutcomeDeleted])
	s.True(summary.Failed())

	// The failure landed in the ledger, not just the log.
	entries, err := s.audits.ListByTarget(ctx, "sessions", "sess-bad")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(domain.OutcomeFailed, entries[0].Outcome)

	// One transaction per record plus one for the failure-path audit entry,
	// so the ledger row and its outbox row commit together.
	s.Equal(3, runner.calls)

	// The failed record survived.
	_, err = s.sessions.Fetch(ctx, "sess-bad")
	s.NoError(err)
}
