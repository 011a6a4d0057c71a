package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/pkg/domain"
)

// =============================================================================
// Registry Test Suite
// =============================================================================
// Justification for unit tests: the dependency graph validation runs once at
// startup; a cycle or a dangling child that slips through here would only
// surface mid-cascade in production.

type RegistrySuite struct {
	suite.Suite
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) TestRegister() {
	s.Run("rejects empty entity type", func() {
		r := New()
		s.Error(r.Register("", NewMemoryAccessor("")))
	})

	s.Run("rejects duplicate registration", func() {
		r := New()
		s.NoError(r.Register("users", NewMemoryAccessor("users")))
		err := r.Register("users", NewMemoryAccessor("users"))
		s.Error(err)
		s.Contains(err.Error(), "registered twice")
	})

	s.Run("rejects registration after finalize", func() {
		r := New()
		s.NoError(r.Register("users", NewMemoryAccessor("users")))
		s.Require().NoError(r.Finalize())
		s.Error(r.Register("sessions", NewMemoryAccessor("sessions")))
	})
}

func (s *RegistrySuite) TestFinalize() {
	s.Run("rejects unregistered child", func() {
		r := New()
		s.NoError(r.Register("users", NewMemoryAccessor("users"), "sessions"))
		err := r.Finalize()
		s.Error(err)
		s.Contains(err.Error(), "unregistered child")
	})

	s.Run("rejects dependency cycle", func() {
		r := New()
		s.NoError(r.Register("users", NewMemoryAccessor("users"), "sessions"))
		s.NoError(r.Register("sessions", NewMemoryAccessor("sessions"), "users"))
		err := r.Finalize()
		s.Error(err)
		s.Contains(err.Error(), "cycle")
	})

	s.Run("accepts diamond dependencies", func() {
		r := New()
		s.NoError(r.Register("users", NewMemoryAccessor("users"), "sessions", "orders"))
		s.NoError(r.Register("sessions", NewMemoryAccessor("sessions"), "events"))
		s.NoError(r.Register("orders", NewMemoryAccessor("orders"), "events"))
		s.NoError(r.Register("events", NewMemoryAccessor("events")))
		s.NoError(r.Finalize())
	})
}

func (s *RegistrySuite) TestDeletionOrder() {
	r := New()
	s.Require().NoError(r.Register("users", NewMemoryAccessor("users"), "sessions", "orders"))
	s.Require().NoError(r.Register("sessions", NewMemoryAccessor("sessions"), "events"))
	s.Require().NoError(r.Register("orders", NewMemoryAccessor("orders")))
	s.Require().NoError(r.Register("events", NewMemoryAccessor("events")))
	s.Require().NoError(r.Finalize())

	order, err := r.DeletionOrder("users")
	s.Require().NoError(err)

	// Descendants come before the entity types that depend on them, and the
	// root type itself is excluded.
	s.Equal([]domain.EntityType{"events", "sessions", "orders"}, order)

	s.Run("leaf type has empty order", func() {
		order, err := r.DeletionOrder("events")
		s.NoError(err)
		s.Empty(order)
	})

	s.Run("unknown type fails", func() {
		_, err := r.DeletionOrder("ghosts")
		s.Error(err)
	})
}

func (s *RegistrySuite) TestCascadeDelete() {
	ctx := context.Background()

	s.Run("reaches grandchildren through their direct parents", func() {
		users := NewMemoryAccessor("users")
		sessions := NewMemoryAccessor("sessions")
		events := NewMemoryAccessor("events")
		r := New()
		s.Require().NoError(r.Register("users", users, "sessions"))
		s.Require().NoError(r.Register("sessions", sessions, "events"))
		s.Require().NoError(r.Register("events", events))
		s.Require().NoError(r.Finalize())

		users.Put(Record{ID: "u1", SubjectID: domain.NewSubjectID()})
		sessions.PutChild(Record{ID: "s1"}, "u1")
		sessions.PutChild(Record{ID: "s2"}, "u1")
		events.PutChild(Record{ID: "e1"}, "s1")
		events.PutChild(Record{ID: "e2"}, "s2")

		// Unrelated branch stays.
		users.Put(Record{ID: "u2", SubjectID: domain.NewSubjectID()})
		sessions.PutChild(Record{ID: "s3"}, "u2")
		events.PutChild(Record{ID: "e3"}, "s3")

		s.Require().NoError(r.CascadeDelete(ctx, "users", "u1"))

		s.Equal(1, users.Len())
		s.Equal(1, sessions.Len())
		s.Equal(1, events.Len())
		_, err := events.Fetch(ctx, "e3")
		s.NoError(err)
	})

	s.Run("diamond descendants are deleted once", func() {
		users := NewMemoryAccessor("users")
		sessions := NewMemoryAccessor("sessions")
		orders := NewMemoryAccessor("orders")
		events := NewMemoryAccessor("events")
		r := New()
		s.Require().NoError(r.Register("users", users, "sessions", "orders"))
		s.Require().NoError(r.Register("sessions", sessions, "events"))
		s.Require().NoError(r.Register("orders", orders, "events"))
		s.Require().NoError(r.Register("events", events))
		s.Require().NoError(r.Finalize())

		users.Put(Record{ID: "u1", SubjectID: domain.NewSubjectID()})
		sessions.PutChild(Record{ID: "s1"}, "u1")
		orders.PutChild(Record{ID: "o1"}, "u1")
		events.PutChild(Record{ID: "e1"}, "s1")
		events.PutChild(Record{ID: "e2"}, "o1")

		s.Require().NoError(r.CascadeDelete(ctx, "users", "u1"))

		s.Equal(0, users.Len())
		s.Equal(0, sessions.Len())
		s.Equal(0, orders.Len())
		s.Equal(0, events.Len())
	})

	s.Run("unknown type fails", func() {
		r := New()
		s.Require().NoError(r.Register("users", NewMemoryAccessor("users")))
		s.Require().NoError(r.Finalize())
		s.Error(r.CascadeDelete(ctx, "ghosts", "g1"))
	})
}

// =============================================================================
// Memory Accessor Tests
// =============================================================================

type MemoryAccessorSuite struct {
	suite.Suite
	accessor *MemoryAccessor
}

func TestMemoryAccessorSuite(t *testing.T) {
	suite.Run(t, new(MemoryAccessorSuite))
}

func (s *MemoryAccessorSuite) SetupTest() {
	s.accessor = NewMemoryAccessor("sessions")
}

func (s *MemoryAccessorSuite) putAged(id string, age time.Duration) {
	now := time.Now()
	s.accessor.Put(Record{
		ID:             id,
		SubjectID:      domain.NewSubjectID(),
		Fields:         map[string]any{"ip": "10.0.0.1"},
		CreatedAt:      now.Add(-age),
		LastActivityAt: now.Add(-age),
	})
}

func (s *MemoryAccessorSuite) TestListExpired() {
	ctx := context.Background()
	s.putAged("a", 40*24*time.Hour)
	s.putAged("b", 40*24*time.Hour)
	s.putAged("c", time.Hour)

	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	s.Run("returns only expired records in id order", func() {
		out, err := s.accessor.ListExpired(ctx, ExpiryQuery{
			Cutoff: cutoff, Basis: domain.BasisCreation, Limit: 10,
		})
		s.Require().NoError(err)
		s.Require().Len(out, 2)
		s.Equal("a", out[0].ID)
		s.Equal("b", out[1].ID)
	})

	s.Run("resumes past a watermark", func() {
		out, err := s.accessor.ListExpired(ctx, ExpiryQuery{
			Cutoff: cutoff, Basis: domain.BasisCreation, AfterID: "a", Limit: 10,
		})
		s.Require().NoError(err)
		s.Require().Len(out, 1)
		s.Equal("b", out[0].ID)
	})

	s.Run("excludes soft-deleted records unless asked", func() {
		s.Require().NoError(s.accessor.SoftDelete(ctx, "a"))

		out, err := s.accessor.ListExpired(ctx, ExpiryQuery{
			Cutoff: cutoff, Basis: domain.BasisCreation, Limit: 10,
		})
		s.Require().NoError(err)
		s.Require().Len(out, 1)
		s.Equal("b", out[0].ID)

		out, err = s.accessor.ListExpired(ctx, ExpiryQuery{
			Cutoff: cutoff, Basis: domain.BasisCreation, IncludeDeleted: true, Limit: 10,
		})
		s.Require().NoError(err)
		s.Len(out, 2)
	})
}

func (s *MemoryAccessorSuite) TestCascadeHelpers() {
	ctx := context.Background()
	parent := NewMemoryAccessor("users")
	parent.Put(Record{ID: "u1", SubjectID: domain.NewSubjectID()})
	s.accessor.PutChild(Record{ID: "s1"}, "u1")
	s.accessor.PutChild(Record{ID: "s2"}, "u1")
	s.accessor.PutChild(Record{ID: "s3"}, "u2")

	s.Require().NoError(s.accessor.DeleteChildrenOf(ctx, "users", "u1"))
	s.Equal(1, s.accessor.Len())

	_, err := s.accessor.Fetch(ctx, "s3")
	s.NoError(err)
}

func (s *MemoryAccessorSuite) TestAnonymize() {
	ctx := context.Background()
	s.accessor.Put(Record{ID: "s1", Fields: map[string]any{"ip": "10.0.0.1", "note": "keep"}})

	s.Require().NoError(s.accessor.Anonymize(ctx, "s1", map[string]string{"ip": "[ANONYMIZED]"}))

	rec, err := s.accessor.Fetch(ctx, "s1")
	s.Require().NoError(err)
	s.Equal("[ANONYMIZED]", rec.Fields["ip"])
	s.Equal("keep", rec.Fields["note"])
}
