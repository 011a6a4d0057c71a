package policy

import (
	"context"
	"time"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
	txpkg "custodia/pkg/tx"
)

// TypeChecker answers whether an entity type has a registered accessor.
type TypeChecker interface {
	Known(t domain.EntityType) bool
}

// Service owns policy mutations and pairs each with its audit entry.
type Service struct {
	store  Store
	audits audit.Store
	types  TypeChecker
	runner txpkg.Runner
}

func NewService(store Store, audits audit.Store, types TypeChecker, runner txpkg.Runner) *Service {
	return &Service{store: store, audits: audits, types: types, runner: runner}
}

// Put installs a new policy version for the entity type. The prior active
// version is deactivated in the same transaction and retained.
func (s *Service) Put(ctx context.Context, p RetentionPolicy, actor string) (RetentionPolicy, error) {
	if !s.types.Known(p.EntityType) {
		return RetentionPolicy{}, dErrors.Newf(dErrors.CodeValidation, "unknown entity type %q", p.EntityType)
	}
	if !p.Indefinite && p.RetentionDays <= 0 {
		return RetentionPolicy{}, dErrors.New(dErrors.CodeValidation, "retention period must be positive or indefinite")
	}
	if _, err := domain.ParseArchiveStrategy(p.Strategy.String()); err != nil {
		return RetentionPolicy{}, err
	}
	if p.Basis == "" {
		p.Basis = domain.BasisCreation
	}
	if _, err := domain.ParseRetentionBasis(p.Basis.String()); err != nil {
		return RetentionPolicy{}, err
	}

	now := time.Now().UTC()
	p.ID = domain.NewPolicyID()
	p.Active = true
	p.CreatedAt = now
	p.UpdatedAt = now

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		prior, err := s.store.DeactivateActive(ctx, p.EntityType)
		if err != nil {
			return err
		}
		p.Version = prior + 1
		if err := s.store.Insert(ctx, p); err != nil {
			return err
		}
		return s.audits.Append(ctx, audit.Entry{
			Actor:            actor,
			Action:           domain.AuditPolicyChange,
			TargetEntityType: p.EntityType,
			Outcome:          domain.OutcomeCreated,
			Detail:           p.Strategy.String(),
		})
	})
	if err != nil {
		return RetentionPolicy{}, err
	}
	return p, nil
}

// ActiveFor returns the active policy version for the entity type.
func (s *Service) ActiveFor(ctx context.Context, entityType domain.EntityType) (RetentionPolicy, error) {
	return s.store.ActiveFor(ctx, entityType)
}

// History returns every version for the entity type, oldest first.
func (s *Service) History(ctx context.Context, entityType domain.EntityType) ([]RetentionPolicy, error) {
	return s.store.History(ctx, entityType)
}
