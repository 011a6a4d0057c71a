package exemption

import (
	"context"
	"errors"
	"strings"
	"time"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
	"custodia/pkg/sentinel"
	txpkg "custodia/pkg/tx"
)

// TypeChecker answers whether an entity type has a registered accessor.
// Implemented by the accessor registry.
type TypeChecker interface {
	Known(t domain.EntityType) bool
}

// Service owns legal hold mutations. Every mutation commits together with
// its audit entry.
type Service struct {
	store  Store
	audits audit.Store
	types  TypeChecker
	runner txpkg.Runner
}

func NewService(store Store, audits audit.Store, types TypeChecker, runner txpkg.Runner) *Service {
	return &Service{store: store, audits: audits, types: types, runner: runner}
}

// Create places a legal hold on a record.
//
// Errors: CodeValidation on an unknown entity type, empty entity id or empty
// reason.
func (s *Service) Create(ctx context.Context, entityType domain.EntityType, entityID, reason, createdBy string, expiresAt *time.Time) (Exemption, error) {
	if !s.types.Known(entityType) {
		return Exemption{}, dErrors.Newf(dErrors.CodeValidation, "unknown entity type %q", entityType)
	}
	if entityID == "" {
		return Exemption{}, dErrors.New(dErrors.CodeValidation, "entity id cannot be empty")
	}
	if strings.TrimSpace(reason) == "" {
		return Exemption{}, dErrors.New(dErrors.CodeValidation, "reason cannot be empty")
	}
	if expiresAt != nil && expiresAt.Before(time.Now()) {
		return Exemption{}, dErrors.New(dErrors.CodeValidation, "expiry cannot be in the past")
	}

	now := time.Now().UTC()
	ex := Exemption{
		ID:         domain.NewExemptionID(),
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     reason,
		CreatedBy:  createdBy,
		ExpiresAt:  expiresAt,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, ex); err != nil {
			return err
		}
		return s.audits.Append(ctx, audit.Entry{
			Actor:            createdBy,
			Action:           domain.AuditExemptionChange,
			TargetEntityType: entityType,
			TargetEntityID:   entityID,
			Outcome:          domain.OutcomeCreated,
			Detail:           reason,
		})
	})
	if err != nil {
		return Exemption{}, err
	}
	return ex, nil
}

// IsExempt reports whether the record is under an active, unexpired hold at
// the given instant.
func (s *Service) IsExempt(ctx context.Context, entityType domain.EntityType, entityID string, at time.Time) (bool, error) {
	holds, err := s.store.ActiveFor(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	for _, h := range holds {
		if h.InForce(at) {
			return true, nil
		}
	}
	return false, nil
}

// Remove lifts a hold by deactivating its row. The row stays in the store.
func (s *Service) Remove(ctx context.Context, id domain.ExemptionID, actor string) error {
	ex, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "exemption not found")
		}
		return err
	}
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Deactivate(ctx, id); err != nil {
			return err
		}
		return s.audits.Append(ctx, audit.Entry{
			Actor:            actor,
			Action:           domain.AuditExemptionChange,
			TargetEntityType: ex.EntityType,
			TargetEntityID:   ex.EntityID,
			Outcome:          domain.OutcomeRemoved,
		})
	})
}
