package dsr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custodia/internal/audit"
	"custodia/internal/export"
	"custodia/internal/platform/metrics"
	"custodia/internal/policy"
	"custodia/internal/registry"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
	"custodia/pkg/sentinel"
	txpkg "custodia/pkg/tx"
)

// anonymizedPlaceholder irreversibly replaces PII field values.
const anonymizedPlaceholder = "[ANONYMIZED]"

// ExemptionChecker is the capability the workflow needs from the legal hold
// registry.
type ExemptionChecker interface {
	IsExempt(ctx context.Context, entityType domain.EntityType, entityID string, at time.Time) (bool, error)
}

// PolicyReader resolves the active policy for an entity type.
type PolicyReader interface {
	ActiveFor(ctx context.Context, entityType domain.EntityType) (policy.RetentionPolicy, error)
}

// Classifier picks the fields anonymization must overwrite.
type Classifier interface {
	SensitiveFields(t domain.EntityType, min domain.ClassificationLevel) []string
}

// Service runs the request state machine.
type Service struct {
	store      Store
	registry   *registry.Registry
	exemptions ExemptionChecker
	policies   PolicyReader
	classes    Classifier
	bundles    *export.BundleWriter
	audits     audit.Store
	runner     txpkg.Runner
	log        *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(
	store Store,
	reg *registry.Registry,
	exemptions ExemptionChecker,
	policies PolicyReader,
	classes Classifier,
	bundles *export.BundleWriter,
	audits audit.Store,
	runner txpkg.Runner,
	log *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		store:      store,
		registry:   reg,
		exemptions: exemptions,
		policies:   policies,
		classes:    classes,
		bundles:    bundles,
		audits:     audits,
		runner:     runner,
		log:        log,
		metrics:    m,
		now:        time.Now,
	}
}

// Submit opens a new request in status submitted.
func (s *Service) Submit(ctx context.Context, subjectID domain.SubjectID, reqType domain.DSRType) (Request, error) {
	if subjectID.IsNil() {
		return Request{}, dErrors.New(dErrors.CodeValidation, "subject id cannot be empty")
	}
	if _, err := domain.ParseDSRType(reqType.String()); err != nil {
		return Request{}, err
	}

	now := s.now().UTC()
	req := Request{
		ID:          domain.NewRequestID(),
		SubjectID:   subjectID,
		Type:        reqType,
		Status:      domain.DSRStatusSubmitted,
		SubmittedAt: now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, req); err != nil {
			return err
		}
		return s.audits.Append(ctx, audit.Entry{
			Actor:          subjectID.String(),
			Action:         domain.AuditDSRStep,
			TargetEntityID: req.ID.String(),
			Outcome:        domain.OutcomeCreated,
			Detail:         fmt.Sprintf("-> %s (%s)", req.Status, req.Type),
		})
	})
	if err != nil {
		return Request{}, err
	}
	s.countTransition(req.Type, req.Status)
	return req, nil
}

// Verify confirms the subject's identity. Mandatory before any processing.
func (s *Service) Verify(ctx context.Context, id domain.RequestID, actor string) (Request, error) {
	return s.transition(ctx, id, actor, domain.DSRStatusIdentityVerified, func(req *Request) error {
		now := s.now().UTC()
		req.VerifiedAt = &now
		return nil
	})
}

// Reject closes a request before processing. Only submitted and
// identity_verified requests can be rejected, and a reason is mandatory.
func (s *Service) Reject(ctx context.Context, id domain.RequestID, reason, actor string) (Request, error) {
	if strings.TrimSpace(reason) == "" {
		return Request{}, dErrors.New(dErrors.CodeValidation, "rejection reason is mandatory")
	}
	return s.transition(ctx, id, actor, domain.DSRStatusRejected, func(req *Request) error {
		now := s.now().UTC()
		req.RejectionReason = reason
		req.CompletedAt = &now
		return nil
	})
}

// ProcessOptions configure bundle production for access and portability
// requests.
type ProcessOptions struct {
	// RequesterLevel is the masking tier applied to the bundle.
	RequesterLevel domain.ClassificationLevel
	// Format applies to access requests; portability is always JSON.
	Format export.Format
}

// Process drives a verified request through in_progress to completed. The
// work between those two transitions depends on the request type. A request
// left in_progress by an earlier processing failure is resumed, not
// re-transitioned; the completion update remains version-checked.
func (s *Service) Process(ctx context.Context, id domain.RequestID, actor string, opts ProcessOptions) (Request, error) {
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Request{}, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return Request{}, err
	}
	if req.Status != domain.DSRStatusInProgress {
		req, err = s.transition(ctx, id, actor, domain.DSRStatusInProgress, nil)
		if err != nil {
			return Request{}, err
		}
	}

	var (
		resultRef  string
		resultNote string
	)
	switch req.Type {
	case domain.DSRTypeAccess:
		resultRef, err = s.produceBundle(ctx, req, opts, false)
	case domain.DSRTypePortability:
		opts.Format = export.FormatJSON
		resultRef, err = s.produceBundle(ctx, req, opts, true)
	case domain.DSRTypeDeletion:
		resultNote, err = s.eraseSubject(ctx, req)
	}
	if err != nil {
		// The request stays in_progress; internal detail is logged, not
		// surfaced to the subject.
		s.log.Error("dsr processing failed", "request_id", req.ID, "type", req.Type, "err", err)
		return Request{}, err
	}

	return s.transition(ctx, id, actor, domain.DSRStatusCompleted, func(req *Request) error {
		now := s.now().UTC()
		req.CompletedAt = &now
		req.ResultRef = resultRef
		req.ResultNote = resultNote
		return nil
	})
}

// SubjectStatus is all a data subject ever sees of their request.
type SubjectStatus struct {
	Status    domain.DSRStatus
	ResultRef string
}

// StatusFor returns the subject-visible view: status and, when terminal and
// applicable, the bundle reference. Never internal error detail.
func (s *Service) StatusFor(ctx context.Context, id domain.RequestID) (SubjectStatus, error) {
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return SubjectStatus{}, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return SubjectStatus{}, err
	}
	out := SubjectStatus{Status: req.Status}
	if req.Status == domain.DSRStatusCompleted {
		out.ResultRef = req.ResultRef
	}
	return out, nil
}

// transition moves a request to next under optimistic concurrency, appending
// the audit entry in the same transaction.
func (s *Service) transition(ctx context.Context, id domain.RequestID, actor string, next domain.DSRStatus, mutate func(*Request) error) (Request, error) {
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Request{}, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return Request{}, err
	}

	if req.Status.Terminal() {
		return Request{}, dErrors.Newf(dErrors.CodeTerminalState,
			"request is %s and cannot change", req.Status)
	}
	if !req.Status.CanTransition(next) {
		return Request{}, dErrors.Newf(dErrors.CodeValidation,
			"cannot move request from %s to %s", req.Status, next)
	}

	before := req.Status
	req.Status = next
	req.UpdatedAt = s.now().UTC()
	if mutate != nil {
		if err := mutate(&req); err != nil {
			return Request{}, err
		}
	}
	expected := req.Version
	req.Version++

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Update(ctx, req, expected); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "request was modified concurrently")
			}
			return err
		}
		entry := audit.Entry{
			Actor:          actor,
			Action:         domain.AuditDSRStep,
			TargetEntityID: req.ID.String(),
			Outcome:        domain.OutcomeReviewed,
			Detail:         fmt.Sprintf("%s -> %s", before, next),
		}
		if next == domain.DSRStatusRejected {
			entry.Outcome = domain.OutcomeRemoved
			entry.Detail = fmt.Sprintf("%s -> %s: %s", before, next, req.RejectionReason)
		}
		return s.audits.Append(ctx, entry)
	})
	if err != nil {
		return Request{}, err
	}
	s.countTransition(req.Type, next)
	return req, nil
}

func (s *Service) countTransition(t domain.DSRType, to domain.DSRStatus) {
	if s.metrics != nil {
		s.metrics.DSRTransitions.WithLabelValues(t.String(), to.String()).Inc()
	}
}

// gather collects every record referencing the subject across all registered
// entity types.
func (s *Service) gather(ctx context.Context, subjectID domain.SubjectID) ([]registry.Record, error) {
	var out []registry.Record
	for _, t := range s.registry.Types() {
		accessor, err := s.registry.Accessor(t)
		if err != nil {
			return nil, err
		}
		records, err := accessor.ListBySubject(ctx, subjectID)
		if err != nil {
			return nil, fmt.Errorf("gather %s records: %w", t, err)
		}
		out = append(out, records...)
	}
	return out, nil
}

func (s *Service) produceBundle(ctx context.Context, req Request, opts ProcessOptions, portableOnly bool) (string, error) {
	records, err := s.gather(ctx, req.SubjectID)
	if err != nil {
		return "", err
	}
	format := opts.Format
	if format == "" {
		format = export.FormatJSON
	}
	bundle, err := s.bundles.Write(ctx, export.SliceSource(records), export.Options{
		Format:         format,
		Requester:      req.SubjectID.String(),
		RequesterLevel: opts.RequesterLevel,
		PortableOnly:   portableOnly,
	})
	if err != nil {
		return "", err
	}
	return bundle.Token, nil
}

// eraseSubject deletes or anonymizes every record referencing the subject.
// Exempted records are anonymized in place; the note reports any partial
// completion.
func (s *Service) eraseSubject(ctx context.Context, req Request) (string, error) {
	records, err := s.gather(ctx, req.SubjectID)
	if err != nil {
		return "", err
	}

	deleted, anonymized, held := 0, 0, 0
	for _, rec := range records {
		exempt, err := s.exemptions.IsExempt(ctx, rec.EntityType, rec.ID, s.now())
		if err != nil {
			return "", err
		}
		if exempt {
			if err := s.anonymizeRecord(ctx, rec); err != nil {
				return "", err
			}
			anonymized++
			held++
			continue
		}

		erase, err := s.eraseMode(ctx, rec.EntityType)
		if err != nil {
			return "", err
		}
		if erase {
			err := s.registry.CascadeDelete(ctx, rec.EntityType, rec.ID)
			if errors.Is(err, sentinel.ErrNotFound) {
				// Already removed as a descendant of an earlier record.
				continue
			}
			if err != nil {
				return "", err
			}
			deleted++
		} else {
			if err := s.anonymizeRecord(ctx, rec); err != nil {
				return "", err
			}
			anonymized++
		}
	}

	note := fmt.Sprintf("%d records deleted, %d anonymized", deleted, anonymized)
	if held > 0 {
		note += fmt.Sprintf(" (%d under legal hold, anonymized instead of deleted; partial completion)", held)
	}
	return note, nil
}

// eraseMode reports whether records of the type are hard-deleted (true) or
// anonymized (false) for deletion requests, per the active policy. With no
// policy the safer erasure, hard delete, applies.
func (s *Service) eraseMode(ctx context.Context, t domain.EntityType) (bool, error) {
	pol, err := s.policies.ActiveFor(ctx, t)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return pol.Strategy != domain.ArchiveStrategyArchive, nil
}

func (s *Service) anonymizeRecord(ctx context.Context, rec registry.Record) error {
	accessor, err := s.registry.Accessor(rec.EntityType)
	if err != nil {
		return err
	}
	fields := make(map[string]string)
	for _, f := range s.classes.SensitiveFields(rec.EntityType, domain.ClassificationConfidential) {
		fields[f] = anonymizedPlaceholder
	}
	return accessor.Anonymize(ctx, rec.ID, fields)
}
