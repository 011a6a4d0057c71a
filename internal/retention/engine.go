// Package retention applies the active policy of each entity type to its
// expired records. The engine is a read-only consumer of policies, legal
// holds and classifications, and the exclusive writer of execution audit
// entries.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	"custodia/internal/classification"
	"custodia/internal/platform/metrics"
	"custodia/internal/policy"
	"custodia/internal/registry"
	"custodia/internal/vault"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domainerrors"
	"custodia/pkg/sentinel"
	txpkg "custodia/pkg/tx"
)

// ExemptionChecker is the capability the engine needs from the legal hold
// registry.
type ExemptionChecker interface {
	IsExempt(ctx context.Context, entityType domain.EntityType, entityID string, at time.Time) (bool, error)
}

// PolicyReader is the capability the engine needs from the policy store.
type PolicyReader interface {
	ActiveFor(ctx context.Context, entityType domain.EntityType) (policy.RetentionPolicy, error)
}

// Summary reports one run over one entity type.
type Summary struct {
	EntityType domain.EntityType
	Started    time.Time
	Completed  time.Time
	// Counts maps outcome to the number of records that reached it.
	Counts map[domain.Outcome]int
	// Deferred counts candidates left for the next run because the caller's
	// deadline passed.
	Deferred int
}

// Failed reports whether any record failed during the run.
func (s Summary) Failed() bool {
	return s.Counts[domain.OutcomeFailed] > 0
}

func (s *Summary) bump(o domain.Outcome) {
	if s.Counts == nil {
		s.Counts = make(map[domain.Outcome]int)
	}
	s.Counts[o]++
}

// Config tunes an engine.
type Config struct {
	BatchSize int
	LeaseTTL  time.Duration
	// Holder identifies this engine instance in lease records.
	Holder string
	// MaxParallel caps how many entity types RunAll works on at once.
	// Zero or negative means no cap.
	MaxParallel int
}

// Engine executes retention runs.
type Engine struct {
	registry   *registry.Registry
	policies   PolicyReader
	exemptions ExemptionChecker
	classes    *classification.Registry
	vault      *vault.Vault
	archives   ArchiveStore
	watermarks WatermarkStore
	audits     audit.Store
	runner     txpkg.Runner
	lease      policy.Lease
	log        *slog.Logger
	metrics    *metrics.Metrics
	cfg        Config

	// now is swapped in tests.
	now func() time.Time
}

func NewEngine(
	reg *registry.Registry,
	policies PolicyReader,
	exemptions ExemptionChecker,
	classes *classification.Registry,
	v *vault.Vault,
	archives ArchiveStore,
	watermarks WatermarkStore,
	audits audit.Store,
	runner txpkg.Runner,
	lease policy.Lease,
	log *slog.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	if cfg.Holder == "" {
		cfg.Holder = uuid.NewString()
	}
	return &Engine{
		registry:   reg,
		policies:   policies,
		exemptions: exemptions,
		classes:    classes,
		vault:      v,
		archives:   archives,
		watermarks: watermarks,
		audits:     audits,
		runner:     runner,
		lease:      lease,
		log:        log,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RunAll runs every registered entity type, one worker per type. Partitions
// are independent; a failing type does not stop the others.
func (e *Engine) RunAll(ctx context.Context) ([]Summary, error) {
	types := e.registry.Types()
	summaries := make([]Summary, len(types))
	errs := make([]error, len(types))

	limit := e.cfg.MaxParallel
	if limit <= 0 {
		limit = -1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, t := range types {
		g.Go(func() error {
			summaries[i], errs[i] = e.Run(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	return summaries, errors.Join(errs...)
}

// Run applies the entity type's active policy to its expired records.
//
// Errors: CodeConflict when another engine holds the run lease; per-record
// failures do not surface here, they are counted in the summary and audited
// with outcome failed.
func (e *Engine) Run(ctx context.Context, entityType domain.EntityType) (Summary, error) {
	summary := Summary{EntityType: entityType, Started: e.now().UTC()}

	accessor, err := e.registry.Accessor(entityType)
	if err != nil {
		return summary, err
	}

	if err := e.lease.Acquire(ctx, entityType, e.cfg.Holder, e.cfg.LeaseTTL); err != nil {
		if errors.Is(err, sentinel.ErrLeaseHeld) {
			return summary, dErrors.Newf(dErrors.CodeConflict,
				"retention run for %q already in progress", entityType)
		}
		return summary, err
	}
	defer func() {
		if err := e.lease.Release(context.WithoutCancel(ctx), entityType, e.cfg.Holder); err != nil {
			e.log.Warn("lease release failed", "entity_type", entityType, "err", err)
		}
	}()

	pol, err := e.policies.ActiveFor(ctx, entityType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// No active policy means nothing to enforce.
			summary.Completed = e.now().UTC()
			return summary, nil
		}
		return summary, err
	}

	cutoff, ok := pol.Cutoff(e.now())
	if !ok {
		summary.Completed = e.now().UTC()
		return summary, nil
	}

	runDay := RunDay(e.now())
	after, err := e.watermarks.Get(ctx, entityType, runDay)
	if err != nil {
		return summary, err
	}

	e.log.Info("retention run started",
		"entity_type", entityType,
		"strategy", pol.Strategy,
		"cutoff", cutoff,
		"resume_after", after,
	)

	for {
		page, err := accessor.ListExpired(ctx, registry.ExpiryQuery{
			Cutoff:         cutoff,
			Basis:          pol.Basis,
			IncludeDeleted: pol.AppliesToDeleted,
			AfterID:        after,
			Limit:          e.cfg.BatchSize,
		})
		if err != nil {
			return summary, fmt.Errorf("list expired %s records: %w", entityType, err)
		}
		if len(page) == 0 {
			break
		}
		for _, rec := range page {
			if ctx.Err() != nil {
				// Deadline or cancellation: defer the rest to the next
				// scheduled run instead of retrying under pressure.
				summary.Deferred++
				continue
			}
			outcome := e.processRecord(ctx, pol, accessor, rec)
			summary.bump(outcome)
			if e.metrics != nil {
				e.metrics.RetentionOutcomes.WithLabelValues(entityType.String(), outcome.String()).Inc()
			}
			after = rec.ID
			if err := e.watermarks.Set(ctx, entityType, runDay, after); err != nil {
				e.log.Warn("watermark update failed", "entity_type", entityType, "err", err)
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	summary.Completed = e.now().UTC()
	result := "ok"
	if summary.Failed() {
		result = "partial"
	}
	if e.metrics != nil {
		e.metrics.RetentionRuns.WithLabelValues(entityType.String(), result).Inc()
	}
	e.log.Info("retention run finished",
		"entity_type", entityType,
		"counts", summary.Counts,
		"deferred", summary.Deferred,
	)
	return summary, nil
}

// processRecord handles one candidate inside its own transaction: the
// mutation and its audit entry commit together. A failure is isolated,
// audited with outcome failed, and never aborts the batch.
func (e *Engine) processRecord(ctx context.Context, pol policy.RetentionPolicy, accessor registry.Accessor, rec registry.Record) domain.Outcome {
	var outcome domain.Outcome
	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		exempt, err := e.exemptions.IsExempt(ctx, rec.EntityType, rec.ID, e.now())
		if err != nil {
			return err
		}
		if exempt {
			outcome = domain.OutcomeExempted
			return e.appendExecutionAudit(ctx, rec, outcome, "active legal hold")
		}

		switch pol.Strategy {
		case domain.ArchiveStrategyArchive:
			if err := e.archiveRecord(ctx, pol, accessor, rec); err != nil {
				return err
			}
			outcome = domain.OutcomeArchived
		case domain.ArchiveStrategyDelete:
			if err := e.registry.CascadeDelete(ctx, rec.EntityType, rec.ID); err != nil {
				return err
			}
			outcome = domain.OutcomeDeleted
		default:
			outcome = domain.OutcomeReviewed
		}
		return e.appendExecutionAudit(ctx, rec, outcome, "")
	})
	if err != nil {
		e.log.Error("retention record failed",
			"entity_type", rec.EntityType,
			"entity_id", rec.ID,
			"err", err,
		)
		// The failed transaction rolled back its audit entry, so the
		// failure is recorded in a fresh one. Skips and failures must
		// never vanish silently. The append gets its own transaction so
		// the ledger row and its outbox row commit together.
		auditErr := e.runner.RunInTx(ctx, func(ctx context.Context) error {
			return e.appendExecutionAudit(ctx, rec, domain.OutcomeFailed, err.Error())
		})
		if auditErr != nil {
			e.log.Error("failed to audit retention failure", "entity_id", rec.ID, "err", auditErr)
		}
		return domain.OutcomeFailed
	}
	return outcome
}

func (e *Engine) appendExecutionAudit(ctx context.Context, rec registry.Record, outcome domain.Outcome, detail string) error {
	return e.audits.Append(ctx, audit.Entry{
		Actor:            "retention-engine",
		Action:           domain.AuditExecution,
		TargetEntityType: rec.EntityType,
		TargetEntityID:   rec.ID,
		Outcome:          outcome,
		Detail:           detail,
	})
}

// archiveRecord snapshots the record and soft-deletes the source. Restricted
// fields stay in their stored encrypted form unless the policy requests a
// raw archive.
func (e *Engine) archiveRecord(ctx context.Context, pol policy.RetentionPolicy, accessor registry.Accessor, rec registry.Record) error {
	fields := make(map[string]any, len(rec.Fields))
	for name, value := range rec.Fields {
		if e.classes.RequiresEncryption(rec.EntityType, name) {
			if pol.RawArchive {
				if ev, ok := value.(vault.EncryptedValue); ok && e.vault != nil {
					plaintext, err := e.vault.Decrypt(ctx, ev)
					if err != nil {
						// Decryption failure is fatal for the field only;
						// archive the ciphertext instead.
						fields[name] = ev
						continue
					}
					fields[name] = string(plaintext)
					continue
				}
			}
			fields[name] = value
			continue
		}
		fields[name] = value
	}

	snap := Snapshot{
		ID:         uuid.New(),
		EntityType: rec.EntityType,
		EntityID:   rec.ID,
		SubjectID:  rec.SubjectID,
		Fields:     fields,
		TakenAt:    e.now().UTC(),
	}
	if err := e.archives.Save(ctx, snap); err != nil {
		return fmt.Errorf("save archive snapshot: %w", err)
	}
	return accessor.SoftDelete(ctx, rec.ID)
}
