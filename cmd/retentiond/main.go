// Command retentiond runs one retention pass over the configured product
// tables and exits. Scheduling is left to cron or the platform's job runner;
// overlapping invocations are safe because runs are serialized per entity
// type through the run lease.
//
// Exit codes: 0 when every record processed cleanly, 1 when the run finished
// with per-record failures, 2 on configuration or startup errors.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"custodia/internal/audit"
	"custodia/internal/audit/publisher"
	"custodia/internal/audit/worker"
	"custodia/internal/classification"
	"custodia/internal/exemption"
	"custodia/internal/platform/config"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/policy"
	"custodia/internal/registry"
	"custodia/internal/retention"
	"custodia/internal/vault"
	"custodia/pkg/domain"
	txpkg "custodia/pkg/tx"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	entityTypeFlag := flag.String("entity-type", "", "run a single entity type instead of all registered types")
	flag.Parse()

	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("configuration invalid", "err", err)
		return exitConfig
	}
	if cfg.DatabaseURL == "" {
		log.Error("CUSTODIA_DATABASE_URL is required")
		return exitConfig
	}
	if cfg.TablesFile == "" {
		log.Error("CUSTODIA_TABLES_FILE is required")
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", "err", err)
		return exitConfig
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("database unreachable", "err", err)
		return exitConfig
	}

	reg, err := registry.BuildFromFile(db, cfg.TablesFile)
	if err != nil {
		log.Error("table map invalid", "err", err)
		return exitConfig
	}

	classes := classification.NewRegistry()
	if cfg.ClassificationsFile != "" {
		if err := classification.LoadFile(classes, cfg.ClassificationsFile); err != nil {
			log.Error("classification map invalid", "err", err)
			return exitConfig
		}
	}

	var fieldVault *vault.Vault
	if cfg.VaultMasterKey != "" {
		fieldVault, err = vault.New(cfg.VaultMasterKey, vault.NewPostgresKeyring(db))
		if err != nil {
			log.Error("vault key invalid", "err", err)
			return exitConfig
		}
	}

	var lease policy.Lease = policy.NewPostgresLease(db)
	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "err", err)
		return exitConfig
	}
	if redisClient != nil {
		defer redisClient.Close()
		lease = policy.NewRedisLease(redisClient.Client)
	}

	runner := txpkg.NewSQLRunner(db)
	m := metrics.New()
	if fieldVault != nil {
		fieldVault = fieldVault.WithMetrics(m)
	}
	audits := audit.NewPostgresStore(db)
	exemptions := exemption.NewService(exemption.NewPostgresStore(db), audits, reg, runner)
	policies := policy.NewService(policy.NewPostgresStore(db), audits, reg, runner)

	// With brokers configured, outbox rows stream to Kafka while the run is
	// in flight. Without them the rows simply wait in the outbox table.
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := publisher.New(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			log.Error("kafka unavailable", "err", err)
			return exitConfig
		}
		defer pub.Close()
		w := worker.New(audits, pub, log)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error("audit outbox worker stopped", "err", err)
			}
		}()
	}

	engine := retention.NewEngine(
		reg,
		policies,
		exemptions,
		classes,
		fieldVault,
		retention.NewPostgresArchive(db),
		retention.NewPostgresWatermarks(db),
		audits,
		runner,
		lease,
		log,
		m,
		retention.Config{
			BatchSize:   cfg.BatchSize,
			LeaseTTL:    cfg.LeaseTTL,
			MaxParallel: cfg.MaxParallel,
		},
	)

	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	var summaries []retention.Summary
	if *entityTypeFlag != "" {
		t, err := domain.ParseEntityType(*entityTypeFlag)
		if err != nil {
			log.Error("invalid entity type", "entity_type", *entityTypeFlag, "err", err)
			return exitConfig
		}
		if !reg.Known(t) {
			log.Error("entity type not in table map", "entity_type", t)
			return exitConfig
		}
		summary, err := engine.Run(runCtx, t)
		if err != nil {
			log.Error("retention run failed", "entity_type", t, "err", err)
			return exitFailed
		}
		summaries = []retention.Summary{summary}
	} else {
		summaries, err = engine.RunAll(runCtx)
		if err != nil {
			log.Error("retention run failed", "err", err)
			return exitFailed
		}
	}

	code := exitOK
	for _, s := range summaries {
		logSummary(log, s)
		if s.Failed() {
			code = exitFailed
		}
	}
	return code
}

func logSummary(log *slog.Logger, s retention.Summary) {
	attrs := []any{
		"entity_type", s.EntityType,
		"duration", s.Completed.Sub(s.Started),
		"deferred", s.Deferred,
	}
	for outcome, n := range s.Counts {
		attrs = append(attrs, outcome.String(), n)
	}
	log.Info("retention run finished", attrs...)
}
