package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures everything the retention daemon needs from its environment
// so main stays lean. Redis and Kafka are optional: with no Redis URL the run
// lease falls back to Postgres, with no brokers audit entries stay in the
// outbox table.
type Config struct {
	DatabaseURL string `env:"CUSTODIA_DATABASE_URL"`

	// TablesFile points at the JSON table map describing the product tables
	// the daemon operates on.
	TablesFile string `env:"CUSTODIA_TABLES_FILE"`
	// ClassificationsFile optionally points at the JSON field classification
	// map. Unlisted fields default to internal sensitivity.
	ClassificationsFile string `env:"CUSTODIA_CLASSIFICATIONS_FILE"`

	RedisURL string `env:"CUSTODIA_REDIS_URL"`

	KafkaBrokers []string `env:"CUSTODIA_KAFKA_BROKERS" envSeparator:","`
	AuditTopic   string   `env:"CUSTODIA_AUDIT_TOPIC" envDefault:"custodia.audit.v1"`

	// VaultMasterKey is the base64 master secret that key versions are
	// derived from. Required whenever any field is classified restricted.
	VaultMasterKey string `env:"CUSTODIA_VAULT_MASTER_KEY"`

	ExportSigningKey string `env:"CUSTODIA_EXPORT_SIGNING_KEY"`
	ExportDir        string `env:"CUSTODIA_EXPORT_DIR" envDefault:"/var/lib/custodia/exports"`

	BatchSize  int           `env:"CUSTODIA_BATCH_SIZE" envDefault:"500"`
	RunTimeout time.Duration `env:"CUSTODIA_RUN_TIMEOUT" envDefault:"30m"`
	LeaseTTL   time.Duration `env:"CUSTODIA_LEASE_TTL" envDefault:"15m"`
	// MaxParallel caps concurrent entity-type workers in a full run.
	MaxParallel int `env:"CUSTODIA_MAX_PARALLEL" envDefault:"4"`
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	return cfg, nil
}
