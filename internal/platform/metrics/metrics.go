package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the compliance core.
type Metrics struct {
	RetentionOutcomes *prometheus.CounterVec
	RetentionRuns     *prometheus.CounterVec
	DSRTransitions    *prometheus.CounterVec
	ConsentWrites     *prometheus.CounterVec
	VaultOperations   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates the metrics against a specific registerer; tests pass a
// fresh registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RetentionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_retention_outcomes_total",
			Help: "Retention engine per-record outcomes by entity type.",
		}, []string{"entity_type", "outcome"}),
		RetentionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_retention_runs_total",
			Help: "Retention engine runs by entity type and result.",
		}, []string{"entity_type", "result"}),
		DSRTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_dsr_transitions_total",
			Help: "Data subject request status transitions.",
		}, []string{"type", "to"}),
		ConsentWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_consent_writes_total",
			Help: "Consent ledger appends by decision.",
		}, []string{"decision"}),
		VaultOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_vault_operations_total",
			Help: "Crypto vault operations by kind and result.",
		}, []string{"op", "result"}),
	}
}
