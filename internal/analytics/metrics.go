package analytics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus metrics for the investigation engine.
// All metrics are prefixed with "opsleuth_".
type Metrics struct {
	SessionsTotal      *prometheus.CounterVec // by terminal status
	PhaseTransitions   *prometheus.CounterVec // by phase
	AttemptsTotal      *prometheus.CounterVec // by role and outcome
	GateDecisionsTotal *prometheus.CounterVec // by phase and verdict
	PhaseDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers the engine metrics. sync.Once guards
// against duplicate collector registration.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "opsleuth_sessions_total",
					Help: "Total investigations by terminal status",
				},
				[]string{"status"},
			),
			PhaseTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "opsleuth_phase_transitions_total",
					Help: "Total phase transitions entered",
				},
				[]string{"phase"},
			),
			AttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "opsleuth_delegation_attempts_total",
					Help: "Total delegation attempts by role and outcome",
				},
				[]string{"role", "outcome"},
			),
			GateDecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "opsleuth_gate_decisions_total",
					Help: "Total quality-gate decisions by phase and verdict",
				},
				[]string{"phase", "verdict"},
			),
			PhaseDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "opsleuth_phase_duration_seconds",
					Help:    "Duration of completed phases in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
				},
				[]string{"phase"},
			),
		}
	})
	return globalMetrics
}
