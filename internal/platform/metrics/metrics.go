// Package metrics exposes Prometheus instrumentation for the consultation
// session service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcilerPasses counts reconciliation passes by triggering signal.
	ReconcilerPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_reconciler_passes_total",
			Help: "Reconciliation passes run, by signal source",
		},
		[]string{"source"},
	)

	// ReconcilerDropped counts signals dropped before mutating state.
	ReconcilerDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_reconciler_dropped_total",
			Help: "Signals dropped by the reconciler, by reason",
		},
		[]string{"reason"},
	)

	// BackendErrors counts collaborator failures by operation and kind.
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_backend_errors_total",
			Help: "Clinic backend call failures, by operation and error kind",
		},
		[]string{"op", "kind"},
	)

	// CacheRestores counts session cache restore attempts by outcome.
	CacheRestores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_cache_restores_total",
			Help: "Durable session restore attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// SavesTotal counts save attempts by outcome.
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_saves_total",
			Help: "Consultation save attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// SaveDuration observes the latency of the full save protocol.
	SaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consult_save_duration_seconds",
			Help:    "Duration of the save protocol including backend calls",
			Buckets: prometheus.DefBuckets,
		},
	)
)
