// Package metrics registers the Prometheus instruments for sync processing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileTotal counts reconciliation outcomes by result:
	// applied, conflict, write_race, not_found.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitsync_reconcile_total",
		Help: "Reconciliation requests by outcome.",
	}, []string{"result"})

	// ConflictTotal counts recorded conflicts by entity type.
	ConflictTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitsync_conflicts_total",
		Help: "Conflicts recorded during reconciliation, by entity type.",
	}, []string{"entity_type"})

	// ReconcileDuration observes how long one reconciliation takes.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "splitsync_reconcile_duration_seconds",
		Help:    "Duration of one reconciliation, load to persist.",
		Buckets: prometheus.DefBuckets,
	})

	// QueueRetries counts retryable sync queue failures.
	QueueRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_queue_retries_total",
		Help: "Sync queue actions rescheduled after a retryable failure.",
	})

	// QueueFailures counts actions that reached the terminal failed state.
	QueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_queue_failures_total",
		Help: "Sync queue actions that failed terminally.",
	})
)
