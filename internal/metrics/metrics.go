// Package metrics exposes prometheus collectors for the reliability core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keelcore_events_published_total",
		Help: "Total number of events admitted to the bus queue.",
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keelcore_events_processed_total",
		Help: "Total number of events fully dispatched.",
	})

	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keelcore_handler_failures_total",
		Help: "Total number of handler failures, labelled by failure kind.",
	}, []string{"kind"})

	QueueOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keelcore_queue_overflow_total",
		Help: "Total number of events rejected at admission (backpressure).",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keelcore_queue_depth",
		Help: "Current number of events waiting in the bus queue.",
	})

	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keelcore_dead_letters_total",
		Help: "Total number of dead-letter records appended.",
	})

	HandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keelcore_handler_duration_ms",
		Help:    "Handler execution latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
	})

	DedupChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keelcore_dedup_checks_total",
		Help: "Total number of duplicate checks, labelled by verdict.",
	}, []string{"verdict"})

	DedupEntriesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keelcore_dedup_entries_expired_total",
		Help: "Total number of dedup entries removed by cleanup.",
	})

	StateWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keelcore_state_writes_total",
		Help: "Total number of state document writes, labelled by status.",
	}, []string{"status"})

	BackupsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keelcore_backups_pruned_total",
		Help: "Total number of state backups removed by retention pruning.",
	})
)
