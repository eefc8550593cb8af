package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApplicationsSubmitted tracks loan application submissions per partner
	// and outcome (submitted/error/duplicate)
	ApplicationsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditsync_applications_submitted_total",
		Help: "Total number of loan application submission attempts",
	}, []string{"company", "outcome"})

	// StatusChecks tracks partner status polls per partner and outcome
	// (updated/unchanged/pending/unmapped/error)
	StatusChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditsync_status_checks_total",
		Help: "Total number of partner status checks",
	}, []string{"company", "outcome"})

	// ReconcilePassDuration measures how long a full reconciliation pass takes.
	// Use this to spot partner API latency degradation before the pass overruns
	// the schedule interval
	ReconcilePassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "creditsync_reconcile_pass_duration_seconds",
		Help:    "Duration of a full reconciliation pass in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// ReconcilePassSkipped counts scheduler ticks dropped because the previous
	// pass was still running
	ReconcilePassSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creditsync_reconcile_pass_skipped_total",
		Help: "Total number of scheduled passes skipped due to an in-flight pass",
	})

	// FeedSize tracks the number of items written by the last feed sync
	FeedSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "creditsync_feed_items",
		Help: "Number of feed items written by the last sync pass",
	})

	// EventsPublished counts status events pushed to the broker
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditsync_events_published_total",
		Help: "Total number of status events published to the broker",
	}, []string{"outcome"})

	// HealthStatus provides a binary 0/1 signal for the reconciler health
	// 1 = last pass completed, 0 = last pass failed
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "creditsync_healthy",
		Help: "Health of the reconciler (1 when the last pass completed)",
	})
)
