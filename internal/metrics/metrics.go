// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sends_total",
			Help: "Per-recipient provider calls by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_dispatch_batches_total",
			Help: "Dispatched batches by channel",
		},
		[]string{"channel"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campaign_dispatch_duration_seconds",
			Help:    "Wall time of a full dispatch run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"channel"},
	)

	CreditsDeducted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_credits_deducted_total",
			Help: "Credits charged by operation type",
		},
		[]string{"operation"},
	)

	TrackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_events_total",
			Help: "Open/click/unsubscribe events by whether they were the first occurrence",
		},
		[]string{"type", "first"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_webhook_events_total",
			Help: "Provider delivery-status callbacks by provider and outcome",
		},
		[]string{"provider", "status", "applied"},
	)

	AutomationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_results_total",
			Help: "Automation due-check results by outcome",
		},
		[]string{"outcome"},
	)

	QueueJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_total",
			Help: "Outbound task queue jobs by topic and result",
		},
		[]string{"topic", "result"},
	)
)
