package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WizardTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_transitions_total",
			Help: "Total number of wizard step transitions",
		},
		[]string{"action", "step"},
	)

	WizardSnapshotErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wizard_snapshot_errors_total",
			Help: "Total number of failed wizard state snapshots",
		},
	)

	ListingsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_published_total",
			Help: "Total number of listings inserted",
		},
		[]string{"vehicle_type"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_publish_failures_total",
			Help: "Total number of rejected publish attempts",
		},
		[]string{"reason"},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listing_publish_duration_seconds",
			Help:    "Duration of publish attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wizard_active_sessions",
			Help: "Number of wizard sessions held in memory",
		},
	)
)
