package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsFinalized counts jobs by terminal status.
	JobsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_jobs_finalized_total",
			Help: "Generation jobs moved to a terminal status",
		},
		[]string{"status"},
	)

	// SlotAttempts counts settled fan-out slots by provider and outcome.
	SlotAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_slot_attempts_total",
			Help: "Settled generation slots",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks provider call duration including retries.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_provider_latency_seconds",
			Help:    "Duration of provider generation calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"provider"},
	)

	// PipelineSteps counts preparation steps by kind and memoization result.
	PipelineSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_pipeline_steps_total",
			Help: "Applied preparation steps",
		},
		[]string{"kind", "cache"},
	)

	// WebhookCallbacks counts gateway callbacks by result.
	WebhookCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_webhook_callbacks_total",
			Help: "Received completion callbacks",
		},
		[]string{"result"},
	)
)
