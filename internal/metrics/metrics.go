// Package metrics exposes the Prometheus collectors for the queue,
// pipeline and webhook-delivery components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector registered by this module.
type Metrics struct {
	QueueSendTotal     *prometheus.CounterVec
	QueueClaimTotal    *prometheus.CounterVec
	QueueClaimLatency  *prometheus.HistogramVec
	QueueRecovered     *prometheus.CounterVec
	PipelineStageTotal *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	WebhookAttempts    *prometheus.CounterVec
	WebhookOutcomes    *prometheus.CounterVec
	WebhookBackoff     prometheus.Histogram
}

// New registers and returns a Metrics instance on the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers collectors against a custom registerer, so
// tests can use a throwaway prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueSendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_send_total",
			Help: "Messages sent, by queue name.",
		}, []string{"queue"}),
		QueueClaimTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_claim_total",
			Help: "Messages claimed (pending->processing), by queue name and outcome.",
		}, []string{"queue", "outcome"}),
		QueueClaimLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_recv_with_timeout_seconds",
			Help:    "Time spent inside recv_with_timeout.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		}, []string{"queue", "outcome"}),
		QueueRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_recovered_total",
			Help: "Messages swept from processing back to pending by the visibility-timeout recovery sweep.",
		}, []string{"queue"}),
		PipelineStageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_total",
			Help: "Pipeline stage completions, by stage and terminal state.",
		}, []string{"stage", "state"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time spent inside a pipeline stage handler.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		WebhookAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_delivery_attempts_total",
			Help: "Webhook delivery attempts, by event type.",
		}, []string{"event_type"}),
		WebhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_delivery_outcomes_total",
			Help: "Webhook delivery terminal/retry outcomes.",
		}, []string{"outcome"}),
		WebhookBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhook_backoff_seconds",
			Help:    "Computed backoff delay before the next delivery attempt.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
	}

	reg.MustRegister(
		m.QueueSendTotal, m.QueueClaimTotal, m.QueueClaimLatency, m.QueueRecovered,
		m.PipelineStageTotal, m.PipelineDuration,
		m.WebhookAttempts, m.WebhookOutcomes, m.WebhookBackoff,
	)
	return m
}
