package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the delivery engine
type Metrics struct {
	// Dispatch
	MessagesSentTotal    *prometheus.CounterVec
	MessagesFailedTotal  *prometheus.CounterVec
	DispatchBatchSeconds prometheus.Histogram
	StaleSweptTotal      prometheus.Counter

	// Webhook ingestion
	EventsProcessedTotal *prometheus.CounterVec
	EventsSkippedTotal   *prometheus.CounterVec

	// Rate limiting
	RateLimitRejectedTotal *prometheus.CounterVec

	// Retry scheduling
	RetriesScheduledTotal prometheus.Counter
	RetriesExhaustedTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveryd_messages_sent_total",
				Help: "Total number of messages accepted by the transport gateway",
			},
			[]string{"transport"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveryd_messages_failed_total",
				Help: "Total number of failed send attempts",
			},
			[]string{"error_type"},
		),
		DispatchBatchSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deliveryd_dispatch_batch_seconds",
				Help:    "Duration of dispatch batch invocations",
				Buckets: prometheus.DefBuckets,
			},
		),
		StaleSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deliveryd_stale_swept_total",
				Help: "Total number of stuck processing messages reset by the sweeper",
			},
		),
		EventsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveryd_events_processed_total",
				Help: "Total number of provider events applied, by kind",
			},
			[]string{"kind"},
		),
		EventsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveryd_events_skipped_total",
				Help: "Total number of provider events skipped, by reason",
			},
			[]string{"reason"},
		),
		RateLimitRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveryd_rate_limit_rejected_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"reason"},
		),
		RetriesScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deliveryd_retries_scheduled_total",
				Help: "Total number of retry queue entries created",
			},
		),
		RetriesExhaustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deliveryd_retries_exhausted_total",
				Help: "Total number of messages whose retry budget ran out",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.DispatchBatchSeconds,
		m.StaleSweptTotal,
		m.EventsProcessedTotal,
		m.EventsSkippedTotal,
		m.RateLimitRejectedTotal,
		m.RetriesScheduledTotal,
		m.RetriesExhaustedTotal,
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
