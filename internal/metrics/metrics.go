package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation jobs
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreline_job_runs_total",
			Help: "Scheduled job invocations by outcome (ok, error, timeout, skipped)",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoreline_job_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	MatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreline_match_outcomes_total",
			Help: "Per-match reconciliation outcomes",
		},
		[]string{"source", "outcome"},
	)

	ConditionalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreline_conditional_writes_total",
			Help: "Conditional field-group writes by group and whether they were applied",
		},
		[]string{"group", "applied"},
	)

	// Provider
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreline_provider_requests_total",
			Help: "Upstream provider requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoreline_provider_request_seconds",
			Help:    "Upstream provider request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scoreline_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	MalformedIncidents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scoreline_provider_malformed_incidents_total",
			Help: "Provider incidents dropped for an invalid shape",
		},
	)

	// Events and broadcast
	EventsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreline_events_detected_total",
			Help: "Events emitted by the detector",
		},
		[]string{"type"},
	)

	EventsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreline_events_deduplicated_total",
			Help: "Events suppressed by the dedup window",
		},
		[]string{"type"},
	)

	BroadcastSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scoreline_broadcast_sent_total",
			Help: "Envelopes delivered to websocket subscribers",
		},
	)

	BroadcastErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scoreline_broadcast_errors_total",
			Help: "Deliveries that failed and dropped the subscriber",
		},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scoreline_websocket_subscribers",
			Help: "Currently connected websocket subscribers",
		},
	)

	EventLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoreline_event_latency_seconds",
			Help:    "Ingest to broadcast latency per event type",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"type", "phase"},
	)

	// HTTP API
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreline_http_requests_total",
			Help: "REST requests by route template, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoreline_http_request_duration_seconds",
			Help:    "REST request duration by route template",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
