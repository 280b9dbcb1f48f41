package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the memory pipeline.
type Metrics struct {
	// Turn metrics
	Turns        *prometheus.CounterVec // outcome: ok, deflected, fallback, error
	TurnDuration prometheus.Histogram
	TurnErrors   *prometheus.CounterVec // kind from the error taxonomy

	// Context assembly
	ContextTokens    prometheus.Histogram
	DegradedReads    prometheus.Counter
	SummariesCreated prometheus.Counter

	// Safety
	SafetyRejections *prometheus.CounterVec // reason: forbidden_content, unnatural_phrasing, fabrication

	// Store and generation
	StoreWriteRetries  prometheus.Counter
	GenerationRequests *prometheus.CounterVec // outcome: ok, retryable_error, fatal_error

	// Front door and jobs
	WebSocketConnections prometheus.Gauge
	SessionsSwept        prometheus.Counter
	SummariesArchived    prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics registers the Prometheus metrics. Call once at startup.
func InitMetrics() *Metrics {
	metrics := &Metrics{
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reverie_turns_total",
			Help: "Total number of turns processed by outcome",
		}, []string{"outcome"}),

		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "reverie_turn_duration_seconds",
			Help:    "End-to-end turn latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		TurnErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reverie_turn_errors_total",
			Help: "Total number of failed turns by error kind",
		}, []string{"kind"}),

		ContextTokens: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "reverie_context_token_estimate",
			Help:    "Estimated token size of assembled context bundles",
			Buckets: []float64{50, 100, 250, 500, 750, 1000, 1250, 1500, 2000},
		}),

		DegradedReads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reverie_degraded_reads_total",
			Help: "Turns assembled with fallback or missing tier data because the store was unreachable",
		}),

		SummariesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reverie_summaries_created_total",
			Help: "Conversation summaries stored",
		}),

		SafetyRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reverie_safety_rejections_total",
			Help: "Candidate responses rejected by the safety validator, by reason",
		}, []string{"reason"}),

		StoreWriteRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reverie_store_write_retries_total",
			Help: "Retries of persistence writes after transient store failures",
		}),

		GenerationRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reverie_generation_requests_total",
			Help: "Generation API calls by outcome",
		}, []string{"outcome"}),

		WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "reverie_websocket_connections_active",
			Help: "Number of active WebSocket chat connections",
		}),

		SessionsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reverie_sessions_swept_total",
			Help: "Idle sessions flushed by the sweep job",
		}),

		SummariesArchived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reverie_summaries_archived_total",
			Help: "Summaries moved to the archive after falling past the retention cap",
		}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance, nil before
// InitMetrics.
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordTurn records a completed turn with its outcome and duration.
func (m *Metrics) RecordTurn(outcome string, seconds float64) {
	m.Turns.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

// RecordTurnError records a failed turn by taxonomy kind.
func (m *Metrics) RecordTurnError(kind string) {
	m.TurnErrors.WithLabelValues(kind).Inc()
}

// RecordContextTokens records the estimated size of an assembled
// bundle.
func (m *Metrics) RecordContextTokens(estimate int) {
	m.ContextTokens.Observe(float64(estimate))
}

// RecordDegradedRead records a turn that proceeded without full tier
// data.
func (m *Metrics) RecordDegradedRead() {
	m.DegradedReads.Inc()
}

// RecordSummaryCreated records a stored summary.
func (m *Metrics) RecordSummaryCreated() {
	m.SummariesCreated.Inc()
}

// RecordSafetyRejection records an Unsafe verdict by reason.
func (m *Metrics) RecordSafetyRejection(reason string) {
	m.SafetyRejections.WithLabelValues(reason).Inc()
}

// RecordWriteRetry records one retried persistence write.
func (m *Metrics) RecordWriteRetry() {
	m.StoreWriteRetries.Inc()
}

// RecordGeneration records a generation call outcome.
func (m *Metrics) RecordGeneration(outcome string) {
	m.GenerationRequests.WithLabelValues(outcome).Inc()
}

// RecordWebSocketConnect records a new WebSocket connection.
func (m *Metrics) RecordWebSocketConnect() {
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection.
func (m *Metrics) RecordWebSocketDisconnect() {
	m.WebSocketConnections.Dec()
}

// RecordSessionSwept records one idle session flushed by the sweep.
func (m *Metrics) RecordSessionSwept() {
	m.SessionsSwept.Inc()
}

// RecordSummaryArchived records summaries moved to the archive.
func (m *Metrics) RecordSummaryArchived(n int) {
	m.SummariesArchived.Add(float64(n))
}
