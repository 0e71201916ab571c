// Package metrics provides Prometheus metrics for Keyvex monitoring.
// Exports HTTP, AI provider, pipeline, store and WebSocket metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for Keyvex
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// AI Metrics
	AIRequestsTotal   *prometheus.CounterVec
	AIRequestDuration *prometheus.HistogramVec
	AITokensUsed      *prometheus.CounterVec
	AICostTotal       *prometheus.CounterVec
	AIFallbacksTotal  *prometheus.CounterVec
	AIInvalidObjects  *prometheus.CounterVec

	// Pipeline Metrics
	AgentRunsTotal     *prometheus.CounterVec
	AgentRunDuration   *prometheus.HistogramVec
	JobsInFlight       prometheus.Gauge
	JobsByStatus       *prometheus.GaugeVec
	ValidationsTotal   *prometheus.CounterVec
	ToolsArchivedTotal *prometheus.CounterVec

	// Store Metrics
	StoreOperationsTotal *prometheus.CounterVec

	// WebSocket Metrics
	WebSocketConnectionsGauge *prometheus.GaugeVec
	WebSocketMessagesTotal    *prometheus.CounterVec

	// System Metrics
	BuildInfo    *prometheus.GaugeVec
	StartupTime  prometheus.Gauge
	GoroutineNum prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics creates and registers all Prometheus metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keyvex",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keyvex",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keyvex",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"endpoint"},
	)

	m.AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total number of LLM requests by provider, model and status",
		},
		[]string{"provider", "model", "status"},
	)

	m.AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keyvex",
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"provider", "model"},
	)

	m.AITokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "ai",
			Name:      "tokens_total",
			Help:      "Tokens consumed by provider, model and direction",
		},
		[]string{"provider", "model", "direction"},
	)

	m.AICostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "ai",
			Name:      "cost_dollars_total",
			Help:      "Estimated LLM spend in US dollars",
		},
		[]string{"provider", "model"},
	)

	m.AIFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "ai",
			Name:      "fallbacks_total",
			Help:      "Fallback model attempts by original model, fallback model and reason",
		},
		[]string{"from_model", "to_model", "reason"},
	)

	m.AIInvalidObjects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "ai",
			Name:      "invalid_objects_total",
			Help:      "LLM replies rejected by JSON parsing or schema validation",
		},
		[]string{"model", "schema"},
	)

	m.AgentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "pipeline",
			Name:      "agent_runs_total",
			Help:      "Agent executions by agent and outcome",
		},
		[]string{"agent", "outcome"},
	)

	m.AgentRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keyvex",
			Subsystem: "pipeline",
			Name:      "agent_duration_seconds",
			Help:      "Agent execution time in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"agent"},
	)

	m.JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keyvex",
			Subsystem: "pipeline",
			Name:      "jobs_in_flight",
			Help:      "Orchestrated jobs currently running",
		},
	)

	m.JobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keyvex",
			Subsystem: "pipeline",
			Name:      "jobs",
			Help:      "Known jobs by status, sampled from the context store",
		},
		[]string{"status"},
	)

	m.ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "pipeline",
			Name:      "validations_total",
			Help:      "Code validations by method and result",
		},
		[]string{"method", "result"},
	)

	m.ToolsArchivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "pipeline",
			Name:      "tools_archived_total",
			Help:      "Finalized tool definitions written to artifact storage",
		},
		[]string{"backend", "result"},
	)

	m.StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Context store operations by operation, backend and result",
		},
		[]string{"operation", "backend", "result"},
	)

	m.WebSocketConnectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keyvex",
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Open WebSocket connections by type",
		},
		[]string{"type"},
	)

	m.WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyvex",
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "WebSocket messages by type and direction",
		},
		[]string{"type", "direction"},
	)

	m.BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keyvex",
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_date"},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keyvex",
			Name:      "startup_time_seconds",
			Help:      "Unix timestamp of process start",
		},
	)

	m.GoroutineNum = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keyvex",
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration, responseSize int) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(endpoint).Observe(float64(responseSize))
}

// RecordAIRequest records an LLM request metric
func (m *Metrics) RecordAIRequest(provider, model, status string, duration time.Duration, inputTokens, outputTokens int, cost float64) {
	m.AIRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.AIRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.AITokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.AITokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	m.AICostTotal.WithLabelValues(provider, model).Add(cost)
}

// RecordAIFallback records a fallback model attempt
func (m *Metrics) RecordAIFallback(fromModel, toModel, reason string) {
	m.AIFallbacksTotal.WithLabelValues(fromModel, toModel, sanitizeLabel(reason)).Inc()
}

// RecordInvalidObject records an LLM reply that failed parsing or validation
func (m *Metrics) RecordInvalidObject(model, schema string) {
	m.AIInvalidObjects.WithLabelValues(model, schema).Inc()
}

// RecordAgentRun records one agent execution
func (m *Metrics) RecordAgentRun(agent string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.AgentRunsTotal.WithLabelValues(agent, outcome).Inc()
	m.AgentRunDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordValidation records a code validation
func (m *Metrics) RecordValidation(method string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.ValidationsTotal.WithLabelValues(method, result).Inc()
}

// RecordToolArchived records an artifact write
func (m *Metrics) RecordToolArchived(backend string, err error) {
	m.ToolsArchivedTotal.WithLabelValues(backend, resultLabel(err)).Inc()
}

// RecordStoreOperation records a context store operation
func (m *Metrics) RecordStoreOperation(operation, backend string, err error) {
	m.StoreOperationsTotal.WithLabelValues(operation, backend, resultLabel(err)).Inc()
}

// RecordWebSocketConnection records a WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connType string, delta int) {
	m.WebSocketConnectionsGauge.WithLabelValues(connType).Add(float64(delta))
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.WebSocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// SetBuildInfo sets build information
func (m *Metrics) SetBuildInfo(version, commit, buildDate string) {
	m.BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Helper function to convert status code to label
func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
