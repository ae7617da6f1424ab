// Package metrics provides Prometheus metrics for the CASVE worksheet service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the CASVE service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Worksheet metrics
	sessionsCreated *prometheus.CounterVec
	stepPatches     *prometheus.CounterVec
	stepAdvances    *prometheus.CounterVec
	activeSessions  prometheus.Gauge

	// Generation metrics
	generations       *prometheus.CounterVec
	generationLatency prometheus.Histogram
	tokensUsed        *prometheus.CounterVec
	upstreamRetries   prometheus.Counter
	optionsGenerated  prometheus.Counter

	// Store metrics
	storeOps     *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec

	// Journal metrics
	journalEnqueued  *prometheus.CounterVec
	journalDropped   *prometheus.CounterVec
	journalWritten   *prometheus.CounterVec
	journalFailures  *prometheus.CounterVec
	journalQueueSize prometheus.Gauge
	activityDupes    prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "casve",
		subsystem:        "worksheet",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(n, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(n, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(n, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(n, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(n, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.sessionsCreated = m.counterVec("sessions_created_total", "Total number of worksheet sessions created", "origin")
	m.stepPatches = m.counterVec("step_patches_total", "Total number of step patches by step and result", "step", "result")
	m.stepAdvances = m.counterVec("step_advances_total", "Total number of step advance attempts by step and result", "step", "result")
	m.activeSessions = m.gauge("active_sessions", "Sessions currently held by the store")

	m.generations = m.counterVec("generations_total", "Total number of option generation requests by outcome", "outcome")
	// Upstream LLM calls take seconds, not milliseconds.
	m.generationLatency = m.histogram("generation_latency_milliseconds", "End-to-end option generation latency in milliseconds",
		[]float64{250, 500, 1000, 2500, 5000, 10000, 20000, 40000, 60000})
	m.tokensUsed = m.counterVec("tokens_used_total", "Tokens reported by the upstream LLM", "kind")
	m.upstreamRetries = m.counter("upstream_retries_total", "Total number of retried upstream LLM calls")
	m.optionsGenerated = m.counter("options_generated_total", "Total number of options accepted from the upstream LLM")

	m.storeOps = m.counterVec("store_operations_total", "Session store operations by backend, operation and result", "backend", "op", "result")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Session store operation latency in milliseconds", "backend", "op")

	m.journalEnqueued = m.counterVec("journal_enqueued_total", "Journal records accepted for writing", "kind")
	m.journalDropped = m.counterVec("journal_dropped_total", "Journal records dropped because the queue was full or closed", "kind")
	m.journalWritten = m.counterVec("journal_written_total", "Journal records appended to daily files", "kind")
	m.journalFailures = m.counterVec("journal_failures_total", "Journal records that failed to be written", "kind")
	m.journalQueueSize = m.gauge("journal_queue_size", "Current number of journal records waiting to be written")
	m.activityDupes = m.counter("activity_duplicates_total", "Activity posts ignored as duplicates")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordSessionCreated counts a new session; origin is "api" or "import".
func RecordSessionCreated(origin string) {
	globalManager.sessionsCreated.WithLabelValues(origin).Inc()
}

// RecordStepPatch counts a step patch attempt.
func RecordStepPatch(step, result string) {
	globalManager.stepPatches.WithLabelValues(step, result).Inc()
}

// RecordStepAdvance counts a step advance attempt.
func RecordStepAdvance(step, result string) {
	globalManager.stepAdvances.WithLabelValues(step, result).Inc()
}

// UpdateActiveSessions sets the number of sessions in the store.
func UpdateActiveSessions(n int) {
	globalManager.activeSessions.Set(float64(n))
}

// RecordGeneration counts a generation request by outcome
// (success, incomplete_prerequisite, upstream_unavailable, malformed_llm_response).
func RecordGeneration(outcome string, latencyMs float64) {
	globalManager.generations.WithLabelValues(outcome).Inc()
	globalManager.generationLatency.Observe(latencyMs)
}

// RecordTokensUsed adds upstream token usage.
func RecordTokensUsed(prompt, completion int) {
	globalManager.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	globalManager.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// RecordUpstreamRetry increments the upstream retry counter.
func RecordUpstreamRetry() {
	globalManager.upstreamRetries.Inc()
}

// RecordOptionsGenerated adds accepted generated options.
func RecordOptionsGenerated(n int) {
	globalManager.optionsGenerated.Add(float64(n))
}

// RecordStoreOperation records a store operation and its latency.
func RecordStoreOperation(backend, op, result string, latencyMs float64) {
	globalManager.storeOps.WithLabelValues(backend, op, result).Inc()
	globalManager.storeLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// RecordJournalEnqueued counts a journal record accepted by the queue.
func RecordJournalEnqueued(kind string) {
	globalManager.journalEnqueued.WithLabelValues(kind).Inc()
}

// RecordJournalDropped counts a journal record refused by the queue.
func RecordJournalDropped(kind string) {
	globalManager.journalDropped.WithLabelValues(kind).Inc()
}

// RecordJournalWritten counts a journal record appended to disk.
func RecordJournalWritten(kind string) {
	globalManager.journalWritten.WithLabelValues(kind).Inc()
}

// RecordJournalFailure counts a journal record that could not be written.
func RecordJournalFailure(kind string) {
	globalManager.journalFailures.WithLabelValues(kind).Inc()
}

// UpdateJournalQueueSize sets the journal backlog.
func UpdateJournalQueueSize(n int) {
	globalManager.journalQueueSize.Set(float64(n))
}

// RecordActivityDuplicate increments the duplicate activity counter.
func RecordActivityDuplicate() {
	globalManager.activityDupes.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
