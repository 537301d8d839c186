// Package metrics provides Prometheus metrics for the backr service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Domain
	backingAttempts   *prometheus.CounterVec
	registrations     *prometheus.CounterVec
	eventsCreated     *prometheus.CounterVec
	toggleCommands    *prometheus.CounterVec
	pointsUpdates     prometheus.Counter
	projections       prometheus.Counter
	projectionLatency prometheus.Histogram
	viewsActive       prometheus.Gauge
	viewTransitions   *prometheus.CounterVec
	dedupeEntries     prometheus.Gauge
	directoryLookups  *prometheus.CounterVec

	// Store
	storeLatency        *prometheus.HistogramVec
	storeErrors         *prometheus.CounterVec
	storeDocuments      *prometheus.GaugeVec
	storeSubscriptions  prometheus.Gauge
	storeSnapshotMs     prometheus.Histogram
	storeSnapshotLastTS prometheus.Gauge

	// Queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	workerLatency      prometheus.Histogram
	workerErrors       prometheus.Counter
	workerRetries      prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // package-level recorders

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // exposed through GetRegistry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "backr",
		subsystem:        "engine",
		histogramBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.backingAttempts = auto.NewCounterVec(m.counterOpts("backing_attempts_total",
		"Backing attempts by outcome (stored, duplicate, quota_exceeded, disabled, ...)"), []string{"outcome"})
	m.registrations = auto.NewCounterVec(m.counterOpts("registrations_total",
		"Registration attempts by outcome"), []string{"outcome"})
	m.eventsCreated = auto.NewCounterVec(m.counterOpts("events_created_total",
		"Events created by mode"), []string{"mode"})
	m.toggleCommands = auto.NewCounterVec(m.counterOpts("toggle_commands_total",
		"Toggle commands by outcome"), []string{"outcome"})
	m.pointsUpdates = auto.NewCounter(m.counterOpts("points_updates_total",
		"Managed participant point changes"))
	m.projections = auto.NewCounter(m.counterOpts("projections_total",
		"Leaderboard projections computed"))
	m.projectionLatency = auto.NewHistogram(m.histogramOpts("projection_latency_milliseconds",
		"Time to project a leaderboard"))
	m.viewsActive = auto.NewGauge(m.gaugeOpts("views_active",
		"Open live leaderboard views"))
	m.viewTransitions = auto.NewCounterVec(m.counterOpts("view_transitions_total",
		"Live view state transitions by target state"), []string{"state"})
	m.dedupeEntries = auto.NewGauge(m.gaugeOpts("dedupe_entries",
		"Idempotency keys currently remembered"))
	m.directoryLookups = auto.NewCounterVec(m.counterOpts("directory_lookups_total",
		"Display name lookups by cache result"), []string{"result"})

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_operation_latency_milliseconds",
		"Document store call latency"), []string{"driver", "operation"})
	m.storeErrors = auto.NewCounterVec(m.counterOpts("store_errors_total",
		"Failed document store calls"), []string{"driver", "operation"})
	m.storeDocuments = auto.NewGaugeVec(m.gaugeOpts("store_documents",
		"Documents held per collection"), []string{"collection"})
	m.storeSubscriptions = auto.NewGauge(m.gaugeOpts("store_subscriptions",
		"Live store subscriptions"))
	m.storeSnapshotMs = auto.NewHistogram(m.histogramOpts("store_snapshot_duration_milliseconds",
		"Time to write a store snapshot file"))
	m.storeSnapshotLastTS = auto.NewGauge(m.gaugeOpts("store_snapshot_last_unix",
		"Unix time of the last successful snapshot"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Pending toggle commands"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Toggle command queue capacity"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Commands enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeued_total", "Commands dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total",
		"Commands rejected because the queue was full or closed"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Running command workers"))
	m.workerLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Time to apply one command"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Commands that failed to apply"))
	m.workerRetries = auto.NewCounter(m.counterOpts("worker_retries_total", "Command apply retries"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration"), []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes in use"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Goroutines"))
}

// RecordBackingAttempt counts one backing attempt.
func RecordBackingAttempt(outcome string) {
	globalManager.backingAttempts.WithLabelValues(outcome).Inc()
}

// RecordRegistration counts one registration attempt.
func RecordRegistration(outcome string) {
	globalManager.registrations.WithLabelValues(outcome).Inc()
}

// RecordEventCreated counts a new event; mode is "public" or "admin".
func RecordEventCreated(mode string) {
	globalManager.eventsCreated.WithLabelValues(mode).Inc()
}

// RecordToggleCommand counts a toggle command outcome.
func RecordToggleCommand(outcome string) {
	globalManager.toggleCommands.WithLabelValues(outcome).Inc()
}

// RecordPointsUpdate counts a managed participant point change.
func RecordPointsUpdate() {
	globalManager.pointsUpdates.Inc()
}

// RecordProjection records one projection and its latency.
func RecordProjection(latencyMs float64) {
	globalManager.projections.Inc()
	globalManager.projectionLatency.Observe(latencyMs)
}

// AddActiveViews adjusts the open view gauge.
func AddActiveViews(delta int) {
	globalManager.viewsActive.Add(float64(delta))
}

// RecordViewTransition counts a view entering state.
func RecordViewTransition(state string) {
	globalManager.viewTransitions.WithLabelValues(state).Inc()
}

// UpdateDedupeEntries sets the idempotency key count.
func UpdateDedupeEntries(count int64) {
	globalManager.dedupeEntries.Set(float64(count))
}

// RecordDirectoryLookup counts a display-name lookup; result is "hit" or "miss".
func RecordDirectoryLookup(result string) {
	globalManager.directoryLookups.WithLabelValues(result).Inc()
}

// RecordStoreOperation records the latency of a store call and counts it as
// an error when failed is set.
func RecordStoreOperation(driver, operation string, latencyMs float64, failed bool) {
	globalManager.storeLatency.WithLabelValues(driver, operation).Observe(latencyMs)
	if failed {
		globalManager.storeErrors.WithLabelValues(driver, operation).Inc()
	}
}

// UpdateStoreDocuments sets the document count of a collection.
func UpdateStoreDocuments(collection string, count int) {
	globalManager.storeDocuments.WithLabelValues(collection).Set(float64(count))
}

// UpdateStoreSubscriptions sets the live subscription count.
func UpdateStoreSubscriptions(count int) {
	globalManager.storeSubscriptions.Set(float64(count))
}

// RecordStoreSnapshot records a successful snapshot write.
func RecordStoreSnapshot(durationMs float64, unix float64) {
	globalManager.storeSnapshotMs.Observe(durationMs)
	globalManager.storeSnapshotLastTS.Set(unix)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue counts an enqueued command.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue counts a dequeued command.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the running worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records how long one command took.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError counts a command that could not be applied.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWorkerRetry counts a retried command.
func RecordWorkerRetry() {
	globalManager.workerRetries.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the registry holding the service metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
