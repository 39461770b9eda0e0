// Package metrics provides Prometheus metrics for the gym score service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Scoring
	submissions        *prometheus.CounterVec
	aggregationLatency prometheus.Histogram
	levelFallbacks     prometheus.Counter

	// Live broadcast
	broadcastPublished *prometheus.CounterVec
	broadcastDropped   *prometheus.CounterVec
	liveSubscribers    prometheus.Gauge

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Idempotency keys
	dedupeKeys prometheus.Gauge

	// Repository
	repositoryRecordsTotal  prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         *prometheus.CounterVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByType      *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Configure rebuilds the global collectors on a fresh registry served by
// GetRegistry. Call it at startup before any recorder runs; counters start
// from zero.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	manager := NewManager(append([]Option{WithPrometheusRegistry(registry)}, opts...)...)
	customRegistry, globalManager = registry, manager
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "gymscore",
		subsystem:        "scores",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
			Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
		})
	}

	m.submissions = counterVec("submissions_total", "Judge submissions by outcome (upserted, deleted, replayed, rejected, failed)", "outcome")
	m.aggregationLatency = histogram("aggregation_latency_milliseconds", "Time to read and aggregate one score group")
	m.levelFallbacks = counter("level_fallbacks_total", "Submissions whose level was not configured and used the fallback method")

	m.broadcastPublished = counterVec("broadcast_published_total", "Live score events published per sink", "sink")
	m.broadcastDropped = counterVec("broadcast_dropped_total", "Live score events or deliveries dropped", "reason")
	m.liveSubscribers = gauge("live_subscribers", "Connected live score clients")

	m.queueSize = gauge("queue_size", "Broadcast jobs waiting in the queue")
	m.queueCapacity = gauge("queue_capacity", "Total broadcast queue capacity")
	m.queueUtilization = gauge("queue_utilization_ratio", "Broadcast queue fill ratio (0-1)")
	m.queueEnqueued = counter("queue_enqueued_total", "Broadcast jobs enqueued")
	m.queueDequeued = counter("queue_dequeued_total", "Broadcast jobs dequeued")
	m.queueEnqueueErrors = counter("queue_enqueue_errors_total", "Broadcast jobs rejected because the queue was full or closed")

	m.workerCount = gauge("worker_count", "Broadcast workers running")
	m.workerActiveCount = gauge("worker_active_count", "Broadcast workers currently processing a job")
	m.workerProcessingLatency = histogram("worker_processing_latency_milliseconds", "Time to re-aggregate and publish one group")
	m.workerErrors = counter("worker_errors_total", "Broadcast jobs that failed")

	m.dedupeKeys = gauge("dedupe_keys", "Idempotency keys currently remembered")

	m.repositoryRecordsTotal = gauge("repository_records_total", "Judge marks stored")
	m.repositoryUpdateLatency = histogram("repository_update_latency_milliseconds", "Store write latency")
	m.repositoryQueryLatency = histogram("repository_query_latency_milliseconds", "Store read latency")

	m.httpRequests = counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_milliseconds",
		Help: "HTTP request duration in milliseconds", Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.rateLimited = counterVec("rate_limited_total", "Requests rejected by the submission rate limiter", "endpoint")

	m.errorsByComponent = counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorsByType = counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorsByEndpoint = counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "Heap bytes in use")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Goroutines running")
	m.systemGCPauseTime = histogram("system_gc_pause_milliseconds", "Most recent GC pause")
}

// RecordSubmission counts a judge submission by outcome.
func RecordSubmission(outcome string) { globalManager.submissions.WithLabelValues(outcome).Inc() }

// RecordAggregationLatency observes one aggregation in milliseconds.
func RecordAggregationLatency(latencyMs float64) { globalManager.aggregationLatency.Observe(latencyMs) }

// RecordLevelFallback counts a submission for an unconfigured level.
func RecordLevelFallback() { globalManager.levelFallbacks.Inc() }

// RecordBroadcastPublished counts an event handed to a sink.
func RecordBroadcastPublished(sink string) { globalManager.broadcastPublished.WithLabelValues(sink).Inc() }

// RecordBroadcastDropped counts a dropped event or delivery.
func RecordBroadcastDropped(reason string) { globalManager.broadcastDropped.WithLabelValues(reason).Inc() }

// UpdateLiveSubscribers sets the number of connected live clients.
func UpdateLiveSubscribers(count int) { globalManager.liveSubscribers.Set(float64(count)) }

// UpdateQueueSize sets the queued job count.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the total queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the fill ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a delivered job.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a rejected job.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the running worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the busy worker count.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// RecordWorkerProcessingLatency observes one job in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed job.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// UpdateDedupeSize sets the remembered idempotency key count.
func UpdateDedupeSize(size int64) { globalManager.dedupeKeys.Set(float64(size)) }

// UpdateRepositoryRecordsTotal sets the stored mark count.
func UpdateRepositoryRecordsTotal(count int) { globalManager.repositoryRecordsTotal.Set(float64(count)) }

// RecordRepositoryUpdateLatency observes a store write.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency observes a store read.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes an HTTP request in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordRateLimited counts a throttled request.
func RecordRateLimited(endpoint string) { globalManager.rateLimited.WithLabelValues(endpoint).Inc() }

// RecordErrorByComponent counts an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType counts an error by severity.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint counts an error returned by an endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap bytes in use.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime observes a GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry served at /metrics.
func GetRegistry() *prometheus.Registry { return customRegistry }
