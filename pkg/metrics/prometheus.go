// Package metrics provides Prometheus metrics for the taste-similarity engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recompute outcomes.
const (
	OutcomeUpserted = "upserted"
	OutcomeDeleted  = "deleted"
	OutcomeSkipped  = "skipped"
	OutcomeError    = "error"
)

// Batch run results.
const (
	BatchCompleted = "completed"
	BatchLocked    = "locked"
	BatchFailed    = "failed"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	registry       prometheus.Registerer

	// Recomputation
	recomputations   *prometheus.CounterVec
	recomputeLatency prometheus.Histogram

	// Batch
	batchRuns           *prometheus.CounterVec
	batchDuration       prometheus.Histogram
	batchPairsFound     *prometheus.GaugeVec
	batchPairFailures   *prometheus.CounterVec
	batchLastSuccessSec prometheus.Gauge
	cacheFlushedKeys    prometheus.Gauge

	// Incremental trigger
	signals         *prometheus.CounterVec
	triggerRetries  prometheus.Counter
	triggerDeferred prometheus.Counter

	// Cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec

	// Queue and workers
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	workerCount      prometheus.Gauge
	workerJobLatency prometheus.Histogram

	// Item source circuit breaker
	breakerState *prometheus.GaugeVec

	// System
	memoryUsage    prometheus.Gauge
	goroutines     prometheus.Gauge
	gcPause        prometheus.Gauge
	similarityRows prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "palate",
		subsystem:      "similarity",
		latencyBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // collector declarations
	auto := promauto.With(m.registry)

	m.recomputations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recomputations_total",
		Help:      "Pair recomputations by category and outcome",
	}, []string{"category", "outcome"})

	m.recomputeLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_latency_milliseconds",
		Help:      "Latency of a single pair recomputation in milliseconds",
		Buckets:   m.latencyBuckets,
	})

	m.batchRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_runs_total",
		Help:      "Nightly batch runs by result",
	}, []string{"result"})

	m.batchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_duration_seconds",
		Help:      "Wall time of completed batch runs",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
	})

	m.batchPairsFound = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_pairs_discovered",
		Help:      "Qualifying pairs discovered by the last batch run per category",
	}, []string{"category"})

	m.batchPairFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_pair_failures_total",
		Help:      "Pairs skipped by the batch because recomputation failed",
	}, []string{"category"})

	m.batchLastSuccessSec = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_last_success_unixtime",
		Help:      "Unix time of the last completed batch run",
	})

	m.cacheFlushedKeys = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_flushed_keys",
		Help:      "Cache keys removed by the last post-batch flush",
	})

	m.signals = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "signals_total",
		Help:      "Incoming reaction signals by disposition",
	}, []string{"disposition"})

	m.triggerRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_retries_total",
		Help:      "Incremental recomputations retried after a failure",
	})

	m.triggerDeferred = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "trigger_deferred_total",
		Help:      "Incremental recomputations left to the nightly batch after the retry failed",
	})

	m.cacheHits = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_hits_total",
		Help:      "Cache hits by tier",
	}, []string{"tier"})

	m.cacheMisses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_misses_total",
		Help:      "Cache misses by tier",
	}, []string{"tier"})

	m.cacheErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_errors_total",
		Help:      "Cache backend errors by operation",
	}, []string{"op"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Pending pair jobs in the trigger queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Capacity of the trigger queue",
	})

	m.queueEnqueued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueued_total",
		Help:      "Pair jobs accepted by the trigger queue",
	})

	m.queueRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_rejected_total",
		Help:      "Pair jobs rejected by the trigger queue by reason",
	}, []string{"reason"})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Trigger workers running",
	})

	m.workerJobLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_job_latency_milliseconds",
		Help:      "Time a worker spent on one pair job including retries",
		Buckets:   append(append([]float64{}, m.latencyBuckets...), 5000, 10000),
	})

	m.breakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	m.memoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "system_memory_alloc_bytes",
		Help:      "Bytes of allocated heap objects",
	})

	m.goroutines = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "system_goroutines",
		Help:      "Number of goroutines",
	})

	m.gcPause = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "system_gc_pause_avg_milliseconds",
		Help:      "Average GC pause since start",
	})

	m.similarityRows = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows",
		Help:      "Rows in the taste_similarity table",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordRecompute counts one pair recomputation.
func RecordRecompute(category, outcome string) {
	globalManager.recomputations.WithLabelValues(category, outcome).Inc()
}

// RecordRecomputeLatency records recomputation latency in milliseconds.
func RecordRecomputeLatency(latencyMs float64) {
	globalManager.recomputeLatency.Observe(latencyMs)
}

// RecordBatchRun counts a batch run by result.
func RecordBatchRun(result string) {
	globalManager.batchRuns.WithLabelValues(result).Inc()
}

// RecordBatchDuration records the wall time of a completed run.
func RecordBatchDuration(seconds float64) {
	globalManager.batchDuration.Observe(seconds)
}

// UpdateBatchPairsDiscovered sets the pairs found for a category by the last run.
func UpdateBatchPairsDiscovered(category string, n int) {
	globalManager.batchPairsFound.WithLabelValues(category).Set(float64(n))
}

// RecordBatchPairFailure counts a pair skipped by the batch.
func RecordBatchPairFailure(category string) {
	globalManager.batchPairFailures.WithLabelValues(category).Inc()
}

// UpdateBatchLastSuccess sets the unix time of the last completed run.
func UpdateBatchLastSuccess(unix int64) {
	globalManager.batchLastSuccessSec.Set(float64(unix))
}

// UpdateCacheFlushedKeys sets the number of keys removed by the last flush.
func UpdateCacheFlushedKeys(n int) {
	globalManager.cacheFlushedKeys.Set(float64(n))
}

// RecordSignal counts an incoming signal by disposition (enqueued, ignored, coalesced, dropped).
func RecordSignal(disposition string) {
	globalManager.signals.WithLabelValues(disposition).Inc()
}

// RecordTriggerRetry counts a retried incremental recomputation.
func RecordTriggerRetry() {
	globalManager.triggerRetries.Inc()
}

// RecordTriggerDeferred counts a recomputation left to the nightly batch.
func RecordTriggerDeferred() {
	globalManager.triggerDeferred.Inc()
}

// RecordCacheHit counts a cache hit for tier.
func RecordCacheHit(tier string) {
	globalManager.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss counts a cache miss for tier.
func RecordCacheMiss(tier string) {
	globalManager.cacheMisses.WithLabelValues(tier).Inc()
}

// RecordCacheError counts a cache backend failure for op.
func RecordCacheError(op string) {
	globalManager.cacheErrors.WithLabelValues(op).Inc()
}

// UpdateQueueSize sets the current queue length.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueRejected counts a rejected job.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerJobLatency records the time spent on one job in milliseconds.
func RecordWorkerJobLatency(latencyMs float64) {
	globalManager.workerJobLatency.Observe(latencyMs)
}

// UpdateBreakerState sets the circuit breaker state gauge.
func UpdateBreakerState(name string, state float64) {
	globalManager.breakerState.WithLabelValues(name).Set(state)
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.memoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(n int) {
	globalManager.goroutines.Set(float64(n))
}

// RecordSystemGCPauseTime sets the average GC pause in milliseconds.
func RecordSystemGCPauseTime(ms float64) {
	globalManager.gcPause.Set(ms)
}

// UpdateSimilarityRows sets the persisted row count.
func UpdateSimilarityRows(n int) {
	globalManager.similarityRows.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
