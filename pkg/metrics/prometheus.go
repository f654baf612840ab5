// Package metrics provides Prometheus metrics for the baseline scoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "baseline"
	subsystem = "scoring"
)

// latencyBuckets spans sub-millisecond lookups to multi-second sync calls.
var latencyBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000} //nolint:gochecknoglobals // shared default

// Manager owns every Prometheus collector registered by the service.
type Manager struct {
	enabled     bool
	constLabels map[string]string
	registry    prometheus.Registerer

	// Scoring
	scoresComputed *prometheus.CounterVec
	scoringLatency prometheus.Histogram
	matchOutcomes  *prometheus.CounterVec

	// Reference data
	referenceSamples   *prometheus.GaugeVec
	referenceSnapshots prometheus.Counter

	// Results and profiles
	resultsCreated    prometheus.Counter
	usersTotal        prometheus.Gauge
	repositoryLatency *prometheus.HistogramVec

	// Update notifications
	updatesPublished prometheus.Counter
	updatesDelivered prometheus.Counter
	updatesDuplicate prometheus.Counter

	// Sync queue and workers
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueRejected   *prometheus.CounterVec
	workerCount     prometheus.Gauge
	workersPaused   prometheus.Gauge
	jobLatency      *prometheus.HistogramVec
	syncErrors      *prometheus.CounterVec
	unsyncedResults prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init replaces the global manager with one built from opts on a fresh
// registry. Call it once at startup, before anything records.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append([]Option{WithPrometheusRegistry(registry)}, opts...)...)
	customRegistry = registry
}

// NewManager creates a new metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		enabled:     true,
		constLabels: make(map[string]string),
		registry:    prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for all collectors
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	m.scoresComputed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "scores_total",
		Help: "Score queries by outcome reason (ok, unmatched, insufficient_data)",
	}, []string{"category", "reason"})

	m.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name:    "scoring_latency_milliseconds",
		Help:    "Latency of a single percentile computation in milliseconds",
		Buckets: latencyBuckets,
	})

	m.matchOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "band_matches_total",
		Help: "Population band matches by category and result",
	}, []string{"category", "matched"})

	m.referenceSamples = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "reference_samples",
		Help: "Reference samples per metric and category",
	}, []string{"metric", "category"})

	m.referenceSnapshots = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "reference_snapshots_total",
		Help: "Reference store snapshots published",
	})

	m.resultsCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "results_created_total",
		Help: "Psych test results persisted",
	})

	m.usersTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "users",
		Help: "Users known to the profile store",
	})

	m.repositoryLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name:    "repository_latency_milliseconds",
		Help:    "Repository operation latency in milliseconds",
		Buckets: latencyBuckets,
	}, []string{"op"})

	m.updatesPublished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "result_updates_published_total",
		Help: "Result updates durably recorded in the outbox",
	})

	m.updatesDelivered = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "result_updates_delivered_total",
		Help: "Result update notifications delivered to listeners",
	})

	m.updatesDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "result_updates_duplicate_total",
		Help: "Outbox rows skipped because they were already delivered",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "sync_queue_size",
		Help: "Jobs waiting in the sync queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "sync_queue_capacity",
		Help: "Maximum sync queue capacity",
	})

	m.queueRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "sync_queue_rejected_total",
		Help: "Jobs the sync queue refused",
	}, []string{"reason"})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "sync_workers",
		Help: "Sync workers in the pool",
	})

	m.workersPaused = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "sync_paused",
		Help: "1 while background activity is paused",
	})

	m.jobLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name:    "sync_job_latency_milliseconds",
		Help:    "Sync job processing latency in milliseconds",
		Buckets: latencyBuckets,
	}, []string{"kind"})

	m.syncErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "sync_errors_total",
		Help: "Sync job failures by kind",
	}, []string{"kind"})

	m.unsyncedResults = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "unsynced_results",
		Help: "Results not yet acknowledged by the remote service",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: latencyBuckets,
	}, []string{"route", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, ConstLabels: labels,
		Name: "errors_by_component_total",
		Help: "Errors by component and type",
	}, []string{"component", "error_type"})
}

// RecordScore counts a score query outcome.
func RecordScore(category, reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.scoresComputed.WithLabelValues(category, reason).Inc()
}

// RecordScoringLatency records a percentile computation latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordBandMatch counts a matcher decision.
func RecordBandMatch(category string, matched bool) {
	if !globalManager.enabled {
		return
	}
	v := "false"
	if matched {
		v = "true"
	}
	globalManager.matchOutcomes.WithLabelValues(category, v).Inc()
}

// UpdateReferenceSamples sets the sample count for a metric/category pair.
func UpdateReferenceSamples(metric, category string, count float64) {
	globalManager.referenceSamples.WithLabelValues(metric, category).Set(count)
}

// IncrementReferenceSnapshots counts a published reference snapshot.
func IncrementReferenceSnapshots() {
	globalManager.referenceSnapshots.Inc()
}

// RecordResultCreated counts a persisted result.
func RecordResultCreated() {
	globalManager.resultsCreated.Inc()
}

// UpdateUsers sets the number of known users.
func UpdateUsers(count int) {
	globalManager.usersTotal.Set(float64(count))
}

// RecordRepositoryLatency records a repository operation latency.
func RecordRepositoryLatency(op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordUpdatePublished counts an outbox append.
func RecordUpdatePublished() {
	globalManager.updatesPublished.Inc()
}

// RecordUpdateDelivered counts a delivered notification.
func RecordUpdateDelivered() {
	globalManager.updatesDelivered.Inc()
}

// RecordUpdateDuplicate counts a suppressed redelivery.
func RecordUpdateDuplicate() {
	globalManager.updatesDuplicate.Inc()
}

// UpdateQueueSize sets the current sync queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the sync queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueRejected counts a refused enqueue.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of sync workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkersPaused records the pause flag.
func UpdateWorkersPaused(paused bool) {
	v := 0.0
	if paused {
		v = 1
	}
	globalManager.workersPaused.Set(v)
}

// RecordJobLatency records the processing latency of a sync job.
func RecordJobLatency(kind string, latencyMs float64) {
	globalManager.jobLatency.WithLabelValues(kind).Observe(latencyMs)
}

// RecordSyncError counts a failed sync job.
func RecordSyncError(kind string) {
	globalManager.syncErrors.WithLabelValues(kind).Inc()
}

// UpdateUnsyncedResults sets the number of results awaiting upload.
func UpdateUnsyncedResults(count int) {
	globalManager.unsyncedResults.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(route, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(route, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// SetEnabled toggles recording of the per-query scoring series.
func SetEnabled(enabled bool) {
	globalManager.enabled = enabled
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
