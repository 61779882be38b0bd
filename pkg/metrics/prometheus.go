package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Defaults for metric names: tempo_arcade_<name>.
const (
	defaultNamespace = "tempo"
	subsystem        = "arcade"
)

var (
	batchSizeBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128}
	ratingBuckets    = prometheus.LinearBuckets(0, 200, 11)
	latencyBuckets   = []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}
)

// Manager owns every metric of the service.
type Manager struct {
	namespace string
	enabled   bool
	registry  prometheus.Registerer

	// submissions
	submissionsTotal   prometheus.Counter
	playsTotal         prometheus.Counter
	recordsInserted    prometheus.Counter
	recordsUpdated     prometheus.Counter
	submissionFailures *prometheus.CounterVec
	batchSize          prometheus.Histogram
	submissionLatency  prometheus.Histogram
	xpAwarded          prometheus.Counter
	ratingValue        prometheus.Histogram
	idempotentReplays  prometheus.Counter

	// http
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// storage
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// progress queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueUtilization        prometheus.Gauge
	queueEnqueued           prometheus.Counter
	queueDequeued           prometheus.Counter
	queueEnqueueErrors      *prometheus.CounterVec
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	workerMessagesPerSecond prometheus.Gauge

	// standings
	standingsSize         *prometheus.GaugeVec
	snapshotDuration      *prometheus.HistogramVec
	snapshotLastUnix      *prometheus.GaugeVec
	snapshotCount         *prometheus.CounterVec
	archiveUploads        prometheus.Counter
	archiveErrors         prometheus.Counter
	eventsPublished       *prometheus.CounterVec
	eventsPublishFailures *prometheus.CounterVec

	errorsByComponent *prometheus.CounterVec

	// process
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: defaultNamespace,
		enabled:   true,
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		// collectors still exist so helpers stay safe; nothing is exported
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.submissionsTotal = auto.NewCounter(m.counterOpts("submissions_total", "Submission batches applied successfully"))
	m.playsTotal = auto.NewCounter(m.counterOpts("plays_total", "Individual plays reconciled"))
	m.recordsInserted = auto.NewCounter(m.counterOpts("records_inserted_total", "Records created by a first play"))
	m.recordsUpdated = auto.NewCounter(m.counterOpts("records_updated_total", "Records updated by a repeat play"))
	m.submissionFailures = auto.NewCounterVec(m.counterOpts("submission_failures_total", "Submission batches that failed, by reason"), []string{"reason"})
	m.batchSize = auto.NewHistogram(m.histogramOpts("submission_batch_size", "Plays per submission batch", batchSizeBuckets))
	m.submissionLatency = auto.NewHistogram(m.histogramOpts("submission_latency_milliseconds", "End to end submission latency", latencyBuckets))
	m.xpAwarded = auto.NewCounter(m.counterOpts("xp_awarded_total", "Experience points awarded"))
	m.ratingValue = auto.NewHistogram(m.histogramOpts("rating", "Ratings produced by recomputation", ratingBuckets))
	m.idempotentReplays = auto.NewCounter(m.counterOpts("idempotent_replays_total", "Submissions answered from the idempotency ledger"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration", latencyBuckets), []string{"endpoint", "method", "status_code"})

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_latency_milliseconds", "Storage operation latency", latencyBuckets), []string{"op"})
	m.storeErrors = auto.NewCounterVec(m.counterOpts("store_errors_total", "Storage operation failures"), []string{"op"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Progress events waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Progress queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Progress queue fill ratio"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Progress events enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeued_total", "Progress events handed to workers"))
	m.queueEnqueueErrors = auto.NewCounterVec(m.counterOpts("queue_enqueue_errors_total", "Progress events dropped, by reason"), []string{"reason"})
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Progress workers running"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Time to apply one progress event", latencyBuckets))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Progress events that failed to apply"))
	m.workerMessagesPerSecond = auto.NewGauge(m.gaugeOpts("worker_messages_per_second", "Progress events applied per second"))

	m.standingsSize = auto.NewGaugeVec(m.gaugeOpts("standings_players", "Players on a standings board"), []string{"board"})
	m.snapshotDuration = auto.NewHistogramVec(m.histogramOpts("standings_snapshot_duration_milliseconds", "Time to rebuild a standings snapshot", latencyBuckets), []string{"board"})
	m.snapshotLastUnix = auto.NewGaugeVec(m.gaugeOpts("standings_snapshot_last_unix", "Unix time of the last standings snapshot"), []string{"board"})
	m.snapshotCount = auto.NewCounterVec(m.counterOpts("standings_snapshots_total", "Standings snapshots published"), []string{"board"})
	m.archiveUploads = auto.NewCounter(m.counterOpts("archive_uploads_total", "Standings snapshots uploaded to the archive"))
	m.archiveErrors = auto.NewCounter(m.counterOpts("archive_errors_total", "Standings snapshot uploads that failed"))
	m.eventsPublished = auto.NewCounterVec(m.counterOpts("events_published_total", "Progress events published, by sink"), []string{"sink"})
	m.eventsPublishFailures = auto.NewCounterVec(m.counterOpts("events_publish_failures_total", "Progress events that failed to publish, by sink"), []string{"sink"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total", "Errors by component and type"), []string{"component", "type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Goroutines running"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_milliseconds", "Average GC pause", latencyBuckets))
}

// RecordSubmission records one applied batch.
func RecordSubmission(plays, inserted, updated int, xp, rating uint32, latencyMs float64) {
	globalManager.submissionsTotal.Inc()
	globalManager.playsTotal.Add(float64(plays))
	globalManager.recordsInserted.Add(float64(inserted))
	globalManager.recordsUpdated.Add(float64(updated))
	globalManager.batchSize.Observe(float64(plays))
	globalManager.xpAwarded.Add(float64(xp))
	globalManager.ratingValue.Observe(float64(rating))
	globalManager.submissionLatency.Observe(latencyMs)
}

// RecordSubmissionFailure counts a failed batch; reason is a short token such as "player_not_found".
func RecordSubmissionFailure(reason string) {
	globalManager.submissionFailures.WithLabelValues(reason).Inc()
}

// RecordIdempotentReplay counts a submission answered from the idempotency ledger.
func RecordIdempotentReplay() {
	globalManager.idempotentReplays.Inc()
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// ObserveStore records the latency of a storage operation and counts its failure.
func ObserveStore(op string, start time.Time, err error) {
	globalManager.storeLatency.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		globalManager.storeErrors.WithLabelValues(op).Inc()
	}
}

// UpdateQueueSize sets the queue depth and utilization.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue counts an enqueued progress event.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue counts a dequeued progress event.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError counts a dropped progress event.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records how long a worker spent on one event.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a progress event that failed to apply.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// UpdateWorkerMessagesPerSecond sets the recent apply rate.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// UpdateStandingsSize sets the number of players on a board.
func UpdateStandingsSize(board string, count int) {
	globalManager.standingsSize.WithLabelValues(board).Set(float64(count))
}

// RecordStandingsSnapshot records a snapshot rebuild of a board.
func RecordStandingsSnapshot(board string, durationMs float64) {
	globalManager.snapshotDuration.WithLabelValues(board).Observe(durationMs)
	globalManager.snapshotLastUnix.WithLabelValues(board).Set(float64(time.Now().Unix()))
	globalManager.snapshotCount.WithLabelValues(board).Inc()
}

// RecordArchiveUpload counts a snapshot upload and its outcome.
func RecordArchiveUpload(err error) {
	if err != nil {
		globalManager.archiveErrors.Inc()
		return
	}
	globalManager.archiveUploads.Inc()
}

// RecordEventPublished counts a progress event handed to a sink and its outcome.
func RecordEventPublished(sink string, err error) {
	if err != nil {
		globalManager.eventsPublishFailures.WithLabelValues(sink).Inc()
		return
	}
	globalManager.eventsPublished.WithLabelValues(sink).Inc()
}

// RecordErrorByComponent counts an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap bytes allocated.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records an average GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// Configure rebuilds the global metrics on a fresh registry with opts. It must
// run before the service starts recording; counts recorded earlier are lost.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append([]Option{WithPrometheusRegistry(registry)}, opts...)...)
	customRegistry = registry
}

// GetRegistry returns the registry the global metrics are registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
