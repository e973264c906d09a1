// Package metrics provides Prometheus metrics for the crewmap tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the tracker.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Feed metrics
	feedBatches         prometheus.Counter
	feedPositions       prometheus.Counter
	feedFetchErrors     prometheus.Counter
	feedConnected       prometheus.Gauge
	feedReconnects      prometheus.Counter
	feedDisconnects     prometheus.Counter
	feedRequestLatency  *prometheus.HistogramVec
	deviceRegistrations *prometheus.CounterVec

	// Reconciler metrics
	stalePositions      prometheus.Counter
	unresolvedPositions prometheus.Gauge
	promotedPositions   prometheus.Counter
	liveDevices         prometheus.Gauge
	reconcileLatency    prometheus.Histogram

	// Directory metrics
	rosterRefreshes     prometheus.Counter
	rosterRefreshErrors prometheus.Counter
	rosterSize          prometheus.Gauge
	changeNotifications *prometheus.CounterVec
	subscriptionsActive prometheus.Gauge

	// Trail metrics
	trailAppends        prometheus.Counter
	trailPersistErrors  prometheus.Counter
	trailExternalPoints prometheus.Counter
	trailDuplicates     prometheus.Counter
	trailPoints         prometheus.Gauge
	trailRollovers      prometheus.Counter
	trailPersistLatency prometheus.Histogram
	trailDedupeSize     prometheus.Gauge
	trailNotifyDrops    prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Error metrics
	errorRateByComponent *prometheus.CounterVec

	// System metrics
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
		namespace:        "crewmap",
		subsystem:        "tracker",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
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

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.feedBatches = m.counter("feed_batches_total", "Position batches delivered by the feed (poll and push)")
	m.feedPositions = m.counter("feed_positions_total", "Raw positions delivered by the feed")
	m.feedFetchErrors = m.counter("feed_fetch_errors_total", "Position polls that failed and returned an empty list")
	m.feedConnected = m.gauge("feed_connected", "1 while the push channel is open")
	m.feedReconnects = m.counter("feed_reconnect_attempts_total", "Push channel reconnect attempts")
	m.feedDisconnects = m.counter("feed_disconnects_total", "Push channel reconnect budgets exhausted")
	m.feedRequestLatency = m.histogramVec("feed_request_latency_milliseconds", "Provider REST call latency", "operation")
	m.deviceRegistrations = m.counterVec("device_registrations_total", "Device registrations by outcome", "outcome")

	m.stalePositions = m.counter("stale_positions_total", "Positions rejected because a newer observation was already live")
	m.unresolvedPositions = m.gauge("unresolved_positions", "Positions retained for devices with no known member")
	m.promotedPositions = m.counter("promoted_positions_total", "Unresolved positions made live by a roster change")
	m.liveDevices = m.gauge("live_devices", "Devices with a resolved live position")
	m.reconcileLatency = m.histogram("reconcile_latency_milliseconds", "Time spent applying one reconciler event", m.histogramBuckets)

	m.rosterRefreshes = m.counter("roster_refreshes_total", "Roster reloads")
	m.rosterRefreshErrors = m.counter("roster_refresh_errors_total", "Roster reloads that failed")
	m.rosterSize = m.gauge("roster_size", "Members in the current roster snapshot")
	m.changeNotifications = m.counterVec("change_notifications_total", "Store change notifications received", "table", "op")
	m.subscriptionsActive = m.gauge("subscriptions_active", "Open store change subscriptions")

	m.trailAppends = m.counter("trail_appends_total", "Trail points persisted by this client")
	m.trailPersistErrors = m.counter("trail_persist_errors_total", "Trail points lost because the store write failed")
	m.trailExternalPoints = m.counter("trail_external_points_total", "Trail points merged from other clients")
	m.trailDuplicates = m.counter("trail_duplicate_points_total", "Trail point notifications skipped as already known")
	m.trailPoints = m.gauge("trail_points", "Trail points held in memory for today")
	m.trailRollovers = m.counter("trail_rollovers_total", "Day bucket rollovers that reset the in-memory trails")
	m.trailPersistLatency = m.histogram("trail_persist_latency_milliseconds", "Trail point insert latency", m.histogramBuckets)
	m.trailDedupeSize = m.gauge("trail_dedupe_ids", "Trail point ids remembered for duplicate suppression")
	m.trailNotifyDrops = m.counter("trail_notifications_dropped_total", "Trail insert notifications dropped because the relay was full")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Current number of queued reconciler events")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (0-1)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of enqueue operations")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of dequeue operations")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Queue enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of persistence workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Persistence job latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Persistence jobs that failed")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Feed Metrics Functions.

// RecordFeedBatch counts one delivered batch and its positions.
func RecordFeedBatch(positions int) {
	globalManager.feedBatches.Inc()
	globalManager.feedPositions.Add(float64(positions))
}

// RecordFeedFetchError counts a failed poll.
func RecordFeedFetchError() {
	globalManager.feedFetchErrors.Inc()
}

// UpdateFeedConnected sets the push channel state.
func UpdateFeedConnected(connected bool) {
	if connected {
		globalManager.feedConnected.Set(1)
		return
	}
	globalManager.feedConnected.Set(0)
}

// RecordFeedReconnect counts a reconnect attempt.
func RecordFeedReconnect() {
	globalManager.feedReconnects.Inc()
}

// RecordFeedDisconnected counts an exhausted reconnect budget.
func RecordFeedDisconnected() {
	globalManager.feedDisconnects.Inc()
}

// RecordFeedRequestLatency records a provider REST call latency.
func RecordFeedRequestLatency(operation string, latencyMs float64) {
	globalManager.feedRequestLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordDeviceRegistration counts a registration by outcome (existing, created, recovered, failed).
func RecordDeviceRegistration(outcome string) {
	globalManager.deviceRegistrations.WithLabelValues(outcome).Inc()
}

// Reconciler Metrics Functions.

// RecordStalePosition counts a rejected out-of-date position.
func RecordStalePosition() {
	globalManager.stalePositions.Inc()
}

// UpdateUnresolvedPositions sets the unresolved set size.
func UpdateUnresolvedPositions(count int) {
	globalManager.unresolvedPositions.Set(float64(count))
}

// RecordPromotedPosition counts an unresolved position made live.
func RecordPromotedPosition() {
	globalManager.promotedPositions.Inc()
}

// UpdateLiveDevices sets the number of live devices.
func UpdateLiveDevices(count int) {
	globalManager.liveDevices.Set(float64(count))
}

// RecordReconcileLatency records the time to apply one event.
func RecordReconcileLatency(latencyMs float64) {
	globalManager.reconcileLatency.Observe(latencyMs)
}

// Directory Metrics Functions.

// RecordRosterRefresh counts a roster reload and sets the roster size.
func RecordRosterRefresh(size int) {
	globalManager.rosterRefreshes.Inc()
	globalManager.rosterSize.Set(float64(size))
}

// RecordRosterRefreshError counts a failed roster reload.
func RecordRosterRefreshError() {
	globalManager.rosterRefreshErrors.Inc()
}

// RecordChangeNotification counts a store change notification.
func RecordChangeNotification(table, op string) {
	globalManager.changeNotifications.WithLabelValues(table, op).Inc()
}

// AddActiveSubscriptions adjusts the open subscription gauge by delta.
func AddActiveSubscriptions(delta int) {
	globalManager.subscriptionsActive.Add(float64(delta))
}

// Trail Metrics Functions.

// RecordTrailAppend counts a persisted trail point.
func RecordTrailAppend() {
	globalManager.trailAppends.Inc()
}

// RecordTrailPersistError counts a lost trail point.
func RecordTrailPersistError() {
	globalManager.trailPersistErrors.Inc()
}

// RecordTrailExternalPoint counts a merged point written by another client.
func RecordTrailExternalPoint() {
	globalManager.trailExternalPoints.Inc()
}

// RecordTrailDuplicate counts a skipped duplicate notification.
func RecordTrailDuplicate() {
	globalManager.trailDuplicates.Inc()
}

// UpdateTrailPoints sets the number of points held for today.
func UpdateTrailPoints(count int) {
	globalManager.trailPoints.Set(float64(count))
}

// RecordTrailRollover counts a day bucket rollover.
func RecordTrailRollover() {
	globalManager.trailRollovers.Inc()
}

// RecordTrailPersistLatency records a trail insert latency.
func RecordTrailPersistLatency(latencyMs float64) {
	globalManager.trailPersistLatency.Observe(latencyMs)
}

// UpdateTrailDedupeSize sets the number of remembered trail point ids.
func UpdateTrailDedupeSize(count int64) {
	globalManager.trailDedupeSize.Set(float64(count))
}

// RecordTrailNotificationDropped counts a trail notification that was not relayed.
func RecordTrailNotificationDropped() {
	globalManager.trailNotifyDrops.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

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
