package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Session lifecycle metrics
	SessionsCreated prometheus.Counter
	SessionsActive  prometheus.Gauge

	// Aggregation metrics
	EventsProcessed *prometheus.CounterVec
	InvalidDeltas   prometheus.Counter

	// Analysis metrics
	AnalysisRequests     prometheus.Counter
	AnalysisFailures     prometheus.Counter
	AnalysisLatency      prometheus.Histogram
	StaleAnalysisDropped prometheus.Counter

	// Store metrics
	StoreErrors prometheus.Counter

	// Fan-out metrics
	WebSocketClients   prometheus.Gauge
	SnapshotsPublished *prometheus.CounterVec
)

func init() {
	registryOnce.Do(register)
}

func register() {
	registry = prometheus.NewRegistry()

	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coachsync_sessions_created_total",
		Help: "Total number of sessions created",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coachsync_sessions_active",
		Help: "Number of sessions currently tracked and not stopped",
	})

	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_events_processed_total",
			Help: "Total number of observation events folded into aggregates",
		},
		[]string{"event_type"},
	)

	InvalidDeltas = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coachsync_invalid_deltas_total",
		Help: "Total number of observation events dropped as invalid",
	})

	AnalysisRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coachsync_analysis_requests_total",
		Help: "Total number of coaching analysis requests issued",
	})

	AnalysisFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coachsync_analysis_failures_total",
		Help: "Total number of failed coaching analysis requests",
	})

	AnalysisLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coachsync_analysis_latency_seconds",
		Help:    "Latency of coaching analysis requests",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	StaleAnalysisDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coachsync_stale_analysis_dropped_total",
		Help: "Total number of analysis responses discarded for a stale generation",
	})

	StoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coachsync_store_errors_total",
		Help: "Total number of failed session store writes",
	})

	WebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coachsync_websocket_clients",
		Help: "Number of connected dashboard WebSocket clients",
	})

	SnapshotsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_snapshots_published_total",
			Help: "Total number of aggregate snapshots pushed to subscribers",
		},
		[]string{"transport"},
	)

	registry.MustRegister(
		SessionsCreated,
		SessionsActive,
		EventsProcessed,
		InvalidDeltas,
		AnalysisRequests,
		AnalysisFailures,
		AnalysisLatency,
		StaleAnalysisDropped,
		StoreErrors,
		WebSocketClients,
		SnapshotsPublished,
	)
}

// Init logs that metrics are available. Collectors are registered at
// package initialization so instrumented code never races Init.
func Init(logger *logrus.Logger) {
	logger.Info("Prometheus metrics registered")
}

// GetRegistry returns the Prometheus registry for the metrics endpoint.
func GetRegistry() *prometheus.Registry {
	return registry
}
