package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/seqline/pkg/protocol"
	"github.com/vango-dev/seqline/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "seqline").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request and queue durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer

	// QueueDepth, when set, is exported as the queue_depth gauge on scrape.
	QueueDepth func() int
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// WithQueueDepth exports fn as the dispatch queue depth gauge.
func WithQueueDepth(fn func() int) MetricsOption {
	return func(c *MetricsConfig) {
		c.QueueDepth = fn
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "seqline",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus metrics for seqline.
type metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   prometheus.Histogram
	queueWait         prometheus.Histogram
	requestErrors     *prometheus.CounterVec
	counterResets     prometheus.Counter
	requeues          prometheus.Counter
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	bytesIn           prometheus.Counter
	bytesOut          prometheus.Counter
}

// globalMetrics is the singleton metrics instance.
// Created on first call to Prometheus().
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

// initMetrics initializes the Prometheus metrics.
func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	if config.QueueDepth != nil {
		depth := config.QueueDepth
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "queue_depth",
			Help:        "Requests waiting for the writer",
			ConstLabels: config.ConstLabels,
		}, func() float64 { return float64(depth()) })
	}

	return &metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of requests handled by the writer",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Time spent transforming and writing one response",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		queueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "queue_wait_seconds",
			Help:        "Time between reading a chunk and the writer picking it up",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_errors_total",
			Help:        "Total number of requests that got no response",
			ConstLabels: config.ConstLabels,
		}, []string{"error_type"}),

		counterResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "counter_resets_total",
			Help:        "Total number of requests that overwrote the sequence counter",
			ConstLabels: config.ConstLabels,
		}),

		requeues: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requeued_requests_total",
			Help:        "Total number of requests handled again after a retryable failure",
			ConstLabels: config.ConstLabels,
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of open client connections",
			ConstLabels: config.ConstLabels,
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of accepted client connections",
			ConstLabels: config.ConstLabels,
		}),

		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_received_bytes_total",
			Help:        "Bytes read from closed connections",
			ConstLabels: config.ConstLabels,
		}),

		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_sent_bytes_total",
			Help:        "Bytes written to closed connections",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Prometheus creates writer middleware that collects Prometheus metrics.
//
// Metrics collected:
//   - seqline_requests_total: Counter of requests by status
//   - seqline_request_duration_seconds: Histogram of transform + write time
//   - seqline_queue_wait_seconds: Histogram of time spent in the queue
//   - seqline_request_errors_total: Counter of failed requests by error type
//   - seqline_counter_resets_total: Counter of counter overrides
//   - seqline_requeued_requests_total: Counter of retried requests
//   - seqline_active_connections: Gauge (when RecordConnOpen/Close are called)
//   - seqline_queue_depth: Gauge (with WithQueueDepth)
//
// Example:
//
//	config := server.DefaultServerConfig().WithMiddleware(
//	    middleware.Prometheus(middleware.WithNamespace("myapp")),
//	)
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) server.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// Initialize metrics once
	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(ctx context.Context, req server.Request) error {
			start := time.Now()
			if !req.ReceivedAt.IsZero() {
				m.queueWait.Observe(start.Sub(req.ReceivedAt).Seconds())
			}
			if req.Attempt > 0 {
				m.requeues.Inc()
			}

			err := next.Handle(ctx, req)

			m.requestDuration.Observe(time.Since(start).Seconds())

			status := "success"
			if err != nil {
				status = "error"
				m.requestErrors.WithLabelValues(categorizeError(err)).Inc()
			} else if req.HasReset {
				m.counterResets.Inc()
			}
			m.requestsTotal.WithLabelValues(status).Inc()

			return err
		})
	}
}

// categorizeError returns a category for the error type.
// This prevents high-cardinality labels from error messages.
func categorizeError(err error) string {
	var connErr *server.ConnError
	switch {
	case errors.Is(err, protocol.ErrTransform):
		return "transform"
	case errors.Is(err, server.ErrConnClosed):
		return "conn_closed"
	case errors.Is(err, server.ErrShortWrite):
		return "short_write"
	case errors.As(err, &connErr) && connErr.Op == "write":
		return "write"
	case errors.As(err, &connErr) && connErr.Op == "transform":
		return "transform"
	default:
		return "internal"
	}
}

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordConnOpen records an accepted connection.
// Wire it to server.ServerConfig.OnConnOpen.
func RecordConnOpen(server.ConnInfo) {
	if m := loadMetrics(); m != nil {
		m.activeConnections.Inc()
		m.connectionsTotal.Inc()
	}
}

// RecordConnClose records a closed connection and its traffic.
// Wire it to server.ServerConfig.OnConnClose.
func RecordConnClose(info server.ConnInfo) {
	if m := loadMetrics(); m != nil {
		m.activeConnections.Dec()
		m.bytesIn.Add(float64(info.BytesIn))
		m.bytesOut.Add(float64(info.BytesOut))
	}
}

func loadMetrics() *metrics {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	return globalMetrics
}

// =============================================================================
// Metrics Collector
// =============================================================================

// Collector exposes the metrics for use in custom registrations and tests.
type Collector struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	QueueWait         prometheus.Histogram
	RequestErrors     *prometheus.CounterVec
	CounterResets     prometheus.Counter
	Requeues          prometheus.Counter
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
}

// GetMetrics returns the global metrics collector.
// Returns nil if Prometheus middleware has not been initialized.
func GetMetrics() *Collector {
	m := loadMetrics()
	if m == nil {
		return nil
	}
	return &Collector{
		RequestsTotal:     m.requestsTotal,
		RequestDuration:   m.requestDuration,
		QueueWait:         m.queueWait,
		RequestErrors:     m.requestErrors,
		CounterResets:     m.counterResets,
		Requeues:          m.requeues,
		ActiveConnections: m.activeConnections,
		ConnectionsTotal:  m.connectionsTotal,
	}
}
