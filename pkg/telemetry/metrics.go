package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the storage engine.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	opsTotal   *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	opErrors   *prometheus.CounterVec

	// Migration metrics
	migrationsApplied *prometheus.CounterVec
	schemaVersion     *prometheus.GaugeVec

	// Lifecycle metrics
	initDuration prometheus.Histogram
	openBackends prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled config yields a no-op collector.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		opsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_total",
				Help:      "Total number of storage operations",
			},
			[]string{"op", "backend"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "op_duration_seconds",
				Help:      "Duration of storage operations in seconds",
				Buckets:   buckets,
			},
			[]string{"op", "backend"},
		),
		opErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "op_errors_total",
				Help:      "Total number of failed storage operations",
			},
			[]string{"op", "backend", "kind"},
		),
		migrationsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_applied_total",
				Help:      "Total number of schema migrations applied",
			},
			[]string{"backend"},
		),
		schemaVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "schema_version",
				Help:      "Current schema version per database",
			},
			[]string{"database", "backend"},
		),
		initDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "init_duration_seconds",
				Help:      "Duration of storage initialization in seconds",
				Buckets:   buckets,
			},
		),
		openBackends: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_backends",
				Help:      "Number of currently open backend connections",
			},
		),
	}

	registry.MustRegister(
		m.opsTotal,
		m.opDuration,
		m.opErrors,
		m.migrationsApplied,
		m.schemaVersion,
		m.initDuration,
		m.openBackends,
	)

	return m, nil
}

// RecordOp records one storage operation with its duration.
func (m *Metrics) RecordOp(op, backend string, duration time.Duration) {
	if m.opsTotal == nil {
		return
	}
	m.opsTotal.WithLabelValues(op, backend).Inc()
	m.opDuration.WithLabelValues(op, backend).Observe(duration.Seconds())
}

// RecordOpError records a failed storage operation by error kind.
func (m *Metrics) RecordOpError(op, backend, kind string) {
	if m.opErrors == nil {
		return
	}
	m.opErrors.WithLabelValues(op, backend, kind).Inc()
}

// RecordMigrationApplied increments the applied-migration counter.
func (m *Metrics) RecordMigrationApplied(backend string) {
	if m.migrationsApplied == nil {
		return
	}
	m.migrationsApplied.WithLabelValues(backend).Inc()
}

// SetSchemaVersion sets the schema version gauge for a database.
func (m *Metrics) SetSchemaVersion(database, backend string, version int) {
	if m.schemaVersion == nil {
		return
	}
	m.schemaVersion.WithLabelValues(database, backend).Set(float64(version))
}

// RecordInit records the duration of one initialization run.
func (m *Metrics) RecordInit(duration time.Duration) {
	if m.initDuration == nil {
		return
	}
	m.initDuration.Observe(duration.Seconds())
}

// BackendOpened increments the open-backend gauge.
func (m *Metrics) BackendOpened() {
	if m.openBackends == nil {
		return
	}
	m.openBackends.Inc()
}

// BackendClosed decrements the open-backend gauge.
func (m *Metrics) BackendClosed() {
	if m.openBackends == nil {
		return
	}
	m.openBackends.Dec()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
