package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for hostvault.
type Metrics struct {
	config MetricsConfig

	// Resolution metrics
	resolutionsStarted   *prometheus.CounterVec
	resolutionsCompleted *prometheus.CounterVec
	resolutionDuration   *prometheus.HistogramVec
	resolvedEntries      *prometheus.HistogramVec
	resolutionWarnings   *prometheus.CounterVec

	// Overlay metrics
	overlaysMatched *prometheus.CounterVec

	// Predicate metrics
	predicateInvocations *prometheus.CounterVec
	predicateDuration    *prometheus.HistogramVec

	// Executor metrics
	executorOperations *prometheus.CounterVec

	// System metrics
	activeResolutions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		resolutionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_started_total",
				Help:      "Total number of template resolutions started",
			},
			[]string{"template"},
		),
		resolutionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_completed_total",
				Help:      "Total number of template resolutions completed",
			},
			[]string{"template", "status"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of template resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"template"},
		),
		resolvedEntries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolved_entries",
				Help:      "Number of entries in a resolved configuration",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"template"},
		),
		resolutionWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolution_warnings_total",
				Help:      "Total number of resolution warnings by class",
			},
			[]string{"class"},
		),

		overlaysMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overlays_matched_total",
				Help:      "Total number of machine-specific overlays matched",
			},
			[]string{"template"},
		),

		predicateInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predicate_invocations_total",
				Help:      "Total number of named predicate invocations",
			},
			[]string{"predicate", "outcome"},
		),
		predicateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "predicate_duration_seconds",
				Help:      "Duration of named predicate invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"predicate"},
		),

		executorOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_operations_total",
				Help:      "Total number of executor operations dispatched",
			},
			[]string{"executor", "action", "status"},
		),

		activeResolutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_resolutions",
				Help:      "Current number of in-flight resolutions",
			},
		),
	}

	registry.MustRegister(
		m.resolutionsStarted,
		m.resolutionsCompleted,
		m.resolutionDuration,
		m.resolvedEntries,
		m.resolutionWarnings,
		m.overlaysMatched,
		m.predicateInvocations,
		m.predicateDuration,
		m.executorOperations,
		m.activeResolutions,
	)

	return m, nil
}

// RecordResolutionStarted increments the counter for started resolutions.
func (m *Metrics) RecordResolutionStarted(templateName string) {
	if m.resolutionsStarted == nil {
		return
	}
	m.resolutionsStarted.WithLabelValues(templateName).Inc()
	m.activeResolutions.Inc()
}

// RecordResolutionCompleted records a completed resolution.
func (m *Metrics) RecordResolutionCompleted(templateName, status string, duration time.Duration, entries int) {
	if m.resolutionsCompleted == nil {
		return
	}
	m.resolutionsCompleted.WithLabelValues(templateName, status).Inc()
	m.resolutionDuration.WithLabelValues(templateName).Observe(duration.Seconds())
	m.resolvedEntries.WithLabelValues(templateName).Observe(float64(entries))
	m.activeResolutions.Dec()
}

// RecordWarning records a resolution warning by class.
func (m *Metrics) RecordWarning(class string) {
	if m.resolutionWarnings == nil {
		return
	}
	m.resolutionWarnings.WithLabelValues(class).Inc()
}

// RecordOverlayMatched records a matched machine-specific overlay.
func (m *Metrics) RecordOverlayMatched(templateName string) {
	if m.overlaysMatched == nil {
		return
	}
	m.overlaysMatched.WithLabelValues(templateName).Inc()
}

// RecordPredicateInvocation records a named predicate invocation.
func (m *Metrics) RecordPredicateInvocation(predicate, outcome string, duration time.Duration) {
	if m.predicateInvocations == nil {
		return
	}
	m.predicateInvocations.WithLabelValues(predicate, outcome).Inc()
	m.predicateDuration.WithLabelValues(predicate).Observe(duration.Seconds())
}

// RecordExecutorOperation records a dispatched executor operation.
func (m *Metrics) RecordExecutorOperation(executor, action, status string) {
	if m.executorOperations == nil {
		return
	}
	m.executorOperations.WithLabelValues(executor, action, status).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

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
