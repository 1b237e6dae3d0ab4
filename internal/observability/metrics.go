package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Control Loop operational counters distinct from the
// per-task pkg/metrics.TaskMetrics record: these are process-wide
// rates an operator scrapes from Prometheus, not a per-task audit
// trail.
type Metrics struct {
	registry *prometheus.Registry

	iterations        prometheus.Counter
	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	validationTotal   *prometheus.CounterVec
	validationLatency *prometheus.HistogramVec
	haltsTotal        prometheus.Counter
}

// NewMetrics builds a Metrics instance from cfg. A disabled or nil cfg
// returns nil, nil so callers can skip instrumentation entirely.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.iterations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "control_loop_iterations_total",
		Help:      "Total Control Loop iterations executed.",
	})
	m.dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "provider_dispatch_total",
		Help:      "Provider dispatch attempts by provider name and outcome.",
	}, []string{"provider", "outcome"})
	m.dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Name:      "provider_dispatch_duration_seconds",
		Help:      "Provider dispatch latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})
	m.validationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "validation_total",
		Help:      "Validation pipeline runs by task type and confidence.",
	}, []string{"task_type", "confidence"})
	m.validationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Name:      "validation_duration_seconds",
		Help:      "Validation pipeline latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task_type"})
	m.haltsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "halts_total",
		Help:      "Total Halt Handler invocations.",
	})

	m.registry.MustRegister(
		m.iterations, m.dispatchTotal, m.dispatchDuration,
		m.validationTotal, m.validationLatency, m.haltsTotal,
	)
	return m, nil
}

// RecordIteration increments the Control Loop iteration counter.
func (m *Metrics) RecordIteration() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

// RecordDispatch records one Provider Dispatcher attempt.
func (m *Metrics) RecordDispatch(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(provider, outcome).Inc()
	m.dispatchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordValidation records one validation pipeline run.
func (m *Metrics) RecordValidation(taskType, confidence string, d time.Duration) {
	if m == nil {
		return
	}
	m.validationTotal.WithLabelValues(taskType, confidence).Inc()
	m.validationLatency.WithLabelValues(taskType).Observe(d.Seconds())
}

// RecordHalt increments the halt counter.
func (m *Metrics) RecordHalt() {
	if m == nil {
		return
	}
	m.haltsTotal.Inc()
}

// Handler returns the Prometheus scrape handler, or a 503 placeholder
// if metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
