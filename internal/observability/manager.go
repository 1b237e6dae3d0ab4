package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns the lifecycle of the Tracer and Metrics, generalized
// from the teacher's pkg/observability.Manager.
type Manager struct {
	config  *Config
	tracer  *Tracer
	metrics *Metrics
}

// NewManager builds a Manager from cfg. A nil cfg returns a Manager
// whose every method is a safe no-op.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if cfg == nil {
		return &Manager{}, nil
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	m := &Manager{config: cfg}

	tracer, err := NewTracer(ctx, &cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	m.tracer = tracer
	if cfg.Tracing.Enabled {
		slog.Info("observability: tracing initialized",
			"exporter", cfg.Tracing.Exporter, "sampling_rate", cfg.Tracing.SamplingRate)
	}

	metrics, err := NewMetrics(&cfg.Metrics)
	if err != nil {
		_ = m.tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	m.metrics = metrics
	if metrics != nil {
		slog.Info("observability: metrics initialized", "endpoint", cfg.Metrics.Endpoint)
	}

	return m, nil
}

// Tracer returns the Tracer; never nil even with tracing disabled.
func (m *Manager) Tracer() *Tracer {
	if m == nil || m.tracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(DefaultServiceName)}
	}
	return m.tracer
}

// Metrics returns the Metrics instance, or nil if disabled.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// MetricsHandler returns an HTTP handler for the metrics endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	return m.Metrics().Handler()
}

// MetricsEnabled reports whether metrics collection is active.
func (m *Manager) MetricsEnabled() bool {
	return m != nil && m.metrics != nil
}

// Shutdown releases tracer resources.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.tracer.Shutdown(ctx)
}
