package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_NilConfigIsAllNoOps(t *testing.T) {
	m, err := NewManager(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, m.MetricsEnabled())
	assert.NotNil(t, m.Tracer())
	require.NoError(t, m.Shutdown(context.Background()))

	_, span := m.Tracer().Start(context.Background(), "no-op-span")
	span.End()
}

func TestNewManager_MetricsDisabledServes503(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewManager_MetricsEnabledServesPrometheusFormat(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{Metrics: MetricsConfig{Enabled: true}})
	require.NoError(t, err)
	require.True(t, m.MetricsEnabled())

	m.Metrics().RecordIteration()
	m.Metrics().RecordDispatch("claude", "success", 50*time.Millisecond)
	m.Metrics().RecordValidation("coding", "high", 10*time.Millisecond)
	m.Metrics().RecordHalt()

	rec := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "control_loop_iterations_total 1")
	assert.Contains(t, rec.Body.String(), "halts_total 1")
}

func TestNewManager_TracingStdoutExporter(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{
		Tracing: TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1.0},
	})
	require.NoError(t, err)

	ctx, span := m.Tracer().Start(context.Background(), "control-loop-iteration")
	span.End()
	assert.NotNil(t, ctx)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestTracingConfig_Validate_RejectsBadSamplingRate(t *testing.T) {
	c := TracingConfig{Enabled: true, SamplingRate: 2.0}
	assert.Error(t, c.Validate())
}

func TestTracingConfig_Validate_OTLPRequiresEndpoint(t *testing.T) {
	c := TracingConfig{Enabled: true, Exporter: "otlp"}
	assert.Error(t, c.Validate())
}
