// Package metrics implements TaskMetrics (spec.md §3 "TaskMetrics")
// and its Prometheus export: per-task counters accumulated across one
// task's lifetime, flushed to an append-only line-delimited log on
// task finalization (spec.md §4.12).
package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// TaskMetrics is the per-task counter set (spec.md §3).
type TaskMetrics struct {
	TaskID                 string        `json:"task_id"`
	Iterations             int           `json:"iterations"`
	TimeInExecutionMS      int64         `json:"time_in_execution_ms"`
	TimeInValidationMS     int64         `json:"time_in_validation_ms"`
	TimeInInterrogationMS  int64         `json:"time_in_interrogation_ms"`
	HelperCallCount        int           `json:"helper_agent_calls"`
	HelperDurationsMS      []int64       `json:"helper_durations_ms"`
	DeterministicAttempts  int           `json:"deterministic_attempts"`
	DeterministicSuccesses int           `json:"deterministic_successes"`
	CacheHits              int           `json:"cache_hits"`
	CacheLookups           int           `json:"cache_lookups"`
	PromptBytes            int64         `json:"prompt_bytes"`
	ResponseBytes          int64         `json:"response_bytes"`
	Status                 string        `json:"status"`
}

// New returns a zeroed TaskMetrics for taskID.
func New(taskID string) *TaskMetrics { return &TaskMetrics{TaskID: taskID} }

// RecordHelperCall accumulates one helper-agent invocation's duration.
func (m *TaskMetrics) RecordHelperCall(d time.Duration) {
	m.HelperCallCount++
	m.HelperDurationsMS = append(m.HelperDurationsMS, d.Milliseconds())
}

// RecordDeterministicAttempt accumulates one rule/AST/keyword match
// attempt and whether it resolved the criterion (spec.md §4.8 step 6).
func (m *TaskMetrics) RecordDeterministicAttempt(succeeded bool) {
	m.DeterministicAttempts++
	if succeeded {
		m.DeterministicSuccesses++
	}
}

// RecordCacheLookup accumulates one Validation Cache lookup outcome.
func (m *TaskMetrics) RecordCacheLookup(hit bool) {
	m.CacheLookups++
	if hit {
		m.CacheHits++
	}
}

// CacheHitRate is cache_hits / cache_lookups, 0 when no lookups occurred.
func (m *TaskMetrics) CacheHitRate() float64 {
	if m.CacheLookups == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(m.CacheLookups)
}

// HelperDurationP95 returns the p95 of recorded helper call durations,
// 0 when none were recorded (spec.md §3 "helper durations (for
// avg/p95)").
func (m *TaskMetrics) HelperDurationP95() int64 {
	if len(m.HelperDurationsMS) == 0 {
		return 0
	}
	sorted := append([]int64(nil), m.HelperDurationsMS...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	// Nearest-rank: the ceil(0.95*n)-th smallest value.
	idx := (len(sorted)*95+99)/100 - 1
	return sorted[idx]
}

// HelperDurationAvg returns the mean of recorded helper call durations.
func (m *TaskMetrics) HelperDurationAvg() float64 {
	if len(m.HelperDurationsMS) == 0 {
		return 0
	}
	var sum int64
	for _, d := range m.HelperDurationsMS {
		sum += d
	}
	return float64(sum) / float64(len(m.HelperDurationsMS))
}

// entryRecord is the line-delimited on-disk shape: a uuid plus the
// embedded TaskMetrics (spec.md §6 "metrics:<project_id>.jsonl").
type entryRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TaskMetrics
}

// Sink flushes finalized TaskMetrics to an append-only JSON-lines file.
type Sink struct {
	path string
}

// OpenSink returns a Sink appending to path, creating parent
// directories as needed.
func OpenSink(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return &Sink{path: path}, nil
}

// Flush appends m as one JSON line (spec.md §4.12 "flush TaskMetrics
// to disk").
func (s *Sink) Flush(m *TaskMetrics) error {
	rec := entryRecord{ID: uuid.NewString(), Timestamp: time.Now().UTC(), TaskMetrics: *m}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("metrics: marshal: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("metrics: open %s: %w", s.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("metrics: append: %w", err)
	}
	return f.Sync()
}

// ReadAll replays every flushed TaskMetrics entry, for dump-state and
// tests.
func ReadAll(path string) ([]TaskMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("metrics: open %s: %w", path, err)
	}
	defer f.Close()

	var out []TaskMetrics
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec entryRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return out, fmt.Errorf("metrics: corrupt entry: %w", err)
		}
		out = append(out, rec.TaskMetrics)
	}
	return out, scanner.Err()
}

// Exporter publishes live TaskMetrics as Prometheus gauges/histograms
// (SPEC_FULL.md §11 domain-stack wiring of prometheus/client_golang).
type Exporter struct {
	iterations  *prometheus.GaugeVec
	helperCalls *prometheus.GaugeVec
	cacheHitPct *prometheus.GaugeVec
	duration    *prometheus.HistogramVec
}

// NewExporter constructs and registers the exporter's collectors
// against reg.
func NewExporter(reg prometheus.Registerer) (*Exporter, error) {
	e := &Exporter{
		iterations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "foundry", Name: "task_iterations", Help: "Iterations consumed by a task.",
		}, []string{"task_id", "status"}),
		helperCalls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "foundry", Name: "task_helper_calls", Help: "Helper agent calls made for a task.",
		}, []string{"task_id"}),
		cacheHitPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "foundry", Name: "task_cache_hit_ratio", Help: "Validation cache hit ratio for a task.",
		}, []string{"task_id"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foundry", Name: "task_phase_duration_ms", Help: "Time spent per task phase, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 14),
		}, []string{"phase"}),
	}
	for _, c := range []prometheus.Collector{e.iterations, e.helperCalls, e.cacheHitPct, e.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return e, nil
}

// Observe publishes one finalized TaskMetrics snapshot.
func (e *Exporter) Observe(m *TaskMetrics) {
	e.iterations.WithLabelValues(m.TaskID, m.Status).Set(float64(m.Iterations))
	e.helperCalls.WithLabelValues(m.TaskID).Set(float64(m.HelperCallCount))
	e.cacheHitPct.WithLabelValues(m.TaskID).Set(m.CacheHitRate())
	e.duration.WithLabelValues("execution").Observe(float64(m.TimeInExecutionMS))
	e.duration.WithLabelValues("validation").Observe(float64(m.TimeInValidationMS))
	e.duration.WithLabelValues("interrogation").Observe(float64(m.TimeInInterrogationMS))
}
