// Package config provides configuration loading and management for
// Foundry.
//
// Foundry is config-first: the provider priority list, retry policy
// defaults, the sandbox root, and the persistence backend are all
// defined in one YAML document and the Control Loop builds its
// components from it at startup.
//
// Example config:
//
//	version: "1"
//	name: my-project
//
//	sandbox_root: /srv/foundry/projects
//
//	providers:
//	  - name: claude
//	    command: claude
//	    args: ["-p", "--output-format", "json"]
//	    timeout: 10m
//	  - name: codex
//	    command: codex
//	    args: ["exec", "--json"]
//	    timeout: 10m
//
//	store:
//	  backend: file
//	  root: /srv/foundry/state
//
//	retry:
//	  max_retries: 3
//	  max_interrogation_rounds: 1
//
//	audit:
//	  path: /srv/foundry/audit.jsonl
//
//	metrics:
//	  path: /srv/foundry/metrics.jsonl
//	  prometheus_addr: ":9090"
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/foundry-run/foundry/internal/observability"
)

// Config is the root configuration structure.
type Config struct {
	// Version of the config schema (e.g., "1").
	Version string `yaml:"version,omitempty"`

	// Name of this project configuration (for logging/display).
	Name string `yaml:"name,omitempty"`

	// Description of this configuration.
	Description string `yaml:"description,omitempty"`

	// SandboxRoot is the filesystem root all task working_directory
	// values resolve relative to (spec.md §5 "Shared resources").
	SandboxRoot string `yaml:"sandbox_root,omitempty"`

	// Providers is the priority list the Provider Dispatcher walks on
	// failure (spec.md §4.4).
	Providers []ProviderCLIConfig `yaml:"providers,omitempty"`

	// Store configures the State Store backend (spec.md §3 "Ownership").
	Store StoreConfig `yaml:"store,omitempty"`

	// Retry configures Retry Orchestrator defaults (spec.md §4.11).
	Retry RetryDefaults `yaml:"retry,omitempty"`

	// Breaker configures the Circuit Breaker's backoff bounds (spec.md §4.5).
	Breaker BreakerConfig `yaml:"breaker,omitempty"`

	// Helper configures the Helper Agent (spec.md §4.10).
	Helper HelperConfig `yaml:"helper,omitempty"`

	// Cache configures the Validation Cache (spec.md §4.9).
	Cache CacheConfig `yaml:"cache,omitempty"`

	// Audit configures the append-only audit log.
	Audit AuditConfig `yaml:"audit,omitempty"`

	// Metrics configures TaskMetrics persistence and export.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// Logger configures logging behavior.
	Logger LoggerConfig `yaml:"logger,omitempty"`

	// Server configures the optional dump-state HTTP surface.
	Server ServerConfig `yaml:"server,omitempty"`

	// Obs configures tracing/metrics export for the Control Loop
	// (internal/observability).
	Obs observability.Config `yaml:"observability,omitempty"`
}

// ProviderCLIConfig describes one entry in the Provider Dispatcher's
// priority list.
type ProviderCLIConfig struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

func (p *ProviderCLIConfig) SetDefaults() {
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Minute
	}
}

func (p *ProviderCLIConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Command == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}

// StoreConfig selects and configures the State Store backend.
type StoreConfig struct {
	// Backend is "file" or "sql".
	Backend string `yaml:"backend,omitempty"`
	// Root is the directory FileBackend persists JSON files under.
	Root string `yaml:"root,omitempty"`
	// Driver is the SQL driver name ("sqlite3", "mysql", "postgres").
	Driver string `yaml:"driver,omitempty"`
	// DSN is the SQL data source name.
	DSN string `yaml:"dsn,omitempty"`
}

func (s *StoreConfig) SetDefaults() {
	if s.Backend == "" {
		s.Backend = "file"
	}
	if s.Backend == "file" && s.Root == "" {
		s.Root = "./foundry-state"
	}
}

func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case "file":
		if s.Root == "" {
			return fmt.Errorf("store.root is required for the file backend")
		}
	case "sql":
		if s.Driver == "" {
			return fmt.Errorf("store.driver is required for the sql backend")
		}
		if s.DSN == "" {
			return fmt.Errorf("store.dsn is required for the sql backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", s.Backend)
	}
	return nil
}

// RetryDefaults mirrors task.RetryPolicy's defaults (spec.md §3 "Task").
type RetryDefaults struct {
	MaxRetries             int `yaml:"max_retries,omitempty"`
	MaxInterrogationRounds int `yaml:"max_interrogation_rounds,omitempty"`
}

func (r *RetryDefaults) SetDefaults() {
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.MaxInterrogationRounds == 0 {
		r.MaxInterrogationRounds = 1
	}
}

func (r *RetryDefaults) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if r.MaxInterrogationRounds < 0 || r.MaxInterrogationRounds > 4 {
		return fmt.Errorf("max_interrogation_rounds must be between 0 and 4")
	}
	return nil
}

// BreakerConfig configures the Circuit Breaker's exponential bounded
// backoff (spec.md §4.5: 30s → 30min).
type BreakerConfig struct {
	MinBackoff time.Duration `yaml:"min_backoff,omitempty"`
	MaxBackoff time.Duration `yaml:"max_backoff,omitempty"`
}

func (b *BreakerConfig) SetDefaults() {
	if b.MinBackoff <= 0 {
		b.MinBackoff = 30 * time.Second
	}
	if b.MaxBackoff <= 0 {
		b.MaxBackoff = 30 * time.Minute
	}
}

func (b *BreakerConfig) Validate() error {
	if b.MinBackoff <= 0 || b.MaxBackoff <= 0 {
		return fmt.Errorf("min_backoff and max_backoff must be positive")
	}
	if b.MinBackoff > b.MaxBackoff {
		return fmt.Errorf("min_backoff must not exceed max_backoff")
	}
	return nil
}

// HelperConfig configures the Helper Agent (spec.md §4.10).
type HelperConfig struct {
	Enabled        bool          `yaml:"enabled,omitempty"`
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`
}

func (h *HelperConfig) SetDefaults() {
	if h.CommandTimeout <= 0 {
		h.CommandTimeout = 5 * time.Minute
	}
}

// CacheConfig configures the Validation Cache (spec.md §4.9).
type CacheConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// AuditConfig configures the append-only audit log.
type AuditConfig struct {
	Path string `yaml:"path,omitempty"`
}

func (a *AuditConfig) SetDefaults() {
	if a.Path == "" {
		a.Path = "./foundry-audit.jsonl"
	}
}

// MetricsConfig configures TaskMetrics persistence and Prometheus export.
type MetricsConfig struct {
	Path           string `yaml:"path,omitempty"`
	PrometheusAddr string `yaml:"prometheus_addr,omitempty"`
}

func (m *MetricsConfig) SetDefaults() {
	if m.Path == "" {
		m.Path = "./foundry-metrics.jsonl"
	}
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

func (l *LoggerConfig) SetDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func (l *LoggerConfig) Validate() error {
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logger format %q", l.Format)
	}
	return nil
}

// ServerConfig configures the optional dump-state HTTP surface
// (SPEC_FULL.md §11: go-chi/chi/v5).
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// SetDefaults applies default values to the config.
func (c *Config) SetDefaults() {
	for i := range c.Providers {
		c.Providers[i].SetDefaults()
	}
	c.Store.SetDefaults()
	c.Retry.SetDefaults()
	c.Breaker.SetDefaults()
	c.Helper.SetDefaults()
	c.Audit.SetDefaults()
	c.Metrics.SetDefaults()
	c.Logger.SetDefaults()
	c.Obs.SetDefaults()
	if c.SandboxRoot == "" {
		c.SandboxRoot = "."
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("provider %q: %v", p.Name, err))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
	}

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("store: %v", err))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("retry: %v", err))
	}
	if err := c.Breaker.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("breaker: %v", err))
	}
	if err := c.Logger.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logger: %v", err))
	}
	if err := c.Obs.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("observability: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ProviderNames returns the configured providers in priority order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name)
	}
	return names
}
