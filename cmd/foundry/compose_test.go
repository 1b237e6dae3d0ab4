package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/foundry-run/foundry/pkg/config"
	"github.com/foundry-run/foundry/pkg/queue"
)

// testConfig returns a valid, defaulted config rooted under t.TempDir(),
// with a single known provider so buildDispatcher never errors.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Name:        "proj-1",
		SandboxRoot: filepath.Join(dir, "sandbox"),
		Providers: []config.ProviderCLIConfig{
			{Name: "claude", Command: "claude"},
		},
		Store: config.StoreConfig{Backend: "file", Root: filepath.Join(dir, "state")},
		Audit: config.AuditConfig{Path: filepath.Join(dir, "audit.jsonl")},
		Metrics: config.MetricsConfig{
			Path: filepath.Join(dir, "metrics.jsonl"),
		},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

// writeConfig serializes cfg to a YAML file cmd/foundry's main can load
// back via config.LoadConfigFile, for subcommand-level tests that go
// through the CLI entry points rather than calling compose directly.
func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "foundry.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenStore_SQLBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "sql"
	cfg.Store.Driver = "sqlite3"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "foundry.db")

	st, err := openStore(cfg)
	require.NoError(t, err)
	defer st.Close()

	_, ok, err := st.LoadState(cfg.Name)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildDispatcher_KnownProviderSucceeds(t *testing.T) {
	cfg := testConfig(t)
	d, err := buildDispatcher(cfg)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestBuildDispatcher_UnknownProviderErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers = []config.ProviderCLIConfig{{Name: "not-a-real-cli", Command: "foo"}}
	_, err := buildDispatcher(cfg)
	assert.Error(t, err)
}

func TestCompose_OpensCollaborators(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.DiscardHandler)

	comp, err := compose(context.Background(), cfg, cfg.Name, logger)
	require.NoError(t, err)
	require.NotNil(t, comp)
	assert.NotNil(t, comp.store)
	assert.NotNil(t, comp.obs)
	assert.NotNil(t, comp.audit)
	assert.NotNil(t, comp.metrics)
	assert.Equal(t, filepath.Join(cfg.SandboxRoot, "proj-1"), comp.root.Path())
}

func TestBuildLoop_AssemblesWithHelperDisabled(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.DiscardHandler)
	comp, err := compose(context.Background(), cfg, cfg.Name, logger)
	require.NoError(t, err)

	q := queue.New(cfg.Name)
	loop, err := buildLoop(comp, q)
	require.NoError(t, err)
	assert.NotNil(t, loop)
}

func TestBuildLoop_AssemblesWithHelperEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Helper.Enabled = true
	logger := slog.New(slog.DiscardHandler)
	comp, err := compose(context.Background(), cfg, cfg.Name, logger)
	require.NoError(t, err)

	q := queue.New(cfg.Name)
	loop, err := buildLoop(comp, q)
	require.NoError(t, err)
	assert.NotNil(t, loop)
}
