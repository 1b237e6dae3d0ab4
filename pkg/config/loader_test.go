package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundry-run/foundry/pkg/config/provider"
)

func writeConfigFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "foundry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validYAML = `
version: "1"
name: demo
sandbox_root: /srv/sandbox
providers:
  - name: claude
    command: claude
store:
  backend: file
  root: /srv/state
`

func TestLoader_Load_DecodesAndValidates(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), validYAML)
	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, "demo", cfg.Name)
	assert.Equal(t, "/srv/sandbox", cfg.SandboxRoot)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "claude", cfg.Providers[0].Name)
	assert.Equal(t, 10*time.Minute, cfg.Providers[0].Timeout)
}

func TestLoader_Load_MissingProviderFailsValidation(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "version: \"1\"\n")
	_, _, err := LoadConfigFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one provider is required")
}

func TestLoader_Load_ExpandsEnvVars(t *testing.T) {
	t.Setenv("FOUNDRY_SANDBOX", "/from/env")
	body := "providers:\n  - name: claude\n    command: claude\nsandbox_root: ${FOUNDRY_SANDBOX}\n"
	path := writeConfigFile(t, t.TempDir(), body)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()
	assert.Equal(t, "/from/env", cfg.SandboxRoot)
}

func TestLoader_Watch_FiresOnChangeAfterFileEdit(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, validYAML)

	p, err := provider.New(provider.ProviderConfig{Type: provider.TypeFile, Path: path})
	require.NoError(t, err)
	loader := NewLoader(p)
	defer loader.Close()

	reloaded := make(chan *Config, 1)
	loader = NewLoader(p, WithOnChange(func(c *Config) { reloaded <- c }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loader.Watch(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(validYAML+"description: updated\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "updated", cfg.Description)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestLoader_Watch_RejectsSandboxRootChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, validYAML)

	p, err := provider.New(provider.ProviderConfig{Type: provider.TypeFile, Path: path})
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	loader := NewLoader(p, WithOnChange(func(c *Config) { reloaded <- c }))
	defer loader.Close()

	_, err = loader.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loader.Watch(ctx)

	time.Sleep(50 * time.Millisecond)
	changed := "providers:\n  - name: claude\n    command: claude\nsandbox_root: /a/different/root\nstore:\n  backend: file\n  root: /srv/state\n"
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))

	select {
	case <-reloaded:
		t.Fatal("onChange fired for a reload that changes sandbox_root")
	case <-time.After(500 * time.Millisecond):
	}
}
