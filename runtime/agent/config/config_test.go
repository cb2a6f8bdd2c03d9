package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 8, cfg.MaxConcurrentRuns)
	require.Equal(t, 32, cfg.MaxConcurrentModelCalls)
	require.Equal(t, time.Hour, cfg.RunRetention)
	require.Equal(t, ProviderAnthropic, cfg.Provider)
	require.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Host, cfg.Host)
	require.Equal(t, Default().Port, cfg.Port)
}

func TestLoadYAMLOverlay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "swarmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 127.0.0.1
port: 9090
max_concurrent_runs: 4
provider: openai
default_model: gpt-4o
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 4, cfg.MaxConcurrentRuns)
	require.Equal(t, Provider("openai"), cfg.Provider)
	require.Equal(t, "gpt-4o", cfg.DefaultModel)
	// Unset by the file, so still the default.
	require.Equal(t, 32, cfg.MaxConcurrentModelCalls)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0o644))

	t.Setenv("PORT", "7000")
	t.Setenv("DEBUG", "true")
	t.Setenv("MODEL_PROVIDER", "aws_bedrock")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
	require.True(t, cfg.Debug)
	require.Equal(t, ProviderBedrock, cfg.Provider)
	require.Equal(t, "sk-test", cfg.AnthropicAPIKey)
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
}
