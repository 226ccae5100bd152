package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
log:
  level: debug
model:
  provider: openai
  name: gpt-4o
gateway:
  queue_depth: 8
cron:
  tick_interval: 250ms
tools:
  disabled_capabilities: [shell-execute, filesystem-write]
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "openai", cfg.Model.Provider)
		assert.Equal(t, "gpt-4o", cfg.Model.Name)
		assert.Equal(t, 8, cfg.Gateway.QueueDepth)
		assert.Equal(t, 250*time.Millisecond, cfg.Cron.TickInterval.Std())
		assert.Equal(t, []string{"shell-execute", "filesystem-write"}, cfg.Tools.DisabledCapabilities)

		// Untouched sections keep their defaults.
		assert.Equal(t, 4, cfg.Gateway.MaxConcurrentTurns)
		assert.Equal(t, 10, cfg.Agent.MaxIterations)
	})

	t.Run("unknown provider is rejected", func(t *testing.T) {
		path := writeConfig(t, "model:\n  provider: acme\n")

		_, err := Load(path)
		require.Error(t, err)
		var verr *core.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "model.provider", verr.Field)
	})

	t.Run("non-positive bounds are rejected", func(t *testing.T) {
		path := writeConfig(t, "gateway:\n  queue_depth: 0\n")

		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("api key comes from the environment", func(t *testing.T) {
		t.Setenv("CONCIERGE_TEST_KEY", "sk-test")
		cfg := ModelConfig{APIKeyEnv: "CONCIERGE_TEST_KEY"}
		assert.Equal(t, "sk-test", cfg.APIKey())

		assert.Empty(t, ModelConfig{}.APIKey())
	})
}
