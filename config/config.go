// Package config loads the YAML configuration consumed by the concierge
// CLI. Library embedders normally skip it and wire options directly.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/concierge/core"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "250ms" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogConfig controls the slog-backed logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ModelConfig selects and parameterizes the provider adapter. APIKeyEnv
// names the environment variable holding the credential; the key itself
// never lives in the file.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// APIKey resolves the credential from the configured environment variable.
func (m ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// GatewayConfig bounds admission and concurrency.
type GatewayConfig struct {
	QueueDepth         int `yaml:"queue_depth"`
	MaxConcurrentTurns int `yaml:"max_concurrent_turns"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	HistoryWindow int    `yaml:"history_window"`
	MaxRetries    int    `yaml:"max_retries"`
	Instructions  string `yaml:"instructions"`
}

// StorageConfig selects the persistence backend. An empty path means
// in-memory stores.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// CronConfig bounds the scheduler.
type CronConfig struct {
	TickInterval   Duration `yaml:"tick_interval"`
	MaxFireRetries int      `yaml:"max_fire_retries"`
}

// ToolsConfig applies capability policy.
type ToolsConfig struct {
	DisabledCapabilities []string `yaml:"disabled_capabilities"`
}

// Config is the root configuration document.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Model   ModelConfig   `yaml:"model"`
	Gateway GatewayConfig `yaml:"gateway"`
	Agent   AgentConfig   `yaml:"agent"`
	Storage StorageConfig `yaml:"storage"`
	Cron    CronConfig    `yaml:"cron"`
	Tools   ToolsConfig   `yaml:"tools"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Model: ModelConfig{
			Provider:  "anthropic",
			Name:      "claude-sonnet-4-20250514",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
		},
		Gateway: GatewayConfig{QueueDepth: 16, MaxConcurrentTurns: 4},
		Agent:   AgentConfig{MaxIterations: 10, HistoryWindow: 40, MaxRetries: 2},
		Cron:    CronConfig{TickInterval: Duration(time.Second), MaxFireRetries: 10},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects impossible values before any component is constructed.
func (c Config) Validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai", "mock":
	default:
		return &core.ValidationError{Field: "model.provider", Message: fmt.Sprintf("unknown provider %q", c.Model.Provider)}
	}
	if c.Gateway.QueueDepth <= 0 {
		return &core.ValidationError{Field: "gateway.queue_depth", Message: "must be positive"}
	}
	if c.Gateway.MaxConcurrentTurns <= 0 {
		return &core.ValidationError{Field: "gateway.max_concurrent_turns", Message: "must be positive"}
	}
	if c.Agent.MaxIterations <= 0 {
		return &core.ValidationError{Field: "agent.max_iterations", Message: "must be positive"}
	}
	if c.Cron.TickInterval <= 0 {
		return &core.ValidationError{Field: "cron.tick_interval", Message: "must be positive"}
	}
	return nil
}
