// Package config loads mailmesh configuration from built-in defaults, an
// optional YAML file and MAILMESH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. MAILMESH_MODEL_PROVIDER.
const EnvPrefix = "MAILMESH"

// Config holds all configuration for mailmesh.
type Config struct {
	Model      ModelConfig      `mapstructure:"model" yaml:"model"`
	Router     RouterConfig     `mapstructure:"router" yaml:"router"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch" yaml:"dispatch"`
	Transcript TranscriptConfig `mapstructure:"transcript" yaml:"transcript"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ModelConfig selects and parameterizes the model backend.
type ModelConfig struct {
	// Provider is one of mock, openai, anthropic.
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Name        string        `mapstructure:"name" yaml:"name"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Bedrock     BedrockConfig `mapstructure:"bedrock" yaml:"bedrock"`
}

// BedrockConfig routes the anthropic provider through AWS Bedrock.
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Region  string `mapstructure:"region" yaml:"region,omitempty"`
	Profile string `mapstructure:"profile" yaml:"profile,omitempty"`
}

// RouterConfig holds mail router settings.
type RouterConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// AgentConfig holds orchestrator settings.
type AgentConfig struct {
	// Deadline bounds one execution cycle; 0 disables it.
	Deadline time.Duration `mapstructure:"deadline" yaml:"deadline"`
}

// DispatchConfig holds parallel dispatcher settings.
type DispatchConfig struct {
	Replicas       int           `mapstructure:"replicas" yaml:"replicas"`
	Explode        bool          `mapstructure:"explode" yaml:"explode"`
	IncludeMapping bool          `mapstructure:"include_mapping" yaml:"include_mapping"`
	DefaultKey     string        `mapstructure:"default_key" yaml:"default_key"`
	FailFast       bool          `mapstructure:"fail_fast" yaml:"fail_fast"`
	BranchTimeout  time.Duration `mapstructure:"branch_timeout" yaml:"branch_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	MaxModelCalls  int           `mapstructure:"max_model_calls" yaml:"max_model_calls"`
	Retry          RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig holds whole-call retry settings.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Deadline     time.Duration `mapstructure:"deadline" yaml:"deadline"`
}

// TranscriptConfig selects where branch transcripts are persisted.
type TranscriptConfig struct {
	// Backend is none, json or sqlite.
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is a directory (json) or database file (sqlite).
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "mock",
			Name:        "mock",
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Router: RouterConfig{Interval: 10 * time.Millisecond},
		Dispatch: DispatchConfig{
			Replicas:       1,
			IncludeMapping: true,
			DefaultKey:     "response",
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     2 * time.Second,
				Multiplier:   2,
			},
		},
		Transcript: TranscriptConfig{Backend: "none"},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

// setDefaults mirrors Default into v.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.bedrock.enabled", false)
	v.SetDefault("model.bedrock.region", "")
	v.SetDefault("model.bedrock.profile", "")

	v.SetDefault("router.interval", d.Router.Interval.String())
	v.SetDefault("agent.deadline", "0s")

	v.SetDefault("dispatch.replicas", d.Dispatch.Replicas)
	v.SetDefault("dispatch.explode", false)
	v.SetDefault("dispatch.include_mapping", d.Dispatch.IncludeMapping)
	v.SetDefault("dispatch.default_key", d.Dispatch.DefaultKey)
	v.SetDefault("dispatch.fail_fast", false)
	v.SetDefault("dispatch.branch_timeout", "0s")
	v.SetDefault("dispatch.max_concurrency", 0)
	v.SetDefault("dispatch.max_model_calls", 0)
	v.SetDefault("dispatch.retry.max_attempts", d.Dispatch.Retry.MaxAttempts)
	v.SetDefault("dispatch.retry.initial_delay", d.Dispatch.Retry.InitialDelay.String())
	v.SetDefault("dispatch.retry.max_delay", d.Dispatch.Retry.MaxDelay.String())
	v.SetDefault("dispatch.retry.multiplier", d.Dispatch.Retry.Multiplier)
	v.SetDefault("dispatch.retry.deadline", "0s")

	v.SetDefault("transcript.backend", d.Transcript.Backend)
	v.SetDefault("transcript.path", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Load reads configuration. Precedence (highest to lowest):
//  1. Environment variables (MAILMESH_*, plus OPENAI_API_KEY / ANTHROPIC_API_KEY)
//  2. The file at path, or ./mailmesh.yaml, or $XDG_CONFIG_HOME/mailmesh/config.yaml
//  3. Built-in defaults
//
// An explicit path that does not exist is an error; the implicit locations
// are optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	} else {
		v.SetConfigName("mailmesh")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
			if user := UserConfigPath(); fileExists(user) {
				v.SetConfigFile(user)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("reading user config: %w", err)
				}
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = providerKey(cfg.Model.Provider)
	}
	cfg.Model.APIKey = os.ExpandEnv(cfg.Model.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "mock", "openai", "anthropic":
	default:
		return fmt.Errorf("model.provider: unknown provider %q", c.Model.Provider)
	}
	switch c.Transcript.Backend {
	case "", "none", "json", "sqlite":
	default:
		return fmt.Errorf("transcript.backend: unknown backend %q", c.Transcript.Backend)
	}
	if (c.Transcript.Backend == "json" || c.Transcript.Backend == "sqlite") && c.Transcript.Path == "" {
		return fmt.Errorf("transcript.path is required for backend %q", c.Transcript.Backend)
	}
	if c.Dispatch.Replicas < 1 {
		return fmt.Errorf("dispatch.replicas must be >= 1, got %d", c.Dispatch.Replicas)
	}
	if c.Dispatch.Retry.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.retry.max_attempts must be >= 1, got %d", c.Dispatch.Retry.MaxAttempts)
	}
	return nil
}

// Write saves cfg as YAML, creating parent directories. The API key is
// never written.
func Write(path string, cfg *Config) error {
	out := *cfg
	out.Model.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// UserConfigPath returns $XDG_CONFIG_HOME/mailmesh/config.yaml (or the
// ~/.config fallback).
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mailmesh", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "mailmesh", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailmesh", "config.yaml")
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
