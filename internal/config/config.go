// Package config loads and validates convoke configuration.
// Configuration lives at ~/.convoke/config.yaml and can be overridden by
// CONVOKE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for convoke.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Optimizer OptimizerConfig `mapstructure:"optimizer" yaml:"optimizer"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	Persona   PersonaConfig   `mapstructure:"persona" yaml:"persona"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Data      DataConfig      `mapstructure:"data" yaml:"data"`
}

// LLMConfig contains configuration for LLM providers and routing.
type LLMConfig struct {
	// DefaultProvider is used when neither the request nor the scope picks one.
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// FallbackEnabled controls whether transient failures advance to the
	// next provider in FallbackOrder.
	FallbackEnabled bool `mapstructure:"fallback_enabled" yaml:"fallback_enabled"`
	// FallbackOrder is the ordered list of providers to try. It also bounds
	// the total attempts for a single request.
	FallbackOrder []string `mapstructure:"fallback_order" yaml:"fallback_order"`
	// RequestTimeout bounds each provider attempt. Clamped to 30s-120s.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// Providers maps provider names to their specific configuration.
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	// ScopeProviders maps a scope key to a provider name, overriding the
	// default for conversations under that scope.
	ScopeProviders map[string]string `mapstructure:"scope_providers" yaml:"scope_providers,omitempty"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	// Endpoint is the API base URL (primarily for local providers like Ollama).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey is the authentication key. Environment variables
	// (OPENAI_API_KEY etc.) are consulted when empty.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the model to use with this provider.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// MaxContextTokens is the context window used for budget tracking.
	MaxContextTokens int `mapstructure:"max_context_tokens" yaml:"max_context_tokens,omitempty"`
	// MaxTokens caps response length.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	// Temperature default for this provider.
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
}

// OptimizerConfig tunes the history summarization pass. The trigger and
// target figures are deliberately configuration, not constants.
type OptimizerConfig struct {
	// TriggerFraction of the provider's context window at which an
	// optimization pass is enqueued (inclusive).
	TriggerFraction float64 `mapstructure:"trigger_fraction" yaml:"trigger_fraction"`
	// KeepRecent messages are kept verbatim; older ones are summarized.
	KeepRecent int `mapstructure:"keep_recent" yaml:"keep_recent"`
	// SummaryMaxTokens bounds the summarization completion.
	SummaryMaxTokens int `mapstructure:"summary_max_tokens" yaml:"summary_max_tokens"`
	// ConsolidateThresholdChars triggers a second consolidation pass when
	// the merged context grows past this many characters.
	ConsolidateThresholdChars int `mapstructure:"consolidate_threshold_chars" yaml:"consolidate_threshold_chars"`
	// QueueSize bounds the background optimization queue.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
	// Workers is the number of background optimization workers.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// CacheConfig tunes the fast tier of the message cache.
type CacheConfig struct {
	// FastSize is the number of scopes held in the in-memory tier.
	FastSize int `mapstructure:"fast_size" yaml:"fast_size"`
	// FastTTL evicts idle scope histories from the in-memory tier.
	FastTTL time.Duration `mapstructure:"fast_ttl" yaml:"fast_ttl"`
	// HistoryLimit caps how many recent messages are loaded per request.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
}

// MemoryConfig tunes the per-scope memory notes block.
type MemoryConfig struct {
	// MaxTokens bounds the memory block injected into the system prompt.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// PersonaConfig selects the assistant persona.
type PersonaConfig struct {
	// File is an optional YAML persona definition; empty uses the built-in.
	File string `mapstructure:"file" yaml:"file,omitempty"`
	// Scopes maps a scope key to custom persona text appended after the
	// base persona for conversations under that scope.
	Scopes map[string]string `mapstructure:"scopes" yaml:"scopes,omitempty"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file; empty logs to stderr only.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// DataConfig locates durable storage.
type DataConfig struct {
	// Dir is the data directory holding the SQLite database.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Request timeout bounds. Values outside this range are clamped, not
// rejected, so a stale config file cannot brick startup.
const (
	MinRequestTimeout = 30 * time.Second
	MaxRequestTimeout = 120 * time.Second
)

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".convoke")

	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			FallbackEnabled: true,
			FallbackOrder:   []string{"ollama", "openai", "anthropic"},
			RequestTimeout:  60 * time.Second,
			Providers: map[string]ProviderConfig{
				"ollama": {
					Endpoint:         "http://127.0.0.1:11434",
					Model:            "llama3",
					MaxContextTokens: 8192,
				},
				"openai": {
					Model:            "gpt-4o-mini",
					MaxContextTokens: 128000,
				},
				"anthropic": {
					Model:            "claude-3-5-sonnet-20241022",
					MaxContextTokens: 200000,
				},
			},
		},
		Optimizer: OptimizerConfig{
			TriggerFraction:           0.8,
			KeepRecent:                10,
			SummaryMaxTokens:          400,
			ConsolidateThresholdChars: 2000,
			QueueSize:                 32,
			Workers:                   2,
		},
		Cache: CacheConfig{
			FastSize:     256,
			FastTTL:      30 * time.Minute,
			HistoryLimit: 50,
		},
		Memory: MemoryConfig{
			MaxTokens: 400,
		},
		Persona: PersonaConfig{},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "convoke.log"),
		},
		Data: DataConfig{
			Dir: dataDir,
		},
	}
}

// Load reads configuration from the default location (~/.convoke/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// DefaultPath is the default config file location.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(homeDir, ".convoke", "config.yaml")
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example override: CONVOKE_LLM_DEFAULT_PROVIDER
	v.SetEnvPrefix("CONVOKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Data.Dir = expandPath(cfg.Data.Dir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Persona.File = expandPath(cfg.Persona.File)

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills zero values with defaults and clamps the request
// timeout into its allowed range.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = defaults.LLM.DefaultProvider
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = defaults.LLM.RequestTimeout
	}
	if c.LLM.RequestTimeout < MinRequestTimeout {
		c.LLM.RequestTimeout = MinRequestTimeout
	}
	if c.LLM.RequestTimeout > MaxRequestTimeout {
		c.LLM.RequestTimeout = MaxRequestTimeout
	}
	if len(c.LLM.Providers) == 0 {
		c.LLM.Providers = defaults.LLM.Providers
	}

	if c.Optimizer.TriggerFraction == 0 {
		c.Optimizer.TriggerFraction = defaults.Optimizer.TriggerFraction
	}
	if c.Optimizer.KeepRecent == 0 {
		c.Optimizer.KeepRecent = defaults.Optimizer.KeepRecent
	}
	if c.Optimizer.SummaryMaxTokens == 0 {
		c.Optimizer.SummaryMaxTokens = defaults.Optimizer.SummaryMaxTokens
	}
	if c.Optimizer.ConsolidateThresholdChars == 0 {
		c.Optimizer.ConsolidateThresholdChars = defaults.Optimizer.ConsolidateThresholdChars
	}
	if c.Optimizer.QueueSize == 0 {
		c.Optimizer.QueueSize = defaults.Optimizer.QueueSize
	}
	if c.Optimizer.Workers == 0 {
		c.Optimizer.Workers = defaults.Optimizer.Workers
	}

	if c.Cache.FastSize == 0 {
		c.Cache.FastSize = defaults.Cache.FastSize
	}
	if c.Cache.FastTTL == 0 {
		c.Cache.FastTTL = defaults.Cache.FastTTL
	}
	if c.Cache.HistoryLimit == 0 {
		c.Cache.HistoryLimit = defaults.Cache.HistoryLimit
	}

	if c.Memory.MaxTokens == 0 {
		c.Memory.MaxTokens = defaults.Memory.MaxTokens
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Data.Dir == "" {
		c.Data.Dir = defaults.Data.Dir
	}
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".convoke", "config.yaml")
	return c.SaveToPath(configPath)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Data.Dir}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}

	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}

	for _, name := range c.LLM.FallbackOrder {
		if _, exists := c.LLM.Providers[name]; !exists {
			return fmt.Errorf("fallback provider '%s' not found in providers map", name)
		}
	}

	if c.Optimizer.TriggerFraction <= 0 || c.Optimizer.TriggerFraction > 1 {
		return fmt.Errorf("optimizer.trigger_fraction must be in (0, 1], got %v", c.Optimizer.TriggerFraction)
	}

	if c.Optimizer.KeepRecent < 0 {
		return fmt.Errorf("optimizer.keep_recent cannot be negative")
	}

	if c.Cache.FastSize < 1 {
		return fmt.Errorf("cache.fast_size must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
