// Package config provides configuration loading and validation for confidant.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Backend BackendConfig `yaml:"backend"`
	Context ContextConfig `yaml:"context"`
	Retry   RetryConfig   `yaml:"retry"`
	Session SessionConfig `yaml:"session"`
	Prompt  PromptConfig  `yaml:"prompt"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig configures where conversations are kept.
type StorageConfig struct {
	Dir           string        `yaml:"dir"`
	FactsCacheTTL time.Duration `yaml:"facts_cache_ttl"`
}

// BackendConfig configures the model server.
type BackendConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	TopK        int           `yaml:"top_k"`
}

// ContextConfig configures prompt context construction.
type ContextConfig struct {
	RecentTurns int `yaml:"recent_turns"`
}

// RetryConfig configures backend retry.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// SessionConfig configures idle session eviction.
type SessionConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// PromptConfig configures the system prompt file.
type PromptConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// RelayConfig configures the inbound message pipeline.
type RelayConfig struct {
	CommandPrefix  string   `yaml:"command_prefix"`
	AllowedUsers   []string `yaml:"allowed_users"`
	RatePerMinute  int      `yaml:"rate_per_minute"`
	RateBurst      int      `yaml:"rate_burst"`
	DedupCacheSize int      `yaml:"dedup_cache_size"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Dir:           ".conversations",
			FactsCacheTTL: 10 * time.Minute,
		},
		Backend: BackendConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "wizard-vicuna-uncensored:13b",
			Timeout:     120 * time.Second,
			Temperature: 0.8,
			TopP:        0.9,
			TopK:        40,
		},
		Context: ContextConfig{RecentTurns: 10},
		Retry:   RetryConfig{MaxAttempts: 3, Backoff: time.Second},
		Session: SessionConfig{
			IdleTimeout:     30 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Prompt: PromptConfig{Path: "prompt.txt", Watch: true},
		Relay: RelayConfig{
			CommandPrefix:  "/",
			RatePerMinute:  30,
			RateBurst:      5,
			DedupCacheSize: 1024,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then CONFIDANT_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads YAML from path over the defaults. ${VAR} references are
// expanded from the environment before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Storage.Dir) == "" {
		errs = append(errs, errors.New("storage.dir is required"))
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if strings.TrimSpace(c.Backend.Model) == "" {
		errs = append(errs, errors.New("backend.model is required"))
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout cannot be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.Backoff < 0 {
		errs = append(errs, errors.New("retry.backoff cannot be negative"))
	}
	if c.Context.RecentTurns < 1 {
		errs = append(errs, errors.New("context.recent_turns must be at least 1"))
	}
	if strings.TrimSpace(c.Prompt.Path) == "" {
		errs = append(errs, errors.New("prompt.path is required"))
	}
	if strings.TrimSpace(c.Relay.CommandPrefix) == "" {
		errs = append(errs, errors.New("relay.command_prefix is required"))
	}
	if c.Relay.RatePerMinute < 0 || c.Relay.RateBurst < 0 {
		errs = append(errs, errors.New("relay rate limits cannot be negative"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnv overlays CONFIDANT_* variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("CONFIDANT_ADDR", cfg.Server.Addr)
	cfg.Storage.Dir = getEnv("CONFIDANT_STORAGE_DIR", cfg.Storage.Dir)
	cfg.Backend.BaseURL = getEnv("CONFIDANT_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Model = getEnv("CONFIDANT_MODEL", cfg.Backend.Model)
	cfg.Backend.Timeout = getEnvDuration("CONFIDANT_BACKEND_TIMEOUT", cfg.Backend.Timeout)
	cfg.Context.RecentTurns = getEnvInt("CONFIDANT_RECENT_TURNS", cfg.Context.RecentTurns)
	cfg.Retry.MaxAttempts = getEnvInt("CONFIDANT_RETRY_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.Backoff = getEnvDuration("CONFIDANT_RETRY_BACKOFF", cfg.Retry.Backoff)
	cfg.Prompt.Path = getEnv("CONFIDANT_PROMPT_PATH", cfg.Prompt.Path)
	cfg.Prompt.Watch = getEnvBool("CONFIDANT_PROMPT_WATCH", cfg.Prompt.Watch)
	cfg.Logging.Level = getEnv("CONFIDANT_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("CONFIDANT_LOG_FORMAT", cfg.Logging.Format)
	cfg.Metrics.Enabled = getEnvBool("CONFIDANT_METRICS_ENABLED", cfg.Metrics.Enabled)

	if users := os.Getenv("CONFIDANT_ALLOWED_USERS"); users != "" {
		cfg.Relay.AllowedUsers = splitList(users)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
