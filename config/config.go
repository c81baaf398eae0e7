package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/capability"
	"github.com/taskmesh/taskmesh/orchestrator"
	"github.com/taskmesh/taskmesh/persistence"
)

// Config is the complete taskmesh configuration.
type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Orchestrator tunes the coordinator loop and the loop guard.
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Store configures execution persistence.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Sandbox configures dynamic capability self-extension.
	Sandbox SandboxConfig `yaml:"sandbox" env:"SANDBOX"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS caps requests per second per client IP. Zero disables
	// rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// OrchestratorConfig tunes the coordinator loop.
type OrchestratorConfig struct {
	TurnTimeout          time.Duration `yaml:"turn_timeout" env:"TURN_TIMEOUT"`
	ExecutionTimeout     time.Duration `yaml:"execution_timeout" env:"EXECUTION_TIMEOUT"`
	MaxTurnRetries       int           `yaml:"max_turn_retries" env:"MAX_TURN_RETRIES"`
	MaxCapabilityRetries int           `yaml:"max_capability_retries" env:"MAX_CAPABILITY_RETRIES"`
	MaxConcurrent        int64         `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	Retention            time.Duration `yaml:"retention" env:"RETENTION"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	Guard                GuardConfig   `yaml:"guard" env:"GUARD"`
}

// GuardConfig tunes the repetitive-handoff detector.
type GuardConfig struct {
	Window      int `yaml:"window" env:"WINDOW"`
	MinDistinct int `yaml:"min_distinct" env:"MIN_DISTINCT"`
	MinSamples  int `yaml:"min_samples" env:"MIN_SAMPLES"`
	MaxHandoffs int `yaml:"max_handoffs" env:"MAX_HANDOFFS"`
}

// StoreConfig configures execution persistence.
type StoreConfig struct {
	// Type selects the backend: memory or redis.
	Type  string      `yaml:"type" env:"TYPE"`
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig configures the Redis execution store.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SandboxConfig configures dynamic capability self-extension.
type SandboxConfig struct {
	// Enabled turns the extend capability on. Off by default.
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	MaxSourceBytes int           `yaml:"max_source_bytes" env:"MAX_SOURCE_BYTES"`
	ExecTimeout    time.Duration `yaml:"exec_timeout" env:"EXEC_TIMEOUT"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit settings must not be negative")
	}
	if c.Orchestrator.TurnTimeout <= 0 {
		errs = append(errs, "turn_timeout must be positive")
	}
	if c.Orchestrator.ExecutionTimeout <= 0 {
		errs = append(errs, "execution_timeout must be positive")
	}
	if c.Orchestrator.TurnTimeout > c.Orchestrator.ExecutionTimeout {
		errs = append(errs, "turn_timeout must not exceed execution_timeout")
	}
	if c.Orchestrator.Guard.Window <= 0 {
		errs = append(errs, "guard window must be positive")
	}
	if c.Orchestrator.Guard.MinDistinct < 2 {
		errs = append(errs, "guard min_distinct must be at least 2")
	}
	switch c.Store.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown store type %q (supported: memory, redis)", c.Store.Type))
	}
	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		errs = append(errs, "redis store requires an address")
	}
	if c.Sandbox.Enabled {
		if c.Sandbox.MaxSourceBytes <= 0 {
			errs = append(errs, "sandbox max_source_bytes must be positive")
		}
		if c.Sandbox.ExecTimeout <= 0 {
			errs = append(errs, "sandbox exec_timeout must be positive")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CoordinatorConfig converts the orchestrator section into the
// coordinator's native config.
func (c *Config) CoordinatorConfig() orchestrator.Config {
	return orchestrator.Config{
		TurnTimeout:          c.Orchestrator.TurnTimeout,
		ExecutionTimeout:     c.Orchestrator.ExecutionTimeout,
		MaxTurnRetries:       c.Orchestrator.MaxTurnRetries,
		MaxCapabilityRetries: c.Orchestrator.MaxCapabilityRetries,
		MaxConcurrent:        c.Orchestrator.MaxConcurrent,
		Retention:            c.Orchestrator.Retention,
		CleanupInterval:      c.Orchestrator.CleanupInterval,
		Guard: orchestrator.GuardConfig{
			Window:      c.Orchestrator.Guard.Window,
			MinDistinct: c.Orchestrator.Guard.MinDistinct,
			MinSamples:  c.Orchestrator.Guard.MinSamples,
			MaxHandoffs: c.Orchestrator.Guard.MaxHandoffs,
		},
	}
}

// ExecutionStoreConfig converts the store section into the persistence
// layer's native config.
func (c *Config) ExecutionStoreConfig() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type: persistence.StoreType(c.Store.Type),
		Redis: persistence.RedisConfig{
			Addr:      c.Store.Redis.Addr,
			Password:  c.Store.Redis.Password,
			DB:        c.Store.Redis.DB,
			PoolSize:  c.Store.Redis.PoolSize,
			KeyPrefix: c.Store.Redis.KeyPrefix,
		},
	}
}

// SandboxPolicy converts the sandbox section into the capability layer's
// native policy.
func (c *Config) SandboxPolicy() capability.SandboxPolicy {
	return capability.SandboxPolicy{
		MaxSourceBytes: c.Sandbox.MaxSourceBytes,
		ExecTimeout:    c.Sandbox.ExecTimeout,
	}
}
