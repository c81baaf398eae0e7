package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Store:        DefaultStoreConfig(),
		Sandbox:      DefaultSandboxConfig(),
		Log:          DefaultLogConfig(),
		Metrics:      DefaultMetricsConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultOrchestratorConfig returns the default coordinator tuning.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		TurnTimeout:          60 * time.Second,
		ExecutionTimeout:     10 * time.Minute,
		MaxTurnRetries:       2,
		MaxCapabilityRetries: 2,
		MaxConcurrent:        32,
		Retention:            24 * time.Hour,
		CleanupInterval:      time.Hour,
		Guard: GuardConfig{
			Window:      10,
			MinDistinct: 3,
			MinSamples:  6,
			MaxHandoffs: 50,
		},
	}
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: "memory",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "taskmesh:execution:",
		},
	}
}

// DefaultSandboxConfig returns the default sandbox configuration.
// Self-extension is off unless explicitly enabled.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Enabled:        false,
		MaxSourceBytes: 64 * 1024,
		ExecTimeout:    5 * time.Second,
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "taskmesh",
	}
}
