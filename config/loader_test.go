package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Orchestrator.TurnTimeout)
	assert.Equal(t, 10, cfg.Orchestrator.Guard.Window)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.False(t, cfg.Sandbox.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "taskmesh", cfg.Metrics.Namespace)
}

func TestLoaderFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9000
orchestrator:
  turn_timeout: 30s
  guard:
    window: 20
    min_distinct: 4
store:
  type: redis
  redis:
    addr: redis.internal:6379
sandbox:
  enabled: true
log:
  level: debug
  format: console
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.TurnTimeout)
	assert.Equal(t, 20, cfg.Orchestrator.Guard.Window)
	assert.Equal(t, 4, cfg.Orchestrator.Guard.MinDistinct)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Store.Redis.Addr)
	assert.True(t, cfg.Sandbox.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, 10*time.Minute, cfg.Orchestrator.ExecutionTimeout)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
}

func TestLoaderEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9000
`)
	t.Setenv("TASKMESH_SERVER_HTTP_PORT", "9500")
	t.Setenv("TASKMESH_ORCHESTRATOR_EXECUTION_TIMEOUT", "2m")
	t.Setenv("TASKMESH_ORCHESTRATOR_GUARD_MAX_HANDOFFS", "25")
	t.Setenv("TASKMESH_LOG_OUTPUT_PATHS", "stdout, /var/log/taskmesh.log")
	t.Setenv("TASKMESH_SANDBOX_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	// Environment wins over file.
	assert.Equal(t, 9500, cfg.Server.HTTPPort)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.ExecutionTimeout)
	assert.Equal(t, 25, cfg.Orchestrator.Guard.MaxHandoffs)
	assert.Equal(t, []string{"stdout", "/var/log/taskmesh.log"}, cfg.Log.OutputPaths)
	assert.True(t, cfg.Sandbox.Enabled)
}

func TestLoaderMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  http_port: -1\n"},
		{"bad store type", "store:\n  type: cassandra\n"},
		{"redis without addr", "store:\n  type: redis\n  redis:\n    addr: \"\"\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"turn longer than execution", "orchestrator:\n  turn_timeout: 1h\n  execution_timeout: 1m\n"},
		{"sandbox unbounded", "sandbox:\n  enabled: true\n  max_source_bytes: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			_, err := NewLoader().WithConfigPath(path).Load()
			require.Error(t, err)
		})
	}
}

func TestLoaderCustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(c *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestConfigConversions(t *testing.T) {
	cfg := DefaultConfig()

	oc := cfg.CoordinatorConfig()
	assert.Equal(t, cfg.Orchestrator.TurnTimeout, oc.TurnTimeout)
	assert.Equal(t, cfg.Orchestrator.Guard.Window, oc.Guard.Window)

	sc := cfg.ExecutionStoreConfig()
	assert.Equal(t, "memory", string(sc.Type))
	assert.Equal(t, cfg.Store.Redis.Addr, sc.Redis.Addr)

	sp := cfg.SandboxPolicy()
	assert.Equal(t, cfg.Sandbox.MaxSourceBytes, sp.MaxSourceBytes)
	assert.Equal(t, cfg.Sandbox.ExecTimeout, sp.ExecTimeout)
}
