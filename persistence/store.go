// Package persistence provides durable storage for task executions, so a
// suspended execution survives process restarts and terminal executions are
// retained for audit until cleanup.
package persistence

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/capability"
	"github.com/taskmesh/taskmesh/orchestrator/state"
	"github.com/taskmesh/taskmesh/types"
)

// Record is the persisted form of one execution: the TaskExecution, the
// exported context store (live context and snapshots), and the sources of
// any dynamically registered capabilities so they can be recompiled when a
// suspended execution resumes.
type Record struct {
	Execution *types.TaskExecution     `json:"execution"`
	State     *state.Dump              `json:"state,omitempty"`
	Dynamic   []capability.DynamicSpec `json:"dynamic,omitempty"`
	SavedAt   time.Time                `json:"saved_at"`
}

// StoreStats contains statistics about the execution store.
type StoreStats struct {
	Total    int64                           `json:"total"`
	ByStatus map[types.ExecutionStatus]int64 `json:"by_status"`
}

// ExecutionStore defines the interface for execution persistence.
type ExecutionStore interface {
	// Save persists a record (create or update).
	Save(ctx context.Context, rec *Record) error

	// Get retrieves a record by execution ID.
	Get(ctx context.Context, executionID string) (*Record, error)

	// Delete removes a record.
	Delete(ctx context.Context, executionID string) error

	// ListSuspended returns executions awaiting external answers, so a
	// restarted process can keep serving their pending questions.
	ListSuspended(ctx context.Context) ([]*Record, error)

	// Cleanup removes terminal executions older than the given duration
	// and returns how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns per-status counts.
	Stats(ctx context.Context) (*StoreStats, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// StoreType selects the execution store backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// StoreConfig configures the execution store.
type StoreConfig struct {
	Type  StoreType   `yaml:"type" env:"TYPE"`
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// NewExecutionStore creates an ExecutionStore based on the configuration.
func NewExecutionStore(cfg StoreConfig) (ExecutionStore, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis)
	default:
		return nil, types.NewErrorf(types.ErrInvalidRequest, "unsupported execution store type: %s", cfg.Type)
	}
}
