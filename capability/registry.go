package capability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskmesh/taskmesh/types"
)

// Func is the capability implementation signature. The input is
// schema-validated before the call; output is JSON or a typed error.
type Func func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// RateLimit caps the invocation rate of a capability.
type RateLimit struct {
	PerSecond float64 `json:"per_second"`
	Burst     int     `json:"burst"`
}

// Metadata describes a registered capability.
type Metadata struct {
	Schema    Schema        `json:"schema"`
	Timeout   time.Duration `json:"timeout"`              // per-call bound, default 30s
	RateLimit *RateLimit    `json:"rate_limit,omitempty"` // optional
	Dynamic   bool          `json:"dynamic"`              // registered at runtime via self-extension
	Execution string        `json:"execution,omitempty"`  // owning execution for dynamic capabilities
}

// Resolver resolves capability names for the executor. Implemented by
// [Registry] (global, static) and [Scope] (execution-local overlay).
type Resolver interface {
	Get(name string) (Func, Metadata, error)
	List() []Schema
	Has(name string) bool
	// Allow consumes a rate-limit token for the capability, if one applies.
	Allow(name string) error
	// Discard removes a dynamic registration after a sandbox violation.
	// Static capabilities are never discarded.
	Discard(name string)
}

// Registry is the process-wide capability registry. The static set loaded at
// process start is immutable for the life of the process except through
// explicit promotion of execution-scoped dynamic capabilities.
type Registry struct {
	mu       sync.RWMutex
	caps     map[string]Func
	meta     map[string]Metadata
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		caps:     make(map[string]Func),
		meta:     make(map[string]Metadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "capability_registry")),
	}
}

// Register adds a capability. Duplicate names are an error.
func (r *Registry) Register(name string, fn Func, meta Metadata) error {
	if name == "" || fn == nil {
		return types.NewError(types.ErrInvalidRequest, "capability name and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[name]; exists {
		return types.NewErrorf(types.ErrInvalidRequest, "capability %q already registered", name)
	}
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Schema.Name != name {
		return types.NewErrorf(types.ErrInvalidRequest, "capability name mismatch: schema.Name=%s, register name=%s", meta.Schema.Name, name)
	}
	if meta.Timeout == 0 {
		meta.Timeout = 30 * time.Second
	}

	r.caps[name] = fn
	r.meta[name] = meta
	if meta.RateLimit != nil {
		r.limiters[name] = rate.NewLimiter(rate.Limit(meta.RateLimit.PerSecond), meta.RateLimit.Burst)
	}

	r.logger.Info("capability registered",
		zap.String("name", name),
		zap.Duration("timeout", meta.Timeout),
		zap.Bool("dynamic", meta.Dynamic),
	)
	return nil
}

// Unregister removes a capability by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[name]; !exists {
		return types.NewErrorf(types.ErrCapabilityNotFound, "capability %q not found", name)
	}
	delete(r.caps, name)
	delete(r.meta, name)
	delete(r.limiters, name)
	r.logger.Info("capability unregistered", zap.String("name", name))
	return nil
}

// Get resolves a capability by name.
func (r *Registry) Get(name string) (Func, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.caps[name]
	if !ok {
		return nil, Metadata{}, types.NewErrorf(types.ErrCapabilityNotFound, "capability %q not found", name).WithCapability(name)
	}
	return fn, r.meta[name], nil
}

// List returns the schemas of all registered capabilities.
func (r *Registry) List() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.meta))
	for _, m := range r.meta {
		out = append(out, m.Schema)
	}
	return out
}

// Has reports whether a capability is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[name]
	return ok
}

// Allow consumes a rate-limit token for the capability.
func (r *Registry) Allow(name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if !limiter.Allow() {
		return types.NewErrorf(types.ErrRateLimited, "capability %q rate limit exceeded", name).
			WithCapability(name).
			WithRetryable(true)
	}
	return nil
}

// Discard removes a dynamic capability after a sandbox violation. Static
// registrations stay.
func (r *Registry) Discard(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.meta[name]
	if !ok || !meta.Dynamic {
		return
	}
	delete(r.caps, name)
	delete(r.meta, name)
	delete(r.limiters, name)
	r.logger.Warn("dynamic capability discarded", zap.String("name", name))
}
