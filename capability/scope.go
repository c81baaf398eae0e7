package capability

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskmesh/taskmesh/types"
)

// Scope overlays execution-local dynamic capabilities over the global
// registry. Dynamic registrations are visible only to the owning execution
// until explicitly promoted.
type Scope struct {
	executionID string
	parent      *Registry

	mu         sync.RWMutex
	caps       map[string]Func
	meta       map[string]Metadata
	limiters   map[string]*rate.Limiter
	specs      map[string]DynamicSpec
	promotions []PromotionRecord
	logger     *zap.Logger
}

// PromotionRecord is the audit entry written when a dynamic capability is
// promoted to global scope.
type PromotionRecord struct {
	Capability  string    `json:"capability"`
	ExecutionID string    `json:"execution_id"`
	PromotedAt  time.Time `json:"promoted_at"`
}

// NewScope creates an execution-local capability scope.
func NewScope(executionID string, parent *Registry, logger *zap.Logger) *Scope {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scope{
		executionID: executionID,
		parent:      parent,
		caps:        make(map[string]Func),
		meta:        make(map[string]Metadata),
		limiters:    make(map[string]*rate.Limiter),
		specs:       make(map[string]DynamicSpec),
		logger: logger.With(
			zap.String("component", "capability_scope"),
			zap.String("execution_id", executionID),
		),
	}
}

// RegisterDynamic adds an execution-scoped capability. Shadowing a global
// capability is rejected: a dynamic implementation must not silently replace
// a vetted static one.
func (s *Scope) RegisterDynamic(name string, fn Func, meta Metadata) error {
	if name == "" || fn == nil {
		return types.NewError(types.ErrInvalidRequest, "capability name and implementation are required")
	}
	if s.parent.Has(name) {
		return types.NewErrorf(types.ErrInvalidRequest, "capability %q already exists in the global registry", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.caps[name]; exists {
		return types.NewErrorf(types.ErrInvalidRequest, "capability %q already registered in this execution", name)
	}
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Timeout == 0 {
		meta.Timeout = 30 * time.Second
	}
	meta.Dynamic = true
	meta.Execution = s.executionID

	s.caps[name] = fn
	s.meta[name] = meta
	if meta.RateLimit != nil {
		s.limiters[name] = rate.NewLimiter(rate.Limit(meta.RateLimit.PerSecond), meta.RateLimit.Burst)
	}
	s.logger.Info("dynamic capability registered", zap.String("name", name))
	return nil
}

// Promote moves an execution-scoped capability into the global registry.
// It is the only path from execution scope to global scope and is audited.
func (s *Scope) Promote(name string) error {
	s.mu.Lock()
	fn, ok := s.caps[name]
	if !ok {
		s.mu.Unlock()
		return types.NewErrorf(types.ErrCapabilityNotFound, "capability %q not found in execution scope", name)
	}
	meta := s.meta[name]
	s.mu.Unlock()

	if err := s.parent.Register(name, fn, meta); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.caps, name)
	delete(s.meta, name)
	delete(s.limiters, name)
	delete(s.specs, name)
	rec := PromotionRecord{Capability: name, ExecutionID: s.executionID, PromotedAt: time.Now()}
	s.promotions = append(s.promotions, rec)
	s.mu.Unlock()

	s.logger.Info("capability promoted to global scope", zap.String("name", name))
	return nil
}

// Promotions returns the audit trail of promotions made through this scope.
func (s *Scope) Promotions() []PromotionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PromotionRecord, len(s.promotions))
	copy(out, s.promotions)
	return out
}

// Get resolves local capabilities first, then the global registry.
func (s *Scope) Get(name string) (Func, Metadata, error) {
	s.mu.RLock()
	fn, ok := s.caps[name]
	if ok {
		meta := s.meta[name]
		s.mu.RUnlock()
		return fn, meta, nil
	}
	s.mu.RUnlock()
	return s.parent.Get(name)
}

// List returns the schemas visible to this execution.
func (s *Scope) List() []Schema {
	out := s.parent.List()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.meta {
		out = append(out, m.Schema)
	}
	return out
}

// Has reports whether the capability is visible to this execution.
func (s *Scope) Has(name string) bool {
	s.mu.RLock()
	_, ok := s.caps[name]
	s.mu.RUnlock()
	return ok || s.parent.Has(name)
}

// Allow consumes a rate-limit token, local limiter first.
func (s *Scope) Allow(name string) error {
	s.mu.RLock()
	limiter, ok := s.limiters[name]
	s.mu.RUnlock()
	if ok {
		if !limiter.Allow() {
			return types.NewErrorf(types.ErrRateLimited, "capability %q rate limit exceeded", name).
				WithCapability(name).
				WithRetryable(true)
		}
		return nil
	}
	return s.parent.Allow(name)
}

// Discard removes a local dynamic registration; global discards are
// delegated to the registry, which only drops dynamic entries.
func (s *Scope) Discard(name string) {
	s.mu.Lock()
	if _, ok := s.caps[name]; ok {
		delete(s.caps, name)
		delete(s.meta, name)
		delete(s.limiters, name)
		delete(s.specs, name)
		s.mu.Unlock()
		s.logger.Warn("dynamic capability discarded from execution scope", zap.String("name", name))
		return
	}
	s.mu.Unlock()
	s.parent.Discard(name)
}
