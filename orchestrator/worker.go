package orchestrator

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/capability"
	"github.com/taskmesh/taskmesh/types"
)

// Worker is one specialized agent in the mesh. A worker observes the shared
// context through a read-only view, may call its granted capabilities, and
// returns exactly one structured outcome per turn. Workers never mutate the
// context directly and never see each other.
type Worker interface {
	// Name returns the worker's unique registered name.
	Name() string

	// Decide runs one turn. The returned outcome must carry exactly one of
	// a final result, a handoff instruction, or an interrupt request.
	Decide(ctx context.Context, view types.ContextView, caps *capability.CallSet) (*types.Outcome, error)
}

// WorkerSpec declares a worker's static wiring: which workers it may hand
// off to and which capabilities it may call. An empty AllowedTargets means
// the worker can only finish or interrupt, never hand off.
type WorkerSpec struct {
	AllowedTargets []string `json:"allowed_targets" yaml:"allowed_targets"`
	Capabilities   []string `json:"capabilities" yaml:"capabilities"`
}

// CanHandoff reports whether target is in the allowed-targets list.
func (s WorkerSpec) CanHandoff(target string) bool {
	for _, t := range s.AllowedTargets {
		if t == target {
			return true
		}
	}
	return false
}

// funcWorker adapts a plain function to the Worker interface.
type funcWorker struct {
	name   string
	decide func(ctx context.Context, view types.ContextView, caps *capability.CallSet) (*types.Outcome, error)
}

func (w *funcWorker) Name() string { return w.name }

func (w *funcWorker) Decide(ctx context.Context, view types.ContextView, caps *capability.CallSet) (*types.Outcome, error) {
	return w.decide(ctx, view, caps)
}

// WorkerFromFunc wraps a decide function as a Worker.
func WorkerFromFunc(name string, decide func(ctx context.Context, view types.ContextView, caps *capability.CallSet) (*types.Outcome, error)) Worker {
	return &funcWorker{name: name, decide: decide}
}

// WorkerRegistry holds the mesh topology: every registered worker plus its
// spec. The registry is fixed before executions start; handoff targets are
// validated against it on every turn.
type WorkerRegistry struct {
	mu      sync.RWMutex
	workers map[string]Worker
	specs   map[string]WorkerSpec
	logger  *zap.Logger
}

// NewWorkerRegistry creates an empty worker registry.
func NewWorkerRegistry(logger *zap.Logger) *WorkerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerRegistry{
		workers: make(map[string]Worker),
		specs:   make(map[string]WorkerSpec),
		logger:  logger.With(zap.String("component", "worker_registry")),
	}
}

// Register adds a worker with its spec. Duplicate names are rejected.
func (r *WorkerRegistry) Register(w Worker, spec WorkerSpec) error {
	if w == nil || w.Name() == "" {
		return types.NewError(types.ErrInvalidRequest, "worker and worker name are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := w.Name()
	if _, exists := r.workers[name]; exists {
		return types.NewErrorf(types.ErrInvalidRequest, "worker %q already registered", name)
	}
	r.workers[name] = w
	r.specs[name] = spec
	r.logger.Info("worker registered",
		zap.String("worker", name),
		zap.Strings("allowed_targets", spec.AllowedTargets),
		zap.Strings("capabilities", spec.Capabilities),
	)
	return nil
}

// Get returns a worker and its spec by name.
func (r *WorkerRegistry) Get(name string) (Worker, WorkerSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	if !ok {
		return nil, WorkerSpec{}, types.NewErrorf(types.ErrUnknownWorker, "worker %q is not registered", name).
			WithWorker(name)
	}
	return w, r.specs[name], nil
}

// Has reports whether a worker is registered.
func (r *WorkerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[name]
	return ok
}

// Names returns the registered worker names in sorted order.
func (r *WorkerRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ValidateGraph checks that every declared handoff target resolves to a
// registered worker. Run it once before accepting executions: a dangling
// target is a configuration error, not a runtime surprise.
func (r *WorkerRegistry) ValidateGraph() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, spec := range r.specs {
		for _, target := range spec.AllowedTargets {
			if _, ok := r.workers[target]; !ok {
				return types.NewErrorf(types.ErrUnknownWorker, "worker %q declares handoff target %q which is not registered", name, target).
					WithWorker(name)
			}
		}
	}
	return nil
}
