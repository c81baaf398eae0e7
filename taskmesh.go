// Package taskmesh provides a top-level convenience entry point for
// embedding the orchestrator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/taskmesh/taskmesh"
//
//	mesh, err := taskmesh.New(
//		taskmesh.WithWorker(triage, orchestrator.WorkerSpec{AllowedTargets: []string{"billing"}}),
//		taskmesh.WithWorker(billing, orchestrator.WorkerSpec{}),
//	)
//	id, err := mesh.Submit(ctx, "refund order #42", "triage")
//
// For the full HTTP service, see cmd/taskmesh.
package taskmesh

import (
	"context"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/capability"
	"github.com/taskmesh/taskmesh/internal/metrics"
	"github.com/taskmesh/taskmesh/orchestrator"
	"github.com/taskmesh/taskmesh/orchestrator/hitl"
	"github.com/taskmesh/taskmesh/persistence"
	"github.com/taskmesh/taskmesh/types"
)

// Mesh bundles a coordinator with its registries and store.
type Mesh struct {
	coord   *orchestrator.Coordinator
	workers *orchestrator.WorkerRegistry
	caps    *capability.Registry
	store   persistence.ExecutionStore
}

type workerEntry struct {
	worker orchestrator.Worker
	spec   orchestrator.WorkerSpec
}

type capEntry struct {
	name string
	fn   capability.Func
	meta capability.Metadata
}

type options struct {
	cfg       orchestrator.Config
	store     persistence.ExecutionStore
	logger    *zap.Logger
	sandbox   *capability.SandboxPolicy
	namespace string
	workers   []workerEntry
	caps      []capEntry
}

// Option configures the mesh created by [New].
type Option func(*options)

// WithConfig overrides the coordinator tuning.
func WithConfig(cfg orchestrator.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithStore sets the execution store. Defaults to in-memory.
func WithStore(store persistence.ExecutionStore) Option {
	return func(o *options) { o.store = store }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSandbox enables dynamic capability self-extension under the given
// policy.
func WithSandbox(policy capability.SandboxPolicy) Option {
	return func(o *options) { o.sandbox = &policy }
}

// WithMetrics registers Prometheus metrics under the given namespace.
func WithMetrics(namespace string) Option {
	return func(o *options) { o.namespace = namespace }
}

// WithWorker registers a worker and its handoff spec.
func WithWorker(w orchestrator.Worker, spec orchestrator.WorkerSpec) Option {
	return func(o *options) { o.workers = append(o.workers, workerEntry{worker: w, spec: spec}) }
}

// WithCapability registers a shared capability available to workers whose
// spec grants it.
func WithCapability(name string, fn capability.Func, meta capability.Metadata) Option {
	return func(o *options) { o.caps = append(o.caps, capEntry{name: name, fn: fn, meta: meta}) }
}

// New assembles a coordinator from the given options.
func New(opts ...Option) (*Mesh, error) {
	o := options{cfg: orchestrator.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := o.store
	if store == nil {
		store = persistence.NewMemoryStore()
	}

	caps := capability.NewRegistry(logger)
	for _, c := range o.caps {
		if err := caps.Register(c.name, c.fn, c.meta); err != nil {
			return nil, err
		}
	}

	workers := orchestrator.NewWorkerRegistry(logger)
	for _, w := range o.workers {
		if err := workers.Register(w.worker, w.spec); err != nil {
			return nil, err
		}
	}

	coord, err := orchestrator.NewCoordinator(o.cfg, workers, caps, store, logger)
	if err != nil {
		return nil, err
	}

	if o.sandbox != nil {
		extender, err := capability.NewExtender(*o.sandbox, logger)
		if err != nil {
			return nil, err
		}
		coord.WithExtender(extender)
	}

	if o.namespace != "" {
		coord.WithMetrics(metrics.NewCollector(o.namespace, nil, logger))
	}

	return &Mesh{
		coord:   coord,
		workers: workers,
		caps:    caps,
		store:   store,
	}, nil
}

// Submit starts an execution and returns its ID.
func (m *Mesh) Submit(ctx context.Context, taskInput, entryWorker string) (string, error) {
	return m.coord.Submit(ctx, taskInput, entryWorker)
}

// Status returns the externally visible state of an execution.
func (m *Mesh) Status(ctx context.Context, executionID string) (*types.TaskExecution, error) {
	return m.coord.Status(ctx, executionID)
}

// Cancel stops a running or suspended execution.
func (m *Mesh) Cancel(ctx context.Context, executionID string) error {
	return m.coord.Cancel(ctx, executionID)
}

// SubmitAnswers answers all pending questions of a suspended execution
// and resumes it.
func (m *Mesh) SubmitAnswers(ctx context.Context, executionID string, answers map[string]string) error {
	return m.coord.SubmitAnswers(ctx, executionID, answers)
}

// HITL exposes the human-in-the-loop controller.
func (m *Mesh) HITL() *hitl.Controller { return m.coord.HITL() }

// Coordinator exposes the underlying coordinator.
func (m *Mesh) Coordinator() *orchestrator.Coordinator { return m.coord }

// Workers exposes the worker registry.
func (m *Mesh) Workers() *orchestrator.WorkerRegistry { return m.workers }

// Capabilities exposes the shared capability registry.
func (m *Mesh) Capabilities() *capability.Registry { return m.caps }

// Close drains in-flight executions and releases the store.
func (m *Mesh) Close(ctx context.Context) error {
	err := m.coord.Shutdown(ctx)
	if cerr := m.store.Close(); err == nil {
		err = cerr
	}
	return err
}
