package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/taskmesh/taskmesh/capability"
	"github.com/taskmesh/taskmesh/internal/metrics"
	"github.com/taskmesh/taskmesh/orchestrator/hitl"
	"github.com/taskmesh/taskmesh/orchestrator/state"
	"github.com/taskmesh/taskmesh/persistence"
	"github.com/taskmesh/taskmesh/types"
)

// Config tunes the coordinator loop.
type Config struct {
	// TurnTimeout bounds a single worker turn.
	TurnTimeout time.Duration `json:"turn_timeout" yaml:"turn_timeout"`

	// ExecutionTimeout bounds a whole execution's running time. The clock
	// restarts when a suspended execution resumes, so time spent waiting
	// for human answers does not count against it.
	ExecutionTimeout time.Duration `json:"execution_timeout" yaml:"execution_timeout"`

	// MaxTurnRetries is how many times a failed turn is retried with
	// backoff before the execution fails. Invalid outcomes are never
	// retried.
	MaxTurnRetries int `json:"max_turn_retries" yaml:"max_turn_retries"`

	// MaxCapabilityRetries bounds retries of a failed capability call.
	MaxCapabilityRetries int `json:"max_capability_retries" yaml:"max_capability_retries"`

	// MaxConcurrent caps how many executions run at once; further
	// submissions queue on a semaphore.
	MaxConcurrent int64 `json:"max_concurrent" yaml:"max_concurrent"`

	// Retention is how long terminal executions are kept before the
	// janitor removes them.
	Retention time.Duration `json:"retention" yaml:"retention"`

	// CleanupInterval is how often the janitor runs.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`

	// Guard tunes the repetitive-handoff detector.
	Guard GuardConfig `json:"guard" yaml:"guard"`
}

// DefaultConfig returns the default coordinator tuning.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:          60 * time.Second,
		ExecutionTimeout:     10 * time.Minute,
		MaxTurnRetries:       2,
		MaxCapabilityRetries: 2,
		MaxConcurrent:        32,
		Retention:            24 * time.Hour,
		CleanupInterval:      time.Hour,
		Guard:                DefaultGuardConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = def.TurnTimeout
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = def.ExecutionTimeout
	}
	if c.MaxTurnRetries < 0 {
		c.MaxTurnRetries = 0
	}
	if c.MaxCapabilityRetries < 0 {
		c.MaxCapabilityRetries = 0
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	c.Guard = c.Guard.withDefaults()
	return c
}

// liveExecution is the in-memory half of a running execution.
type liveExecution struct {
	mu        sync.Mutex
	exec      *types.TaskExecution
	state     *state.Store
	scope     *capability.Scope
	guard     *LoopGuard
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Coordinator owns the execution loop. It is the only component that
// mutates a TaskExecution or its shared context; workers only return
// instructions.
type Coordinator struct {
	cfg      Config
	workers  *WorkerRegistry
	caps     *capability.Registry
	capExec  *capability.Executor
	extender *capability.Extender
	store    persistence.ExecutionStore
	hitl     *hitl.Controller
	metrics  *metrics.Collector
	logger   *zap.Logger
	sem      *semaphore.Weighted

	mu   sync.RWMutex
	live map[string]*liveExecution
	wg   sync.WaitGroup
}

// NewCoordinator creates a coordinator over a fixed worker registry. The
// registry's handoff graph is validated up front: a dangling target fails
// construction rather than a production execution.
func NewCoordinator(cfg Config, workers *WorkerRegistry, caps *capability.Registry, store persistence.ExecutionStore, logger *zap.Logger) (*Coordinator, error) {
	if workers == nil || caps == nil || store == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "coordinator requires a worker registry, capability registry, and execution store")
	}
	if err := workers.ValidateGraph(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	c := &Coordinator{
		cfg:     cfg,
		workers: workers,
		caps:    caps,
		capExec: capability.NewExecutor(cfg.MaxCapabilityRetries, logger),
		store:   store,
		logger:  logger.With(zap.String("component", "coordinator")),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		live:    make(map[string]*liveExecution),
	}
	c.hitl = hitl.NewController(store, c, logger)
	return c, nil
}

// WithExtender enables sandboxed dynamic self-extension. Workers whose spec
// grants the extend capability may register new capabilities at runtime.
func (c *Coordinator) WithExtender(e *capability.Extender) *Coordinator {
	c.extender = e
	return c
}

// WithMetrics attaches a metrics collector.
func (c *Coordinator) WithMetrics(m *metrics.Collector) *Coordinator {
	c.metrics = m
	return c
}

// HITL returns the human-in-the-loop controller for this coordinator.
func (c *Coordinator) HITL() *hitl.Controller {
	return c.hitl
}

// Workers returns the worker registry.
func (c *Coordinator) Workers() *WorkerRegistry {
	return c.workers
}

// Submit starts a new execution of taskInput at entryWorker and returns the
// execution ID. The execution runs asynchronously; use Status, Cancel, and
// SubmitAnswers to interact with it.
func (c *Coordinator) Submit(ctx context.Context, taskInput, entryWorker string) (string, error) {
	if taskInput == "" {
		return "", types.NewError(types.ErrInvalidRequest, "task input is required")
	}
	if !c.workers.Has(entryWorker) {
		return "", types.NewErrorf(types.ErrUnknownWorker, "entry worker %q is not registered", entryWorker).
			WithWorker(entryWorker)
	}

	id := uuid.NewString()
	st := state.New(taskInput, c.logger)
	now := time.Now()
	exec := &types.TaskExecution{
		ID:            id,
		Status:        types.StatusRunning,
		EntryWorker:   entryWorker,
		CurrentWorker: entryWorker,
		Context:       st.Read(),
		StartedAt:     now,
		DeadlineAt:    now.Add(c.cfg.ExecutionTimeout),
		UpdatedAt:     now,
	}
	live := &liveExecution{
		exec:  exec,
		state: st,
		scope: capability.NewScope(id, c.caps, c.logger),
		guard: NewLoopGuard(c.cfg.Guard),
	}

	if err := c.store.Save(ctx, c.buildRecord(live)); err != nil {
		return "", types.AsError(err)
	}
	c.start(live)

	c.logger.Info("execution submitted",
		zap.String("execution_id", id),
		zap.String("entry_worker", entryWorker),
	)
	return id, nil
}

// start registers a live execution and launches its loop.
func (c *Coordinator) start(live *liveExecution) {
	runCtx, cancel := context.WithCancel(context.Background())
	live.cancel = cancel

	c.mu.Lock()
	c.live[live.exec.ID] = live
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(types.WithExecutionID(runCtx, live.exec.ID), live)
}

// Resume re-enters the loop for a previously suspended execution. The
// record must already be transitioned back to RUNNING by the HITL
// controller.
func (c *Coordinator) Resume(ctx context.Context, rec *persistence.Record) error {
	c.mu.RLock()
	_, alreadyLive := c.live[rec.Execution.ID]
	c.mu.RUnlock()
	if alreadyLive {
		return types.NewErrorf(types.ErrInvalidTransition, "execution %q is already running", rec.Execution.ID)
	}

	st, err := state.Import(rec.State, c.logger)
	if err != nil {
		return types.AsError(err)
	}
	scope := capability.NewScope(rec.Execution.ID, c.caps, c.logger)
	if len(rec.Dynamic) > 0 {
		if c.extender == nil {
			c.logger.Warn("dynamic capabilities recorded but self-extension is disabled, skipping",
				zap.String("execution_id", rec.Execution.ID),
				zap.Int("count", len(rec.Dynamic)),
			)
		} else if err := scope.ImportDynamic(c.extender, rec.Dynamic); err != nil {
			return types.AsError(err)
		}
	}

	// Human wait time does not count against the execution deadline.
	rec.Execution.DeadlineAt = time.Now().Add(c.cfg.ExecutionTimeout)

	live := &liveExecution{
		exec:  rec.Execution,
		state: st,
		scope: scope,
		guard: NewLoopGuard(c.cfg.Guard),
	}
	c.start(live)

	if c.metrics != nil {
		c.metrics.RecordInterrupt("resumed")
	}
	c.logger.Info("execution resumed",
		zap.String("execution_id", rec.Execution.ID),
		zap.String("resume_worker", rec.Execution.CurrentWorker),
	)
	return nil
}

// SubmitAnswers delivers human answers to a suspended execution and resumes
// it at the worker its interrupt named.
func (c *Coordinator) SubmitAnswers(ctx context.Context, executionID string, answers map[string]string) error {
	return c.hitl.SubmitAnswers(ctx, executionID, answers)
}

// Status returns a snapshot of an execution, live or persisted.
func (c *Coordinator) Status(ctx context.Context, executionID string) (*types.TaskExecution, error) {
	c.mu.RLock()
	live, ok := c.live[executionID]
	c.mu.RUnlock()
	if ok {
		live.mu.Lock()
		defer live.mu.Unlock()
		return cloneExecution(live.exec, live.state.Read())
	}
	rec, err := c.store.Get(ctx, executionID)
	if err != nil {
		return nil, types.AsError(err)
	}
	return rec.Execution, nil
}

// Cancel stops a running or suspended execution. Cancelling a terminal
// execution is an error.
func (c *Coordinator) Cancel(ctx context.Context, executionID string) error {
	c.mu.RLock()
	live, ok := c.live[executionID]
	c.mu.RUnlock()
	if ok {
		live.cancelled.Store(true)
		live.cancel()
		c.logger.Info("execution cancellation requested", zap.String("execution_id", executionID))
		return nil
	}

	// Not live: route through the HITL controller so the store mutation
	// serializes with answer submission.
	err := c.hitl.CancelSuspended(ctx, executionID)
	if types.IsErrorCode(err, types.ErrNotSuspended) {
		// Resumed while we waited for the controller lock; the loop is
		// live again and cancels like any running execution.
		c.mu.RLock()
		live, ok = c.live[executionID]
		c.mu.RUnlock()
		if ok {
			live.cancelled.Store(true)
			live.cancel()
			c.logger.Info("execution cancellation requested", zap.String("execution_id", executionID))
			return nil
		}
	}
	return err
}

// Shutdown cancels all live executions and waits for their loops to exit.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.RLock()
	for _, live := range c.live {
		live.cancelled.Store(true)
		live.cancel()
	}
	c.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Janitor periodically removes terminal executions past their retention.
// It blocks until the context is cancelled.
func (c *Coordinator) Janitor(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.store.Cleanup(ctx, c.cfg.Retention)
			if err != nil {
				c.logger.Warn("execution cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				c.logger.Info("expired executions removed", zap.Int("count", removed))
			}
		}
	}
}

// run is the coordinator loop for one execution. Exactly one turn is in
// flight at a time; the loop exits on a terminal status or suspension.
func (c *Coordinator) run(ctx context.Context, live *liveExecution) {
	defer c.wg.Done()
	defer c.forget(live.exec.ID)

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.finishCancelled(ctx, live)
		return
	}
	defer c.sem.Release(1)

	if c.metrics != nil {
		c.metrics.RecordExecutionStarted()
		defer c.metrics.RecordExecutionStopped()
	}

	logger := c.logger.With(zap.String("execution_id", live.exec.ID))
	for {
		if live.cancelled.Load() || ctx.Err() != nil {
			c.finishCancelled(ctx, live)
			return
		}
		if live.exec.DeadlineExceeded(time.Now()) {
			c.fail(ctx, live, types.NewErrorf(types.ErrExecutionTimeout,
				"execution exceeded its %s deadline", c.cfg.ExecutionTimeout))
			return
		}
		if err := live.guard.Check(live.exec.HandoffHistory); err != nil {
			terr := types.AsError(err)
			if c.metrics != nil {
				kind := "max_handoffs"
				if terr.Code == types.ErrRepetitiveHandoff {
					kind = "repetitive_handoff"
				}
				c.metrics.RecordLoopGuardTrip(kind)
			}
			c.fail(ctx, live, terr)
			return
		}

		worker, spec, err := c.workers.Get(live.exec.CurrentWorker)
		if err != nil {
			c.fail(ctx, live, types.AsError(err))
			return
		}

		outcome, err := c.runTurn(ctx, live, worker, spec)
		if err != nil {
			terr := types.AsError(err)
			if terr.Code == types.ErrExecutionCancelled {
				c.finishCancelled(ctx, live)
				return
			}
			c.fail(ctx, live, terr)
			return
		}

		switch outcome.Kind {
		case types.OutcomeResult:
			c.finishCompleted(ctx, live, worker.Name(), outcome.Result)
			return
		case types.OutcomeInterrupt:
			if err := c.suspend(ctx, live, worker.Name(), outcome.Interrupt); err != nil {
				c.fail(ctx, live, types.AsError(err))
			}
			return
		case types.OutcomeHandoff:
			if err := c.applyHandoff(ctx, live, worker.Name(), spec, outcome.Handoff); err != nil {
				c.fail(ctx, live, types.AsError(err))
				return
			}
			logger.Debug("handoff applied",
				zap.String("from", worker.Name()),
				zap.String("to", live.exec.CurrentWorker),
			)
		}
	}
}

// runTurn executes one worker turn, retrying retryable failures with
// backoff. Invalid outcomes and cancellations are returned immediately.
func (c *Coordinator) runTurn(ctx context.Context, live *liveExecution, w Worker, spec WorkerSpec) (*types.Outcome, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxTurnRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return nil, types.NewError(types.ErrExecutionCancelled, "execution cancelled while waiting to retry").
					WithCause(ctx.Err())
			}
			c.logger.Warn("retrying worker turn",
				zap.String("execution_id", live.exec.ID),
				zap.String("worker", w.Name()),
				zap.Int("attempt", attempt+1),
			)
		}

		outcome, err := c.turnOnce(ctx, live, w, spec)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !types.IsRetryable(err) {
			return nil, err
		}
		// Failed attempts land in the audit log before any retry. The
		// last attempt is recorded by the terminal failure report, not
		// here, so an exhausted turn logs each failure exactly once.
		if attempt < c.cfg.MaxTurnRetries {
			live.mu.Lock()
			live.state.AppendTurn(types.TurnRecord{
				Worker:    w.Name(),
				Error:     err.Error(),
				Timestamp: time.Now(),
			})
			live.mu.Unlock()
		}
	}
	return nil, lastErr
}

// turnOnce runs a single attempt of a worker turn under the turn timeout.
func (c *Coordinator) turnOnce(parent context.Context, live *liveExecution, w Worker, spec WorkerSpec) (*types.Outcome, error) {
	turnCtx, cancel := context.WithTimeout(parent, c.cfg.TurnTimeout)
	defer cancel()
	turnCtx = types.WithWorkerName(turnCtx, w.Name())

	live.mu.Lock()
	view := live.state.View()
	live.mu.Unlock()
	calls := c.callSet(live, spec)

	type turnResult struct {
		outcome *types.Outcome
		err     error
	}
	done := make(chan turnResult, 1)

	start := time.Now()
	go func() {
		outcome, err := w.Decide(turnCtx, view, calls)
		select {
		case done <- turnResult{outcome, err}:
		case <-turnCtx.Done():
		}
	}()

	select {
	case res := <-done:
		duration := time.Since(start)
		if res.err != nil {
			c.recordTurn(w.Name(), "error", duration)
			return nil, classifyTurnError(res.err, w.Name())
		}
		if err := res.outcome.Validate(); err != nil {
			c.recordTurn(w.Name(), "ambiguous", duration)
			return nil, types.AsError(err).WithWorker(w.Name())
		}
		c.recordTurn(w.Name(), "ok", duration)
		return res.outcome, nil
	case <-turnCtx.Done():
		if parent.Err() != nil {
			return nil, types.NewErrorf(types.ErrExecutionCancelled, "execution cancelled during worker %q turn", w.Name()).
				WithWorker(w.Name()).
				WithCause(parent.Err())
		}
		c.recordTurn(w.Name(), "timeout", time.Since(start))
		return nil, types.NewErrorf(types.ErrTurnTimeout, "worker %q turn timed out after %s", w.Name(), c.cfg.TurnTimeout).
			WithWorker(w.Name()).
			WithRetryable(true)
	}
}

// callSet builds the capability surface for one turn: the worker's static
// grants plus any capabilities registered dynamically earlier in this
// execution. The self-extension entry point is bound per turn so that a
// capability registered mid-turn is immediately callable.
func (c *Coordinator) callSet(live *liveExecution, spec WorkerSpec) *capability.CallSet {
	selfExtend := false
	allowed := make([]string, 0, len(spec.Capabilities))
	for _, name := range spec.Capabilities {
		if name == capability.SelfExtendName {
			selfExtend = true
			continue
		}
		allowed = append(allowed, name)
	}
	allowed = append(allowed, live.scope.DynamicNames()...)

	calls := capability.NewCallSet(live.scope, c.capExec, allowed)
	if selfExtend && c.extender != nil {
		calls.Bind(capability.SelfExtendName,
			c.extender.SelfExtendFunc(live.scope, calls),
			capability.SelfExtendMetadata())
	}
	return calls
}

// applyHandoff validates a handoff instruction and, only if it is fully
// valid, applies the context update and moves control. An invalid handoff
// leaves the shared context untouched.
func (c *Coordinator) applyHandoff(ctx context.Context, live *liveExecution, from string, spec WorkerSpec, h *types.HandoffInstruction) error {
	if !c.workers.Has(h.TargetWorker) {
		return types.NewErrorf(types.ErrUnknownWorker, "handoff target %q is not registered", h.TargetWorker).
			WithWorker(from)
	}
	if !spec.CanHandoff(h.TargetWorker) {
		return types.NewErrorf(types.ErrInvalidHandoff, "worker %q may not hand off to %q", from, h.TargetWorker).
			WithWorker(from)
	}

	now := time.Now()
	live.mu.Lock()
	live.state.Merge(h.UpdatedFields)
	live.state.AppendTurn(types.TurnRecord{
		Worker:    from,
		Summary:   fmt.Sprintf("handoff to %s: %s", h.TargetWorker, h.Reason),
		Timestamp: now,
	})
	version := live.state.Snapshot()
	live.exec.HandoffHistory = append(live.exec.HandoffHistory, types.HandoffRecord{
		FromWorker: from,
		ToWorker:   h.TargetWorker,
		Reason:     h.Reason,
		Timestamp:  now,
	})
	live.exec.CurrentWorker = h.TargetWorker
	live.exec.UpdatedAt = now
	live.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordHandoff(from, h.TargetWorker)
	}
	c.persist(ctx, live)
	c.logger.Info("handoff",
		zap.String("execution_id", live.exec.ID),
		zap.String("from", from),
		zap.String("to", h.TargetWorker),
		zap.String("reason", h.Reason),
		zap.Int("snapshot_version", version),
	)
	return nil
}

// suspend parks the execution pending external answers.
func (c *Coordinator) suspend(ctx context.Context, live *liveExecution, from string, interrupt *types.InterruptRequest) error {
	if !c.workers.Has(interrupt.ResumeWorker) {
		return types.NewErrorf(types.ErrUnknownWorker, "resume worker %q is not registered", interrupt.ResumeWorker).
			WithWorker(from)
	}

	now := time.Now()
	live.mu.Lock()
	live.state.Snapshot()
	live.state.AppendTurn(types.TurnRecord{
		Worker:    from,
		Summary:   fmt.Sprintf("suspended awaiting %d answers", len(interrupt.Questions)),
		Timestamp: now,
	})
	live.exec.PendingQuestions = interrupt.Questions
	live.exec.ResumeWorker = interrupt.ResumeWorker
	err := live.exec.Transition(types.StatusSuspended)
	live.mu.Unlock()
	if err != nil {
		return err
	}

	c.persist(ctx, live)
	if c.metrics != nil {
		c.metrics.RecordInterrupt("suspended")
	}
	c.logger.Info("execution suspended",
		zap.String("execution_id", live.exec.ID),
		zap.String("worker", from),
		zap.String("resume_worker", interrupt.ResumeWorker),
		zap.Int("questions", len(interrupt.Questions)),
	)
	return nil
}

// finishCompleted records a terminal successful outcome.
func (c *Coordinator) finishCompleted(ctx context.Context, live *liveExecution, from string, result *types.Result) {
	now := time.Now()
	live.mu.Lock()
	if len(result.Payload) > 0 {
		live.state.Merge(result.Payload)
	}
	live.state.AppendTurn(types.TurnRecord{
		Worker:    from,
		Summary:   result.Summary,
		Timestamp: now,
	})
	live.exec.Result = result
	err := live.exec.Transition(types.StatusCompleted)
	live.mu.Unlock()
	if err != nil {
		c.logger.Error("completion transition failed", zap.String("execution_id", live.exec.ID), zap.Error(err))
	}

	c.persist(ctx, live)
	c.recordFinished(live, string(types.StatusCompleted))
	c.logger.Info("execution completed",
		zap.String("execution_id", live.exec.ID),
		zap.String("worker", from),
		zap.Int("handoffs", len(live.exec.HandoffHistory)),
	)
}

// fail records a terminal failure with a structured report.
func (c *Coordinator) fail(ctx context.Context, live *liveExecution, terr *types.Error) {
	live.mu.Lock()
	worker := terr.Worker
	if worker == "" {
		worker = live.exec.CurrentWorker
	}
	live.exec.Failure = &types.FailureReport{
		Code:       terr.Code,
		Message:    terr.Message,
		Worker:     worker,
		Capability: terr.Capability,
		Handoffs:   live.exec.LastHandoffs(live.guard.Config().Window),
	}
	live.state.AppendTurn(types.TurnRecord{
		Worker:    worker,
		Error:     terr.Error(),
		Timestamp: time.Now(),
	})
	err := live.exec.Transition(types.StatusFailed)
	live.mu.Unlock()
	if err != nil {
		c.logger.Error("failure transition failed", zap.String("execution_id", live.exec.ID), zap.Error(err))
	}

	c.persist(ctx, live)
	c.recordFinished(live, string(types.StatusFailed))
	c.logger.Warn("execution failed",
		zap.String("execution_id", live.exec.ID),
		zap.String("code", string(terr.Code)),
		zap.String("worker", worker),
		zap.String("message", terr.Message),
	)
}

// finishCancelled records a terminal cancellation.
func (c *Coordinator) finishCancelled(ctx context.Context, live *liveExecution) {
	live.mu.Lock()
	err := live.exec.Transition(types.StatusCancelled)
	live.mu.Unlock()
	if err != nil {
		// already terminal, nothing to record
		return
	}
	c.persist(ctx, live)
	c.recordFinished(live, string(types.StatusCancelled))
	c.logger.Info("execution cancelled", zap.String("execution_id", live.exec.ID))
}

// persist writes the current record, best effort. Persistence failures are
// logged, not fatal: the in-memory execution stays authoritative while the
// process lives.
func (c *Coordinator) persist(ctx context.Context, live *liveExecution) {
	if err := c.store.Save(ctx, c.buildRecord(live)); err != nil {
		c.logger.Error("failed to persist execution",
			zap.String("execution_id", live.exec.ID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) buildRecord(live *liveExecution) *persistence.Record {
	live.mu.Lock()
	defer live.mu.Unlock()
	live.exec.Context = live.state.Read()
	return &persistence.Record{
		Execution: live.exec,
		State:     live.state.Export(),
		Dynamic:   live.scope.ExportDynamic(),
		SavedAt:   time.Now(),
	}
}

func (c *Coordinator) forget(executionID string) {
	c.mu.Lock()
	delete(c.live, executionID)
	c.mu.Unlock()
}

func (c *Coordinator) recordTurn(worker, result string, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordTurn(worker, result, duration)
	}
}

func (c *Coordinator) recordFinished(live *liveExecution, status string) {
	if c.metrics != nil {
		c.metrics.RecordExecutionFinished(status, time.Since(live.exec.StartedAt))
	}
}

// classifyTurnError normalizes a worker error. Structured errors pass
// through; plain errors become retryable internal errors attributed to the
// worker.
func classifyTurnError(err error, worker string) error {
	terr := types.AsError(err)
	if terr.Code != types.ErrInternalError {
		if terr.Worker == "" {
			terr.Worker = worker
		}
		return terr
	}
	return types.NewErrorf(types.ErrInternalError, "worker %q turn failed", worker).
		WithWorker(worker).
		WithCause(err).
		WithRetryable(true)
}

// cloneExecution deep-copies an execution for external callers, swapping in
// a fresh context snapshot.
func cloneExecution(exec *types.TaskExecution, ctx *types.SharedContext) (*types.TaskExecution, error) {
	data, err := json.Marshal(exec)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to snapshot execution").WithCause(err)
	}
	var out types.TaskExecution
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to snapshot execution").WithCause(err)
	}
	out.Context = ctx
	return &out, nil
}
