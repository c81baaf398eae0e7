package capability

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/types"
)

// Executor runs capability calls with schema validation, per-call timeout,
// rate limiting, and bounded retries with backoff. Retries apply only to
// retryable capability errors; sandbox violations are never retried and the
// offending registration is discarded.
type Executor struct {
	maxRetries      uint
	initialInterval time.Duration
	logger          *zap.Logger
}

// NewExecutor creates a capability executor. maxRetries bounds the retry
// attempts after the initial call; 0 disables retries.
func NewExecutor(maxRetries int, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Executor{
		maxRetries:      uint(maxRetries),
		initialInterval: 100 * time.Millisecond,
		logger:          logger.With(zap.String("component", "capability_executor")),
	}
}

// Invoke resolves and runs a capability through the given resolver.
func (e *Executor) Invoke(ctx context.Context, resolver Resolver, name string, args json.RawMessage) (json.RawMessage, error) {
	fn, meta, err := resolver.Get(name)
	if err != nil {
		return nil, err
	}
	if err := meta.Schema.ValidateArgs(args); err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialInterval

	operation := func() (json.RawMessage, error) {
		if err := resolver.Allow(name); err != nil {
			return nil, err
		}
		out, callErr := e.callOnce(ctx, fn, meta, name, args)
		if callErr == nil {
			return out, nil
		}
		if types.IsErrorCode(callErr, types.ErrSandboxViolation) {
			resolver.Discard(name)
			return nil, backoff.Permanent(callErr)
		}
		if !types.IsRetryable(callErr) {
			return nil, backoff.Permanent(callErr)
		}
		e.logger.Warn("capability call failed, will retry",
			zap.String("name", name),
			zap.Error(callErr),
		)
		return nil, callErr
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(e.maxRetries+1),
	)
	if err != nil {
		return nil, types.AsError(err)
	}
	return out, nil
}

// callOnce runs the capability under its per-call timeout. A buffered
// channel lets the goroutine exit even when nobody is left to receive.
func (e *Executor) callOnce(ctx context.Context, fn Func, meta Metadata, name string, args json.RawMessage) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type callResult struct {
		out json.RawMessage
		err error
	}
	done := make(chan callResult, 1)

	start := time.Now()
	go func() {
		out, err := fn(callCtx, args)
		select {
		case done <- callResult{out, err}:
		case <-callCtx.Done():
		}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, classifyCallError(res.err, name)
		}
		e.logger.Debug("capability call completed",
			zap.String("name", name),
			zap.Duration("duration", time.Since(start)),
		)
		return res.out, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// outer context cancelled, not a per-call timeout
			return nil, types.NewErrorf(types.ErrExecutionCancelled, "capability %q cancelled", name).
				WithCapability(name).
				WithCause(ctx.Err())
		}
		return nil, types.NewErrorf(types.ErrCapabilityError, "capability %q timed out after %s", name, meta.Timeout).
			WithCapability(name).
			WithRetryable(true)
	}
}

func classifyCallError(err error, name string) error {
	if e := types.AsError(err); e.Code != types.ErrInternalError {
		if e.Capability == "" {
			e.Capability = name
		}
		return e
	}
	if strings.Contains(err.Error(), sandboxViolationMarker) {
		return types.NewErrorf(types.ErrSandboxViolation, "capability %q attempted a disallowed side effect", name).
			WithCapability(name).
			WithCause(err)
	}
	return types.NewErrorf(types.ErrCapabilityError, "capability %q failed", name).
		WithCapability(name).
		WithCause(err).
		WithRetryable(true)
}
