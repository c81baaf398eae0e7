// Package hitl implements human-in-the-loop control for suspended
// executions: exposing pending questions, validating submitted answers,
// and resuming the execution at the worker its interrupt named.
package hitl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/orchestrator/state"
	"github.com/taskmesh/taskmesh/persistence"
	"github.com/taskmesh/taskmesh/types"
)

// AnsweredAtKey is the bookkeeping field recording when answers were
// merged. Each answer itself is merged under its bare question ID, so
// workers find the answer to question "q1" at fields["q1"].
const AnsweredAtKey = "answered_at"

// Resumer re-enters the coordinator loop for a record that has been
// transitioned back to RUNNING.
type Resumer interface {
	Resume(ctx context.Context, rec *persistence.Record) error
}

// Controller mediates between external answer submitters and suspended
// executions.
//
// The mutex serializes every store mutation of a suspended execution:
// answer submission and cancellation both read, transition, and save the
// record, and interleaving them could overwrite a terminal status.
type Controller struct {
	store   persistence.ExecutionStore
	resumer Resumer
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewController creates a HITL controller.
func NewController(store persistence.ExecutionStore, resumer Resumer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:   store,
		resumer: resumer,
		logger:  logger.With(zap.String("component", "hitl")),
	}
}

// PendingQuestions returns the questions a suspended execution is waiting
// on. Non-suspended executions yield NOT_SUSPENDED.
func (c *Controller) PendingQuestions(ctx context.Context, executionID string) ([]types.Question, error) {
	rec, err := c.store.Get(ctx, executionID)
	if err != nil {
		return nil, types.AsError(err)
	}
	if rec.Execution.Status != types.StatusSuspended {
		return nil, types.NewErrorf(types.ErrNotSuspended, "execution %q is %s, not suspended", executionID, rec.Execution.Status)
	}
	return rec.Execution.PendingQuestions, nil
}

// SubmitAnswers validates the given answers against the pending questions,
// merges them into the shared context, and resumes the execution. Every
// pending question must be answered in one submission; answers to unknown
// questions and answers outside a question's options are rejected before
// anything is merged.
func (c *Controller) SubmitAnswers(ctx context.Context, executionID string, answers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.Get(ctx, executionID)
	if err != nil {
		return types.AsError(err)
	}
	if rec.Execution.Status != types.StatusSuspended {
		return types.NewErrorf(types.ErrNotSuspended, "execution %q is %s, not suspended", executionID, rec.Execution.Status)
	}

	pending := make(map[string]types.Question, len(rec.Execution.PendingQuestions))
	for _, q := range rec.Execution.PendingQuestions {
		pending[q.ID] = q
	}
	for id, answer := range answers {
		q, ok := pending[id]
		if !ok {
			return types.NewErrorf(types.ErrInvalidRequest, "no pending question with id %q", id)
		}
		if !q.AllowsAnswer(answer) {
			return types.NewErrorf(types.ErrInvalidRequest, "answer %q is not acceptable for question %q", answer, id)
		}
	}
	for id := range pending {
		if _, ok := answers[id]; !ok {
			return types.NewErrorf(types.ErrInvalidRequest, "question %q is unanswered", id)
		}
	}

	// A pristine copy for rolling the record back if resumption fails
	// after the RUNNING record was saved.
	rollback, err := c.store.Get(ctx, executionID)
	if err != nil {
		return types.AsError(err)
	}

	st, err := state.Import(rec.State, c.logger)
	if err != nil {
		return types.AsError(err)
	}
	fields := make(map[string]any, len(answers)+1)
	for id, answer := range answers {
		fields[id] = answer
	}
	fields[AnsweredAtKey] = time.Now().Format(time.RFC3339)
	st.Merge(fields)
	st.AppendTurn(types.TurnRecord{
		Worker:    "human",
		Summary:   fmt.Sprintf("answered %d questions", len(answers)),
		Timestamp: time.Now(),
	})

	rec.Execution.CurrentWorker = rec.Execution.ResumeWorker
	rec.Execution.PendingQuestions = nil
	rec.Execution.ResumeWorker = ""
	if err := rec.Execution.Transition(types.StatusRunning); err != nil {
		return types.AsError(err)
	}
	rec.State = st.Export()
	rec.Execution.Context = st.Read()
	rec.SavedAt = time.Now()
	if err := c.store.Save(ctx, rec); err != nil {
		return types.AsError(err)
	}

	if err := c.resumer.Resume(ctx, rec); err != nil {
		// The RUNNING record is already persisted; restore the
		// suspended record so the questions stay answerable instead of
		// stranding a RUNNING execution with no loop behind it.
		if saveErr := c.store.Save(ctx, rollback); saveErr != nil {
			c.logger.Error("failed to roll back after resume failure",
				zap.String("execution_id", executionID),
				zap.Error(saveErr),
			)
		}
		return types.AsError(err)
	}

	c.logger.Info("answers accepted",
		zap.String("execution_id", executionID),
		zap.Int("answers", len(answers)),
		zap.String("resume_worker", rec.Execution.CurrentWorker),
	)
	return nil
}

// CancelSuspended transitions a suspended execution to CANCELLED. Terminal
// executions yield INVALID_TRANSITION; anything else that is not suspended
// yields NOT_SUSPENDED so the caller can route a just-resumed execution to
// live cancellation.
func (c *Controller) CancelSuspended(ctx context.Context, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.Get(ctx, executionID)
	if err != nil {
		return types.AsError(err)
	}
	if rec.Execution.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidTransition, "execution %q is already %s", executionID, rec.Execution.Status)
	}
	if rec.Execution.Status != types.StatusSuspended {
		return types.NewErrorf(types.ErrNotSuspended, "execution %q is %s, not suspended", executionID, rec.Execution.Status)
	}
	if err := rec.Execution.Transition(types.StatusCancelled); err != nil {
		return types.AsError(err)
	}
	rec.SavedAt = time.Now()
	if err := c.store.Save(ctx, rec); err != nil {
		return types.AsError(err)
	}
	c.logger.Info("suspended execution cancelled", zap.String("execution_id", executionID))
	return nil
}

// ListResumable returns suspended executions, used on startup so a
// restarted process keeps serving their pending questions.
func (c *Controller) ListResumable(ctx context.Context) ([]*persistence.Record, error) {
	recs, err := c.store.ListSuspended(ctx)
	if err != nil {
		return nil, types.AsError(err)
	}
	return recs, nil
}
