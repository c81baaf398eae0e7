package hitl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/orchestrator/state"
	"github.com/taskmesh/taskmesh/persistence"
	"github.com/taskmesh/taskmesh/types"
)

type fakeResumer struct {
	resumed []*persistence.Record
	err     error
}

func (f *fakeResumer) Resume(ctx context.Context, rec *persistence.Record) error {
	if f.err != nil {
		return f.err
	}
	f.resumed = append(f.resumed, rec)
	return nil
}

func suspendedRecord(t *testing.T, id string, questions ...types.Question) *persistence.Record {
	t.Helper()
	st := state.New("task input", zap.NewNop())
	st.Snapshot()
	now := time.Now()
	return &persistence.Record{
		Execution: &types.TaskExecution{
			ID:               id,
			Status:           types.StatusSuspended,
			EntryWorker:      "triage",
			CurrentWorker:    "triage",
			Context:          st.Read(),
			PendingQuestions: questions,
			ResumeWorker:     "triage",
			StartedAt:        now,
			DeadlineAt:       now.Add(time.Hour),
			UpdatedAt:        now,
		},
		State:   st.Export(),
		SavedAt: now,
	}
}

func newController(t *testing.T) (*Controller, *persistence.MemoryStore, *fakeResumer) {
	t.Helper()
	store := persistence.NewMemoryStore()
	resumer := &fakeResumer{}
	return NewController(store, resumer, zap.NewNop()), store, resumer
}

func TestSubmitAnswersHappyPath(t *testing.T) {
	c, store, resumer := newController(t)
	rec := suspendedRecord(t, "exec-1",
		types.Question{ID: "approve", Prompt: "Approve?", Options: []string{"yes", "no"}},
		types.Question{ID: "note", Prompt: "Any notes?"},
	)
	require.NoError(t, store.Save(context.Background(), rec))

	require.NoError(t, c.SubmitAnswers(context.Background(), "exec-1", map[string]string{
		"approve": "yes",
		"note":    "ship it",
	}))

	require.Len(t, resumer.resumed, 1)
	resumed := resumer.resumed[0]
	assert.Equal(t, types.StatusRunning, resumed.Execution.Status)
	assert.Equal(t, "triage", resumed.Execution.CurrentWorker)
	assert.Empty(t, resumed.Execution.PendingQuestions)
	assert.Empty(t, resumed.Execution.ResumeWorker)

	// Each answer lands under its bare question ID, with a bookkeeping
	// timestamp alongside.
	assert.Equal(t, "yes", resumed.Execution.Context.Fields["approve"])
	assert.Equal(t, "ship it", resumed.Execution.Context.Fields["note"])
	assert.NotEmpty(t, resumed.Execution.Context.Fields[AnsweredAtKey])

	// The saved record reflects the resumption too.
	saved, err := store.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, saved.Execution.Status)
}

func TestSubmitAnswersValidation(t *testing.T) {
	c, store, resumer := newController(t)
	rec := suspendedRecord(t, "exec-1",
		types.Question{ID: "approve", Prompt: "Approve?", Options: []string{"yes", "no"}},
	)
	require.NoError(t, store.Save(context.Background(), rec))

	tests := []struct {
		name    string
		answers map[string]string
	}{
		{"unknown question", map[string]string{"approve": "yes", "bogus": "x"}},
		{"answer outside options", map[string]string{"approve": "maybe"}},
		{"empty answer", map[string]string{"approve": ""}},
		{"unanswered question", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.SubmitAnswers(context.Background(), "exec-1", tt.answers)
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
		})
	}

	// Nothing was merged or resumed by the rejected submissions.
	assert.Empty(t, resumer.resumed)
	saved, err := store.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuspended, saved.Execution.Status)
	_, merged := saved.Execution.Context.Fields["approve"]
	assert.False(t, merged)
}

func TestSubmitAnswersResumeFailureRollsBack(t *testing.T) {
	c, store, resumer := newController(t)
	rec := suspendedRecord(t, "exec-1", types.Question{ID: "approve", Prompt: "Approve?"})
	require.NoError(t, store.Save(context.Background(), rec))

	resumer.err = types.NewError(types.ErrInternalError, "loop refused the record")
	err := c.SubmitAnswers(context.Background(), "exec-1", map[string]string{"approve": "yes"})
	require.Error(t, err)

	// The suspended record is restored, so the questions stay answerable.
	saved, err := store.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuspended, saved.Execution.Status)
	require.Len(t, saved.Execution.PendingQuestions, 1)
	assert.Equal(t, "approve", saved.Execution.PendingQuestions[0].ID)

	// A later submission with a healthy resumer goes through.
	resumer.err = nil
	require.NoError(t, c.SubmitAnswers(context.Background(), "exec-1", map[string]string{"approve": "yes"}))
	require.Len(t, resumer.resumed, 1)
	assert.Equal(t, types.StatusRunning, resumer.resumed[0].Execution.Status)
}

func TestCancelSuspended(t *testing.T) {
	c, store, _ := newController(t)
	rec := suspendedRecord(t, "exec-1", types.Question{ID: "q", Prompt: "?"})
	require.NoError(t, store.Save(context.Background(), rec))

	require.NoError(t, c.CancelSuspended(context.Background(), "exec-1"))
	saved, err := store.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, saved.Execution.Status)

	// Cancelled is terminal; a second cancel is an invalid transition.
	err = c.CancelSuspended(context.Background(), "exec-1")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))

	// A running execution is reported as not suspended so the caller can
	// cancel it through the live loop instead.
	running := suspendedRecord(t, "exec-2")
	running.Execution.Status = types.StatusRunning
	require.NoError(t, store.Save(context.Background(), running))
	err = c.CancelSuspended(context.Background(), "exec-2")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNotSuspended))
}

func TestSubmitAnswersNotSuspended(t *testing.T) {
	c, store, _ := newController(t)
	rec := suspendedRecord(t, "exec-1", types.Question{ID: "q", Prompt: "?"})
	rec.Execution.Status = types.StatusRunning
	rec.Execution.PendingQuestions = nil
	require.NoError(t, store.Save(context.Background(), rec))

	err := c.SubmitAnswers(context.Background(), "exec-1", map[string]string{"q": "a"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNotSuspended))
}

func TestSubmitAnswersUnknownExecution(t *testing.T) {
	c, _, _ := newController(t)
	err := c.SubmitAnswers(context.Background(), "missing", map[string]string{"q": "a"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionNotFound))
}

func TestPendingQuestions(t *testing.T) {
	c, store, _ := newController(t)
	rec := suspendedRecord(t, "exec-1",
		types.Question{ID: "q1", Prompt: "first"},
		types.Question{ID: "q2", Prompt: "second", Options: []string{"a", "b"}},
	)
	require.NoError(t, store.Save(context.Background(), rec))

	questions, err := c.PendingQuestions(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "q1", questions[0].ID)

	// Terminal executions have no pending questions to serve.
	rec.Execution.Status = types.StatusCompleted
	rec.Execution.PendingQuestions = nil
	require.NoError(t, store.Save(context.Background(), rec))
	_, err = c.PendingQuestions(context.Background(), "exec-1")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNotSuspended))
}

func TestListResumable(t *testing.T) {
	c, store, _ := newController(t)
	require.NoError(t, store.Save(context.Background(), suspendedRecord(t, "exec-1", types.Question{ID: "q", Prompt: "?"})))
	done := suspendedRecord(t, "exec-2")
	done.Execution.Status = types.StatusCompleted
	require.NoError(t, store.Save(context.Background(), done))

	recs, err := c.ListResumable(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "exec-1", recs[0].Execution.ID)
}
