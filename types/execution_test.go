package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ExecutionStatus
		want     bool
	}{
		{StatusRunning, StatusSuspended, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusSuspended, StatusRunning, true},
		{StatusSuspended, StatusCancelled, true},
		{StatusSuspended, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusSuspended, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTaskExecutionTransition_TerminalIsFinal(t *testing.T) {
	exec := &TaskExecution{ID: "e1", Status: StatusRunning}
	require.NoError(t, exec.Transition(StatusCompleted))
	require.NotNil(t, exec.CompletedAt)

	err := exec.Transition(StatusRunning)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidTransition, GetErrorCode(err))
	assert.Equal(t, StatusCompleted, exec.Status)
}

func TestTaskExecutionDeadlineExceeded(t *testing.T) {
	exec := &TaskExecution{DeadlineAt: time.Now().Add(-time.Second)}
	assert.True(t, exec.DeadlineExceeded(time.Now()))

	exec.DeadlineAt = time.Now().Add(time.Hour)
	assert.False(t, exec.DeadlineExceeded(time.Now()))

	exec.DeadlineAt = time.Time{}
	assert.False(t, exec.DeadlineExceeded(time.Now()), "zero deadline means unbounded")
}

func TestLastHandoffs(t *testing.T) {
	exec := &TaskExecution{}
	assert.Nil(t, exec.LastHandoffs(5))

	for i := 0; i < 4; i++ {
		exec.HandoffHistory = append(exec.HandoffHistory, HandoffRecord{FromWorker: "a", ToWorker: "b"})
	}
	assert.Len(t, exec.LastHandoffs(10), 4)
	assert.Len(t, exec.LastHandoffs(2), 2)
}

func TestSharedContextClone_Isolation(t *testing.T) {
	ctx := NewSharedContext("map these fields")
	ctx.Fields["nested"] = map[string]any{"k": "v"}
	ctx.MessageLog = append(ctx.MessageLog, TurnRecord{Worker: "analyst", Summary: "looked at it"})

	clone := ctx.Clone()
	clone.Fields["nested"].(map[string]any)["k"] = "mutated"
	clone.MessageLog[0].Summary = "rewritten"

	assert.Equal(t, "v", ctx.Fields["nested"].(map[string]any)["k"])
	assert.Equal(t, "looked at it", ctx.MessageLog[0].Summary)
}

func TestContextView_ReadOnly(t *testing.T) {
	ctx := NewSharedContext("input")
	ctx.Fields["confidence"] = 0.92

	view := NewContextView(ctx)
	fields := view.Fields()
	fields["confidence"] = 0.1

	got, ok := view.Field("confidence")
	require.True(t, ok)
	assert.Equal(t, 0.92, got)
	assert.Equal(t, "input", view.TaskInput())
}
