package types

import (
	"fmt"
	"time"
)

// ExecutionStatus represents the lifecycle state of a TaskExecution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusSuspended ExecutionStatus = "suspended"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal returns true if the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions defines the legal status transitions. Terminal statuses
// have no successors: {RUNNING→SUSPENDED→RUNNING}* → {COMPLETED|FAILED|CANCELLED}.
var validTransitions = map[ExecutionStatus][]ExecutionStatus{
	StatusRunning:   {StatusSuspended, StatusCompleted, StatusFailed, StatusCancelled},
	StatusSuspended: {StatusRunning, StatusFailed, StatusCancelled},
}

// CanTransition checks whether a status transition is legal.
func CanTransition(from, to ExecutionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrStatusTransition is returned on an illegal status transition.
type ErrStatusTransition struct {
	From ExecutionStatus
	To   ExecutionStatus
}

func (e ErrStatusTransition) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// HandoffRecord is one entry of the ordered handoff history.
type HandoffRecord struct {
	FromWorker string    `json:"from_worker"`
	ToWorker   string    `json:"to_worker"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// FailureReport carries the structured reason of a FAILED execution:
// error kind plus enough diagnostic context to reproduce the failing turn.
type FailureReport struct {
	Code       ErrorCode       `json:"code"`
	Message    string          `json:"message"`
	Worker     string          `json:"worker,omitempty"`
	Capability string          `json:"capability,omitempty"`
	Handoffs   []HandoffRecord `json:"handoffs,omitempty"` // last N entries at failure time
}

// TaskExecution is one run of the orchestrator against one input task.
// It is mutated only by the coordinator; workers return instructions that
// the coordinator applies.
type TaskExecution struct {
	ID               string          `json:"id"`
	Status           ExecutionStatus `json:"status"`
	EntryWorker      string          `json:"entry_worker"`
	CurrentWorker    string          `json:"current_worker"`
	Context          *SharedContext  `json:"context"`
	HandoffHistory   []HandoffRecord `json:"handoff_history"`
	PendingQuestions []Question      `json:"pending_questions,omitempty"`
	ResumeWorker     string          `json:"resume_worker,omitempty"`
	Result           *Result         `json:"result,omitempty"`
	Failure          *FailureReport  `json:"failure,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	DeadlineAt       time.Time       `json:"deadline_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// Transition moves the execution to a new status, enforcing legality.
func (t *TaskExecution) Transition(to ExecutionStatus) error {
	if !CanTransition(t.Status, to) {
		return NewError(ErrInvalidTransition, ErrStatusTransition{From: t.Status, To: to}.Error())
	}
	t.Status = to
	now := time.Now()
	t.UpdatedAt = now
	if to.IsTerminal() {
		t.CompletedAt = &now
	}
	return nil
}

// IsTerminal returns true if the execution reached a final status.
func (t *TaskExecution) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// DeadlineExceeded reports whether the whole-execution deadline passed.
func (t *TaskExecution) DeadlineExceeded(now time.Time) bool {
	return !t.DeadlineAt.IsZero() && now.After(t.DeadlineAt)
}

// LastHandoffs returns up to n trailing entries of the handoff history.
func (t *TaskExecution) LastHandoffs(n int) []HandoffRecord {
	if n <= 0 || len(t.HandoffHistory) == 0 {
		return nil
	}
	start := len(t.HandoffHistory) - n
	if start < 0 {
		start = 0
	}
	out := make([]HandoffRecord, len(t.HandoffHistory)-start)
	copy(out, t.HandoffHistory[start:])
	return out
}
