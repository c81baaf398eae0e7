package api

import "github.com/taskmesh/taskmesh/types"

// SubmitExecutionRequest starts a new execution.
type SubmitExecutionRequest struct {
	// TaskInput is the immutable task description.
	TaskInput string `json:"task_input"`
	// EntryWorker is the name of the worker that receives the task first.
	EntryWorker string `json:"entry_worker"`
}

// SubmitExecutionResponse returns the ID of the accepted execution.
type SubmitExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
}

// SubmitAnswersRequest delivers human answers to a suspended execution,
// keyed by question ID. Every pending question must be answered.
type SubmitAnswersRequest struct {
	Answers map[string]string `json:"answers"`
}

// ExecutionStatusResponse is the externally visible state of an execution.
type ExecutionStatusResponse struct {
	ID               string                 `json:"id"`
	Status           types.ExecutionStatus  `json:"status"`
	EntryWorker      string                 `json:"entry_worker"`
	CurrentWorker    string                 `json:"current_worker,omitempty"`
	Handoffs         []types.HandoffRecord  `json:"handoffs,omitempty"`
	PendingQuestions []types.Question       `json:"pending_questions,omitempty"`
	Result           *types.Result          `json:"result,omitempty"`
	Failure          *types.FailureReport   `json:"failure,omitempty"`
	Fields           map[string]any         `json:"fields,omitempty"`
	MessageLog       []types.TurnRecord     `json:"message_log,omitempty"`
	StartedAt        string                 `json:"started_at"`
	CompletedAt      string                 `json:"completed_at,omitempty"`
}

// NewExecutionStatusResponse converts an execution into its API shape.
func NewExecutionStatusResponse(exec *types.TaskExecution) *ExecutionStatusResponse {
	resp := &ExecutionStatusResponse{
		ID:               exec.ID,
		Status:           exec.Status,
		EntryWorker:      exec.EntryWorker,
		CurrentWorker:    exec.CurrentWorker,
		Handoffs:         exec.HandoffHistory,
		PendingQuestions: exec.PendingQuestions,
		Result:           exec.Result,
		Failure:          exec.Failure,
		StartedAt:        exec.StartedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if exec.Context != nil {
		resp.Fields = exec.Context.Fields
		resp.MessageLog = exec.Context.MessageLog
	}
	if exec.CompletedAt != nil {
		resp.CompletedAt = exec.CompletedAt.Format("2006-01-02T15:04:05.000Z07:00")
	}
	return resp
}
