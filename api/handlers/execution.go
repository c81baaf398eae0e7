package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/api"
	"github.com/taskmesh/taskmesh/types"
)

// Orchestrator is the surface of the coordinator the API depends on.
type Orchestrator interface {
	Submit(ctx context.Context, taskInput, entryWorker string) (string, error)
	Status(ctx context.Context, executionID string) (*types.TaskExecution, error)
	Cancel(ctx context.Context, executionID string) error
	SubmitAnswers(ctx context.Context, executionID string, answers map[string]string) error
}

// ExecutionHandler serves the execution lifecycle endpoints.
type ExecutionHandler struct {
	orch   Orchestrator
	logger *zap.Logger
}

// NewExecutionHandler creates an execution handler.
func NewExecutionHandler(orch Orchestrator, logger *zap.Logger) *ExecutionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionHandler{
		orch:   orch,
		logger: logger.Named("api.execution"),
	}
}

// Register attaches the execution routes to the mux.
func (h *ExecutionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/executions", h.HandleSubmit)
	mux.HandleFunc("GET /v1/executions/{id}", h.HandleStatus)
	mux.HandleFunc("POST /v1/executions/{id}/answers", h.HandleAnswers)
	mux.HandleFunc("POST /v1/executions/{id}/cancel", h.HandleCancel)
}

// HandleSubmit starts a new execution.
func (h *ExecutionHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	id, err := h.orch.Submit(r.Context(), req.TaskInput, req.EntryWorker)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("execution submitted",
		zap.String("execution_id", id),
		zap.String("entry_worker", req.EntryWorker),
	)
	WriteCreated(w, api.SubmitExecutionResponse{ExecutionID: id})
}

// HandleStatus returns the current state of an execution.
func (h *ExecutionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, err := h.orch.Status(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewExecutionStatusResponse(exec))
}

// HandleAnswers delivers human answers to a suspended execution and
// resumes it.
func (h *ExecutionHandler) HandleAnswers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.SubmitAnswersRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if len(req.Answers) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "answers must not be empty"), h.logger)
		return
	}

	if err := h.orch.SubmitAnswers(r.Context(), id, req.Answers); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("answers accepted", zap.String("execution_id", id))
	WriteSuccess(w, map[string]string{"execution_id": id, "status": "resumed"})
}

// HandleCancel cancels a running or suspended execution.
func (h *ExecutionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orch.Cancel(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("execution cancelled", zap.String("execution_id", id))
	WriteSuccess(w, map[string]string{"execution_id": id, "status": "cancelling"})
}
