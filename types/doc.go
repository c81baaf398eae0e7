// Package types provides the shared type contracts for the taskmesh
// orchestrator.
//
// It is the lowest-level public package and depends on nothing inside the
// module. All cross-package contracts live here to avoid import cycles:
//
//   - Outcome            : discriminated result of a worker turn
//     (Result | HandoffInstruction | InterruptRequest)
//   - TaskExecution      : one run of the orchestrator against one task
//   - SharedContext      : the mutable state bag visible to every worker
//   - ContextView        : the read-only view handed to a worker turn
//   - Error / ErrorCode  : structured error taxonomy with retryable flag
//
// Context propagation helpers (WithExecutionID, WithTraceID) carry request
// identity through capability calls and the HTTP layer.
package types
