// Package handlers implements the HTTP handlers of the taskmesh API:
// execution submission, status, answer delivery, cancellation, and health.
//
// All responses share one envelope (see Response). Errors carry the
// structured code of the underlying types.Error so clients can branch on
// the same codes the orchestrator uses internally.
package handlers
