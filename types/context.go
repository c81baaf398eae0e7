package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyExecutionID contextKey = "execution_id"
	keyWorkerName  contextKey = "worker_name"
	keyTraceID     contextKey = "trace_id"
)

// WithExecutionID adds the execution ID to the context.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyExecutionID, id)
}

// ExecutionID extracts the execution ID from the context.
func ExecutionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyExecutionID).(string)
	return v, ok && v != ""
}

// WithWorkerName adds the active worker name to the context.
func WithWorkerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyWorkerName, name)
}

// WorkerName extracts the active worker name from the context.
func WorkerName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorkerName).(string)
	return v, ok && v != ""
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts the trace ID from the context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}
