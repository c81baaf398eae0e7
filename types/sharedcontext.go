package types

import "time"

// TurnRecord is one entry of the append-only message log. Failed and retried
// turns append their own records; nothing is ever rewritten.
type TurnRecord struct {
	Worker    string    `json:"worker"`
	Summary   string    `json:"summary"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SharedContext is the mutable state bag visible to every worker within one
// execution. TaskInput never mutates after creation, Fields writes are
// last-writer-wins per key, and MessageLog is append-only.
type SharedContext struct {
	TaskInput  string         `json:"task_input"`
	Fields     map[string]any `json:"fields"`
	MessageLog []TurnRecord   `json:"message_log"`
	Version    int            `json:"version"`
}

// NewSharedContext creates an empty context for the given task input.
func NewSharedContext(taskInput string) *SharedContext {
	return &SharedContext{
		TaskInput: taskInput,
		Fields:    make(map[string]any),
	}
}

// Clone returns a deep copy. Snapshots and worker views are built on it so
// no caller can mutate the live context through shared references.
func (c *SharedContext) Clone() *SharedContext {
	if c == nil {
		return nil
	}
	out := &SharedContext{
		TaskInput: c.TaskInput,
		Fields:    make(map[string]any, len(c.Fields)),
		Version:   c.Version,
	}
	for k, v := range c.Fields {
		out.Fields[k] = deepCopyValue(v)
	}
	if len(c.MessageLog) > 0 {
		out.MessageLog = make([]TurnRecord, len(c.MessageLog))
		copy(out.MessageLog, c.MessageLog)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

// ContextView is the read-only view of a SharedContext handed to a worker
// turn. It wraps a private clone, so workers can only influence execution
// state through the outcome they return.
type ContextView struct {
	ctx *SharedContext
}

// NewContextView builds a view over a clone of ctx.
func NewContextView(ctx *SharedContext) ContextView {
	return ContextView{ctx: ctx.Clone()}
}

// TaskInput returns the original, immutable task input.
func (v ContextView) TaskInput() string {
	return v.ctx.TaskInput
}

// Field returns the value stored under key, if any.
func (v ContextView) Field(key string) (any, bool) {
	val, ok := v.ctx.Fields[key]
	return val, ok
}

// StringField returns the value under key if it is a string.
func (v ContextView) StringField(key string) (string, bool) {
	s, ok := v.ctx.Fields[key].(string)
	return s, ok
}

// Fields returns a copy of all fields.
func (v ContextView) Fields() map[string]any {
	out := make(map[string]any, len(v.ctx.Fields))
	for k, val := range v.ctx.Fields {
		out[k] = deepCopyValue(val)
	}
	return out
}

// MessageLog returns a copy of the turn log, in append order.
func (v ContextView) MessageLog() []TurnRecord {
	out := make([]TurnRecord, len(v.ctx.MessageLog))
	copy(out, v.ctx.MessageLog)
	return out
}

// Version returns the context version the view was taken at.
func (v ContextView) Version() int {
	return v.ctx.Version
}
