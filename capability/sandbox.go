package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/types"
)

// SelfExtendName is the distinguished capability through which a worker
// registers a new capability at runtime.
const SelfExtendName = "extend_capabilities"

// sandboxViolationMarker tags errors raised by the forbidden-global
// tripwires so the executor can classify them as SANDBOX_VIOLATION.
const sandboxViolationMarker = "sandbox violation"

// entryFunction is the global a dynamic capability's Lua source must define.
const entryFunction = "capability"

// forbiddenGlobals are replaced with tripwires in every sandboxed VM. Any
// access raises an error carrying the violation marker.
var forbiddenGlobals = []string{"os", "io", "package", "debug", "require", "dofile", "loadfile", "load", "loadstring", "collectgarbage", "print"}

// SandboxPolicy bounds what a dynamically registered capability may do.
// Only the base, table, string, and math libraries are ever opened; the
// policy bounds source size and execution time.
type SandboxPolicy struct {
	MaxSourceBytes int           `json:"max_source_bytes" yaml:"max_source_bytes"`
	ExecTimeout    time.Duration `json:"exec_timeout" yaml:"exec_timeout"`
}

// DefaultSandboxPolicy returns closed-by-default limits.
func DefaultSandboxPolicy() SandboxPolicy {
	return SandboxPolicy{
		MaxSourceBytes: 64 * 1024,
		ExecTimeout:    5 * time.Second,
	}
}

// Validate rejects policies that would leave the sandbox unbounded.
func (p SandboxPolicy) Validate() error {
	if p.MaxSourceBytes <= 0 {
		return types.NewError(types.ErrInvalidRequest, "sandbox policy requires a positive max_source_bytes")
	}
	if p.ExecTimeout <= 0 {
		return types.NewError(types.ErrInvalidRequest, "sandbox policy requires a positive exec_timeout")
	}
	return nil
}

// Extender compiles worker-submitted Lua sources into sandboxed capability
// implementations. Construction fails closed: no valid policy, no extender,
// never a silent fallback to unrestricted execution.
type Extender struct {
	policy SandboxPolicy
	logger *zap.Logger
}

// NewExtender creates an Extender, validating the sandbox policy.
func NewExtender(policy SandboxPolicy, logger *zap.Logger) (*Extender, error) {
	if err := policy.Validate(); err != nil {
		return nil, types.NewError(types.ErrSandboxViolation, "refusing to build extender without a safe sandbox policy").WithCause(err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extender{
		policy: policy,
		logger: logger.With(zap.String("component", "capability_extender")),
	}, nil
}

// Compile validates a submitted source and wraps it as a capability Func.
// The source must define a global function `capability(args)` returning a
// table (or scalar) that becomes the JSON result.
func (e *Extender) Compile(name, source string) (Func, error) {
	if len(source) > e.policy.MaxSourceBytes {
		return nil, types.NewErrorf(types.ErrSandboxViolation, "capability source exceeds %d bytes", e.policy.MaxSourceBytes).
			WithCapability(name)
	}

	// Load once up front so malformed submissions fail at registration,
	// not at first call.
	L := e.newSandboxedState()
	defer L.Close()
	if err := L.DoString(source); err != nil {
		return nil, types.NewErrorf(types.ErrCapabilityError, "capability source failed to load").
			WithCapability(name).
			WithCause(err)
	}
	if _, ok := L.GetGlobal(entryFunction).(*lua.LFunction); !ok {
		return nil, types.NewErrorf(types.ErrCapabilityError, "capability source must define a %q function", entryFunction).
			WithCapability(name)
	}

	e.logger.Info("dynamic capability compiled", zap.String("name", name), zap.Int("source_bytes", len(source)))
	return e.runner(name, source), nil
}

// runner returns the Func executing the source in a fresh VM per call, so
// no state leaks between calls or executions.
func (e *Extender) runner(name, source string) Func {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		L := e.newSandboxedState()
		defer L.Close()

		execCtx, cancel := context.WithTimeout(ctx, e.policy.ExecTimeout)
		defer cancel()
		L.SetContext(execCtx)

		if err := L.DoString(source); err != nil {
			return nil, fmt.Errorf("capability %q failed to load: %w", name, err)
		}
		fn, ok := L.GetGlobal(entryFunction).(*lua.LFunction)
		if !ok {
			return nil, fmt.Errorf("capability %q lost its %q function", name, entryFunction)
		}

		var input any
		if len(args) > 0 {
			if err := json.Unmarshal(args, &input); err != nil {
				return nil, fmt.Errorf("capability %q received invalid arguments: %w", name, err)
			}
		}

		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaFromGo(L, input)); err != nil {
			return nil, fmt.Errorf("capability %q: %w", name, err)
		}
		ret := L.Get(-1)
		L.Pop(1)

		out, err := json.Marshal(goFromLua(ret))
		if err != nil {
			return nil, fmt.Errorf("capability %q produced an unserializable result: %w", name, err)
		}
		return out, nil
	}
}

// newSandboxedState builds a Lua VM with no ambient privileges: libraries
// are opened selectively and every dangerous global is a tripwire.
func (e *Extender) newSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Deterministic math only.
	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}

	for _, name := range forbiddenGlobals {
		L.SetGlobal(name, tripwire(L, name))
	}
	return L
}

// tripwire returns a value that raises a tagged error on any access, making
// violations detectable instead of surfacing as nil-index noise.
func tripwire(L *lua.LState, name string) lua.LValue {
	raise := L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s: %s is not permitted in a dynamic capability", sandboxViolationMarker, name)
		return 0
	})
	tbl := L.NewTable()
	mt := L.NewTable()
	L.SetField(mt, "__index", raise)
	L.SetField(mt, "__newindex", raise)
	L.SetField(mt, "__call", raise)
	L.SetMetatable(tbl, mt)
	return tbl
}

// luaFromGo converts a decoded JSON value into a Lua value.
func luaFromGo(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.RawSetInt(tbl, i+1, luaFromGo(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, luaFromGo(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// goFromLua converts a Lua value back into a JSON-serializable Go value.
func goFromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, goFromLua(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[lua.LVAsString(k)] = goFromLua(item)
		})
		return out
	default:
		return lua.LVAsString(v)
	}
}

// selfExtendRequest is the input contract of the self-extend capability.
type selfExtendRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Source      string          `json:"source"`
}

// SelfExtendMetadata describes the self-extend capability itself.
func SelfExtendMetadata() Metadata {
	return Metadata{
		Schema: Schema{
			Name:        SelfExtendName,
			Description: "Register a new sandboxed capability, scoped to the current execution, from Lua source defining a capability(args) function.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"required": ["name", "source"],
				"properties": {
					"name": {"type": "string"},
					"description": {"type": "string"},
					"parameters": {"type": "object"},
					"source": {"type": "string"}
				}
			}`),
		},
		Timeout: 10 * time.Second,
	}
}

// SelfExtendFunc binds the self-extend capability to an execution scope.
// The new capability is immediately callable by the registering worker
// within the same execution.
func (e *Extender) SelfExtendFunc(scope *Scope, calls *CallSet) Func {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req selfExtendRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, types.NewError(types.ErrCapabilityError, "invalid self-extension request").WithCause(err)
		}
		if req.Name == "" || req.Source == "" {
			return nil, types.NewError(types.ErrCapabilityError, "self-extension requires name and source")
		}
		if req.Name == SelfExtendName {
			return nil, types.NewErrorf(types.ErrInvalidRequest, "capability name %q is reserved", SelfExtendName)
		}

		fn, err := e.Compile(req.Name, req.Source)
		if err != nil {
			return nil, err
		}
		meta := Metadata{
			Schema: Schema{
				Name:        req.Name,
				Description: req.Description,
				Parameters:  req.Parameters,
			},
			Timeout: e.policy.ExecTimeout,
		}
		if err := scope.RegisterDynamic(req.Name, fn, meta); err != nil {
			return nil, err
		}
		scope.rememberSpec(DynamicSpec(req))
		if calls != nil {
			calls.Grant(req.Name)
		}
		return json.Marshal(map[string]any{"registered": req.Name})
	}
}
