package capability

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/types"
)

func newTestExtender(t *testing.T) *Extender {
	t.Helper()
	ext, err := NewExtender(DefaultSandboxPolicy(), zap.NewNop())
	require.NoError(t, err)
	return ext
}

func TestNewExtender_FailsClosed(t *testing.T) {
	_, err := NewExtender(SandboxPolicy{}, nil)
	require.Error(t, err, "zero policy must not produce an extender")
	assert.Equal(t, types.ErrSandboxViolation, types.GetErrorCode(err))

	_, err = NewExtender(SandboxPolicy{MaxSourceBytes: 1024}, nil)
	assert.Error(t, err, "missing exec timeout must fail")
}

func TestExtenderCompile_ValidCapability(t *testing.T) {
	ext := newTestExtender(t)
	fn, err := ext.Compile("sum", `
		function capability(args)
			local total = 0
			for _, n in ipairs(args.values) do
				total = total + n
			end
			return { total = total }
		end
	`)
	require.NoError(t, err)

	out, err := fn(context.Background(), json.RawMessage(`{"values":[1,2,3]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":6}`, string(out))
}

func TestExtenderCompile_Rejections(t *testing.T) {
	ext := newTestExtender(t)

	_, err := ext.Compile("broken", `this is not lua`)
	assert.Equal(t, types.ErrCapabilityError, types.GetErrorCode(err))

	_, err = ext.Compile("no_entry", `local x = 1`)
	require.Error(t, err, "source must define capability()")

	big, err2 := NewExtender(SandboxPolicy{MaxSourceBytes: 10, ExecTimeout: time.Second}, nil)
	require.NoError(t, err2)
	_, err = big.Compile("oversized", `function capability(args) return {} end`)
	assert.Equal(t, types.ErrSandboxViolation, types.GetErrorCode(err))
}

func TestSandbox_ForbiddenGlobalsTrip(t *testing.T) {
	ext := newTestExtender(t)

	for _, src := range []string{
		`function capability(args) return { t = os.time() } end`,
		`function capability(args) return { f = io.open("/etc/passwd") } end`,
		`function capability(args) return { m = require("socket") } end`,
	} {
		fn, err := ext.Compile("probe", src)
		require.NoError(t, err, "violations surface at call time, not load time")

		_, err = fn(context.Background(), json.RawMessage(`{}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), sandboxViolationMarker)
	}
}

func TestSandbox_ViolationDiscardsRegistration(t *testing.T) {
	r := NewRegistry(nil)
	scope := NewScope("exec-1", r, zap.NewNop())
	ext := newTestExtender(t)

	fn, err := ext.Compile("leaky", `function capability(args) return { t = os.time() } end`)
	require.NoError(t, err)
	require.NoError(t, scope.RegisterDynamic("leaky", fn, Metadata{}))

	exec := NewExecutor(3, zap.NewNop())
	_, err = exec.Invoke(context.Background(), scope, "leaky", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrSandboxViolation, types.GetErrorCode(err))
	assert.False(t, scope.Has("leaky"), "offending registration is discarded, never retried")
}

func TestSandbox_ExecTimeout(t *testing.T) {
	ext, err := NewExtender(SandboxPolicy{MaxSourceBytes: 4096, ExecTimeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	fn, err := ext.Compile("spin", `function capability(args) while true do end end`)
	require.NoError(t, err)

	start := time.Now()
	_, err = fn(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSelfExtend_EndToEnd(t *testing.T) {
	r := NewRegistry(nil)
	scope := NewScope("exec-1", r, zap.NewNop())
	ext := newTestExtender(t)
	exec := NewExecutor(0, zap.NewNop())

	cs := NewCallSet(scope, exec, nil)
	cs.Bind(SelfExtendName, ext.SelfExtendFunc(scope, cs), SelfExtendMetadata())

	req := map[string]any{
		"name":        "uppercase",
		"description": "uppercase a string field",
		"source":      `function capability(args) return { out = string.upper(args.text) } end`,
	}
	args, _ := json.Marshal(req)

	out, err := cs.Call(context.Background(), SelfExtendName, args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"registered":"uppercase"}`, string(out))

	// Immediately callable within the same execution.
	out, err = cs.Call(context.Background(), "uppercase", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"out":"HI"}`, string(out))

	// Execution-scoped by default: invisible to the global registry and to
	// other executions until promoted.
	assert.False(t, r.Has("uppercase"))
	other := NewScope("exec-2", r, zap.NewNop())
	assert.False(t, other.Has("uppercase"))

	// Recompilable across suspensions.
	specs := scope.ExportDynamic()
	require.Len(t, specs, 1)
	assert.Equal(t, "uppercase", specs[0].Name)
	resumed := NewScope("exec-1", r, zap.NewNop())
	require.NoError(t, resumed.ImportDynamic(ext, specs))
	assert.True(t, resumed.Has("uppercase"))

	require.NoError(t, scope.Promote("uppercase"))
	assert.True(t, other.Has("uppercase"))
}

func TestSelfExtend_BadRequests(t *testing.T) {
	r := NewRegistry(nil)
	scope := NewScope("exec-1", r, zap.NewNop())
	ext := newTestExtender(t)
	fn := ext.SelfExtendFunc(scope, nil)

	_, err := fn(context.Background(), json.RawMessage(`{"name":"x"}`))
	require.Error(t, err, "source is required")

	_, err = fn(context.Background(), json.RawMessage(`{"source":"function capability() return {} end"}`))
	require.Error(t, err, "name is required")

	reserved, _ := json.Marshal(map[string]any{
		"name":   SelfExtendName,
		"source": "function capability() return {} end",
	})
	_, err = fn(context.Background(), reserved)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "reserved"))
}
