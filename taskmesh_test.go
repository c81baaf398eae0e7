package taskmesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/capability"
	"github.com/taskmesh/taskmesh/orchestrator"
	"github.com/taskmesh/taskmesh/types"
)

func TestNewRequiresValidGraph(t *testing.T) {
	_, err := New(
		WithWorker(orchestrator.WorkerFromFunc("a", func(context.Context, types.ContextView, *capability.CallSet) (*types.Outcome, error) {
			return nil, nil
		}), orchestrator.WorkerSpec{AllowedTargets: []string{"ghost"}}),
	)
	require.Error(t, err)
}

func TestMeshEndToEnd(t *testing.T) {
	greeter := orchestrator.WorkerFromFunc("greeter", func(_ context.Context, view types.ContextView, _ *capability.CallSet) (*types.Outcome, error) {
		return types.NewResultOutcome(map[string]any{
			"greeting": "hello, " + view.TaskInput(),
		}, "greeted"), nil
	})

	mesh, err := New(WithWorker(greeter, orchestrator.WorkerSpec{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mesh.Close(ctx)
	})

	id, err := mesh.Submit(context.Background(), "world", "greeter")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exec, err := mesh.Status(context.Background(), id)
		return err == nil && exec.Status == types.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	exec, err := mesh.Status(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, exec.Result)
	assert.Equal(t, "hello, world", exec.Result.Payload["greeting"])
}
