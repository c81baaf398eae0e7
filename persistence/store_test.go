package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/orchestrator/state"
	"github.com/taskmesh/taskmesh/types"
)

func newRecord(id string, status types.ExecutionStatus) *Record {
	st := state.New("map the vendor feed", nil)
	st.Merge(map[string]any{"stage": "analysis"})
	st.Snapshot()
	now := time.Now()
	exec := &types.TaskExecution{
		ID:            id,
		Status:        status,
		EntryWorker:   "analyst",
		CurrentWorker: "analyst",
		Context:       st.Read(),
		StartedAt:     now,
		DeadlineAt:    now.Add(10 * time.Minute),
		UpdatedAt:     now,
	}
	if status.IsTerminal() {
		exec.CompletedAt = &now
	}
	return &Record{Execution: exec, State: st.Export()}
}

// storeUnderTest runs the shared contract suite against a backend.
func storeUnderTest(t *testing.T, store ExecutionStore) {
	ctx := context.Background()

	t.Run("save and get round-trips", func(t *testing.T) {
		rec := newRecord("exec-1", types.StatusSuspended)
		rec.Execution.PendingQuestions = []types.Question{{ID: "q1", Prompt: "A or B?", Options: []string{"A", "B"}}}
		rec.Execution.ResumeWorker = "validator"
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Get(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, types.StatusSuspended, got.Execution.Status)
		assert.Equal(t, "validator", got.Execution.ResumeWorker)
		require.Len(t, got.Execution.PendingQuestions, 1)
		assert.Equal(t, "q1", got.Execution.PendingQuestions[0].ID)
		require.NotNil(t, got.State)
		assert.Equal(t, "analysis", got.State.Context.Fields["stage"])
		assert.NotEmpty(t, got.State.Snapshots, "snapshots survive persistence")
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.Equal(t, types.ErrExecutionNotFound, types.GetErrorCode(err))
	})

	t.Run("list suspended", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newRecord("exec-running", types.StatusRunning)))
		require.NoError(t, store.Save(ctx, newRecord("exec-susp", types.StatusSuspended)))

		recs, err := store.ListSuspended(ctx)
		require.NoError(t, err)
		ids := make(map[string]bool)
		for _, r := range recs {
			ids[r.Execution.ID] = true
			assert.Equal(t, types.StatusSuspended, r.Execution.Status)
		}
		assert.True(t, ids["exec-susp"])
		assert.False(t, ids["exec-running"])
	})

	t.Run("status reindex on update", func(t *testing.T) {
		rec := newRecord("exec-susp", types.StatusSuspended)
		require.NoError(t, rec.Execution.Transition(types.StatusRunning))
		require.NoError(t, store.Save(ctx, rec))

		recs, err := store.ListSuspended(ctx)
		require.NoError(t, err)
		for _, r := range recs {
			assert.NotEqual(t, "exec-susp", r.Execution.ID)
		}
	})

	t.Run("cleanup removes only old terminal executions", func(t *testing.T) {
		old := newRecord("exec-old-done", types.StatusCompleted)
		past := time.Now().Add(-2 * time.Hour)
		old.Execution.CompletedAt = &past
		require.NoError(t, store.Save(ctx, old))

		fresh := newRecord("exec-fresh-done", types.StatusCompleted)
		require.NoError(t, store.Save(ctx, fresh))

		removed, err := store.Cleanup(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = store.Get(ctx, "exec-old-done")
		assert.Error(t, err)
		_, err = store.Get(ctx, "exec-fresh-done")
		assert.NoError(t, err)

		_, err = store.Get(ctx, "exec-running")
		assert.NoError(t, err, "non-terminal executions never cleaned up")
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Greater(t, stats.Total, int64(0))
		assert.Greater(t, stats.ByStatus[types.StatusRunning], int64(0))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "exec-1"))
		_, err := store.Get(ctx, "exec-1")
		assert.Error(t, err)
		assert.Error(t, store.Delete(ctx, "exec-1"))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := NewMemoryStore()
	rec := newRecord("exec-iso", types.StatusRunning)
	require.NoError(t, store.Save(context.Background(), rec))

	rec.Execution.CurrentWorker = "mutated-after-save"
	got, err := store.Get(context.Background(), "exec-iso")
	require.NoError(t, err)
	assert.Equal(t, "analyst", got.Execution.CurrentWorker)

	got.Execution.CurrentWorker = "mutated-after-get"
	again, err := store.Get(context.Background(), "exec-iso")
	require.NoError(t, err)
	assert.Equal(t, "analyst", again.Execution.CurrentWorker)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "")
	defer store.Close()

	storeUnderTest(t, store)
}

func TestNewExecutionStore_Factory(t *testing.T) {
	store, err := NewExecutionStore(StoreConfig{Type: StoreTypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = NewExecutionStore(StoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store, "memory is the default")

	_, err = NewExecutionStore(StoreConfig{Type: "cassandra"})
	assert.Error(t, err)
}
