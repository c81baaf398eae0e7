package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/taskmesh/taskmesh/types"
)

func TestStoreMerge_LastWriterWins(t *testing.T) {
	s := New("task", nil)
	s.Merge(map[string]any{"confidence": 0.5, "owner": "analyst"})
	s.Merge(map[string]any{"confidence": 0.92})

	ctx := s.Read()
	assert.Equal(t, 0.92, ctx.Fields["confidence"])
	assert.Equal(t, "analyst", ctx.Fields["owner"])
	assert.Equal(t, "task", ctx.TaskInput)
}

func TestStoreAppendTurn_AppendOnly(t *testing.T) {
	s := New("task", nil)
	for i := 0; i < 3; i++ {
		s.AppendTurn(types.TurnRecord{Worker: "analyst", Summary: fmt.Sprintf("turn %d", i)})
	}
	log := s.Read().MessageLog
	require.Len(t, log, 3)
	for i, rec := range log {
		assert.Equal(t, fmt.Sprintf("turn %d", i), rec.Summary)
	}
}

func TestStoreSnapshotRestore(t *testing.T) {
	s := New("task", nil)
	s.Merge(map[string]any{"stage": "analysis"})
	v1 := s.Snapshot()

	s.Merge(map[string]any{"stage": "validation", "confidence": 0.9})
	v2 := s.Snapshot()
	require.NotEqual(t, v1, v2)

	require.NoError(t, s.Restore(v1))
	ctx := s.Read()
	assert.Equal(t, "analysis", ctx.Fields["stage"])
	_, ok := ctx.Fields["confidence"]
	assert.False(t, ok)

	assert.Equal(t, []int{v1, v2}, s.SnapshotVersions())

	err := s.Restore(9999)
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreError, types.GetErrorCode(err))
}

func TestStoreSnapshot_NotAliased(t *testing.T) {
	s := New("task", nil)
	s.Merge(map[string]any{"list": []any{"a"}})
	v := s.Snapshot()

	s.Merge(map[string]any{"list": []any{"a", "b"}})

	snap, ok := s.SnapshotAt(v)
	require.True(t, ok)
	assert.Len(t, snap.Fields["list"], 1)
}

func TestStoreExportImport_RoundTrip(t *testing.T) {
	s := New("task", nil)
	s.Merge(map[string]any{"stage": "analysis"})
	s.AppendTurn(types.TurnRecord{Worker: "analyst", Summary: "done"})
	v := s.Snapshot()

	restored, err := Import(s.Export(), nil)
	require.NoError(t, err)

	ctx := restored.Read()
	assert.Equal(t, "analysis", ctx.Fields["stage"])
	require.Len(t, ctx.MessageLog, 1)
	_, ok := restored.SnapshotAt(v)
	assert.True(t, ok)

	_, err = Import(nil, nil)
	assert.Error(t, err)
}

func TestStoreMerge_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New("immutable input", nil)
		keys := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 1, 20).Draw(t, "keys")

		last := make(map[string]string)
		for i, k := range keys {
			val := fmt.Sprintf("v%d", i)
			s.Merge(map[string]any{k: val})
			last[k] = val
		}

		ctx := s.Read()
		if ctx.TaskInput != "immutable input" {
			t.Fatalf("task input mutated: %q", ctx.TaskInput)
		}
		for k, want := range last {
			if ctx.Fields[k] != want {
				t.Fatalf("key %q: got %v, want %v (last writer must win)", k, ctx.Fields[k], want)
			}
		}
		if len(ctx.Fields) != len(last) {
			t.Fatalf("got %d keys, want %d", len(ctx.Fields), len(last))
		}
	})
}
