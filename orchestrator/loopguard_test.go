package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/taskmesh/taskmesh/types"
)

func handoffChain(workers ...string) []types.HandoffRecord {
	out := make([]types.HandoffRecord, 0, len(workers)-1)
	for i := 0; i+1 < len(workers); i++ {
		out = append(out, types.HandoffRecord{
			FromWorker: workers[i],
			ToWorker:   workers[i+1],
			Reason:     "next step",
			Timestamp:  time.Now(),
		})
	}
	return out
}

func TestLoopGuardPingPongFlagged(t *testing.T) {
	g := NewLoopGuard(GuardConfig{})

	// A and B bouncing the task back and forth.
	history := handoffChain("a", "b", "a", "b", "a", "b", "a")
	require.Len(t, history, 6)

	err := g.Check(history)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRepetitiveHandoff))
}

func TestLoopGuardDiverseWindowPasses(t *testing.T) {
	g := NewLoopGuard(GuardConfig{})

	history := handoffChain("a", "b", "c", "a", "b", "c", "a")
	require.Len(t, history, 6)
	assert.NoError(t, g.Check(history))
}

func TestLoopGuardShortFlowsPass(t *testing.T) {
	g := NewLoopGuard(GuardConfig{})

	// Below MinSamples the detector stays quiet even for a pure ping-pong.
	for n := 0; n < DefaultGuardConfig().MinSamples; n++ {
		workers := make([]string, n+1)
		for i := range workers {
			if i%2 == 0 {
				workers[i] = "a"
			} else {
				workers[i] = "b"
			}
		}
		assert.NoError(t, g.Check(handoffChain(workers...)), "history of %d handoffs", n)
	}
}

func TestLoopGuardWindowForgetsOldDiversity(t *testing.T) {
	g := NewLoopGuard(GuardConfig{})

	// Early diversity scrolled out of the window does not excuse a
	// later two-worker loop.
	workers := []string{"a", "b", "c", "d", "e"}
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			workers = append(workers, "a")
		} else {
			workers = append(workers, "b")
		}
	}
	err := g.Check(handoffChain(workers...))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRepetitiveHandoff))
}

func TestLoopGuardHardCap(t *testing.T) {
	g := NewLoopGuard(GuardConfig{Window: 4, MinDistinct: 2, MinSamples: 4, MaxHandoffs: 10})

	// Diverse enough to dodge the pattern detector, but over the cap.
	workers := make([]string, 11)
	for i := range workers {
		workers[i] = fmt.Sprintf("w%d", i)
	}
	history := handoffChain(workers...)
	require.Len(t, history, 10)

	err := g.Check(history)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrMaxHandoffsExceeded))
}

func TestLoopGuardDefaults(t *testing.T) {
	g := NewLoopGuard(GuardConfig{})
	cfg := g.Config()
	assert.Equal(t, 10, cfg.Window)
	assert.Equal(t, 3, cfg.MinDistinct)
	assert.Equal(t, 6, cfg.MinSamples)
	assert.Equal(t, 50, cfg.MaxHandoffs)
}

func TestLoopGuardProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := GuardConfig{
			Window:      rapid.IntRange(2, 20).Draw(t, "window"),
			MinDistinct: rapid.IntRange(2, 5).Draw(t, "min_distinct"),
			MinSamples:  rapid.IntRange(2, 20).Draw(t, "min_samples"),
			MaxHandoffs: rapid.IntRange(10, 100).Draw(t, "max_handoffs"),
		}
		g := NewLoopGuard(cfg)

		names := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "f"}), 2, 30).Draw(t, "workers")
		history := handoffChain(names...)

		err := g.Check(history)
		if len(history) < cfg.MinSamples && len(history) < cfg.MaxHandoffs {
			// Not enough samples: the pattern detector must stay quiet.
			assert.NoError(t, err)
		}
		if err != nil {
			ok := types.IsErrorCode(err, types.ErrRepetitiveHandoff) ||
				types.IsErrorCode(err, types.ErrMaxHandoffsExceeded)
			assert.True(t, ok, "unexpected guard error: %v", err)
		}
	})
}
