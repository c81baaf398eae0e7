package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []FileEvent
}

func (r *eventRecorder) record(e FileEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ops() []FileOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileOp, len(r.events))
	for i, e := range r.events {
		out[i] = e.Op
	}
	return out
}

func startWatcher(t *testing.T, paths []string) (*FileWatcher, *eventRecorder) {
	t.Helper()
	w, err := NewFileWatcher(paths, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	rec := &eventRecorder{}
	w.OnChange(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)
	return w, rec
}

func TestWatcherDetectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	_, rec := startWatcher(t, []string{path})

	// Backdate then rewrite so the mtime visibly advances regardless of
	// filesystem timestamp granularity.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, past, past))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, op := range rec.ops() {
			if op == FileOpWrite {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherDetectsCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	_, rec := startWatcher(t, []string{path})

	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))
	require.Eventually(t, func() bool {
		for _, op := range rec.ops() {
			if op == FileOpCreate {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		for _, op := range rec.ops() {
			if op == FileOpRemove {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherDoubleStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	w, err := NewFileWatcher([]string{path})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx))
	w.Stop()
	w.Stop() // idempotent
}
