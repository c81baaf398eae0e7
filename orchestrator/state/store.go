// Package state provides the per-execution shared context store with
// versioned snapshot and restore.
package state

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/types"
)

// Store holds one execution's evolving SharedContext. Each execution is
// logically single-threaded, but the store is still lock-guarded because
// status queries and answer submission arrive from other goroutines.
type Store struct {
	mu        sync.RWMutex
	ctx       *types.SharedContext
	snapshots map[int]*types.SharedContext
	logger    *zap.Logger
}

// New creates a store for the given immutable task input.
func New(taskInput string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		ctx:       types.NewSharedContext(taskInput),
		snapshots: make(map[int]*types.SharedContext),
		logger:    logger.With(zap.String("component", "context_store")),
	}
}

// Read returns a deep copy of the latest merged context.
func (s *Store) Read() *types.SharedContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.Clone()
}

// View returns a read-only view over the latest context.
func (s *Store) View() types.ContextView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.NewContextView(s.ctx)
}

// Merge applies a partial fields update, last-writer-wins per key.
// Nil values delete nothing; every key in partial overwrites its slot.
func (s *Store) Merge(partial map[string]any) {
	if len(partial) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range partial {
		s.ctx.Fields[k] = v
	}
	s.ctx.Version++
}

// AppendTurn appends a record to the message log. The log is append-only;
// retried turns add new records rather than rewriting prior ones.
func (s *Store) AppendTurn(rec types.TurnRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx.MessageLog = append(s.ctx.MessageLog, rec)
	s.ctx.Version++
}

// Snapshot captures the current context and returns its version. Taken at
// every handoff boundary and at suspension, so suspend/resume and post-hoc
// audit can reconstruct the context as of any point in the handoff history.
func (s *Store) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ctx.Version
	s.snapshots[v] = s.ctx.Clone()
	s.logger.Debug("context snapshot taken", zap.Int("version", v))
	return v
}

// Restore replaces the live context with the snapshot at version.
func (s *Store) Restore(version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[version]
	if !ok {
		return types.NewErrorf(types.ErrStoreError, "no snapshot at version %d", version)
	}
	s.ctx = snap.Clone()
	s.logger.Debug("context restored", zap.Int("version", version))
	return nil
}

// SnapshotVersions returns the recorded snapshot versions in ascending order.
func (s *Store) SnapshotVersions() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]int, 0, len(s.snapshots))
	for v := range s.snapshots {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}

// SnapshotAt returns a copy of the snapshot at version, if recorded.
func (s *Store) SnapshotAt(version int) (*types.SharedContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[version]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// Dump is the serializable form of a store, used to persist a suspended
// execution and rebuild it on resume.
type Dump struct {
	Context   *types.SharedContext         `json:"context"`
	Snapshots map[int]*types.SharedContext `json:"snapshots,omitempty"`
}

// Export serializes the store state.
func (s *Store) Export() *Dump {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := &Dump{
		Context:   s.ctx.Clone(),
		Snapshots: make(map[int]*types.SharedContext, len(s.snapshots)),
	}
	for v, snap := range s.snapshots {
		d.Snapshots[v] = snap.Clone()
	}
	return d
}

// Import rebuilds a store from a Dump.
func Import(d *Dump, logger *zap.Logger) (*Store, error) {
	if d == nil || d.Context == nil {
		return nil, types.NewError(types.ErrStoreError, "context dump is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		ctx:       d.Context.Clone(),
		snapshots: make(map[int]*types.SharedContext, len(d.Snapshots)),
		logger:    logger.With(zap.String("component", "context_store")),
	}
	for v, snap := range d.Snapshots {
		s.snapshots[v] = snap.Clone()
	}
	return s, nil
}
