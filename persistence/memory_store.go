package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/types"
)

// MemoryStore is an in-memory ExecutionStore for tests and single-process
// deployments. Records are copied on the way in and out so callers never
// share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// copyRecord deep-copies a record through its JSON form; everything the
// store holds must be serializable anyway.
func copyRecord(rec *Record) (*Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to encode execution record").WithCause(err)
	}
	out := &Record{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to decode execution record").WithCause(err)
	}
	return out, nil
}

// Save persists a record.
func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Execution == nil || rec.Execution.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "record must carry an execution with an id")
	}
	rec.SavedAt = time.Now()
	cp, err := copyRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Execution.ID] = cp
	return nil
}

// Get retrieves a record by execution ID.
func (s *MemoryStore) Get(ctx context.Context, executionID string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrExecutionNotFound, "execution %q not found", executionID)
	}
	return copyRecord(rec)
}

// Delete removes a record.
func (s *MemoryStore) Delete(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[executionID]; !ok {
		return types.NewErrorf(types.ErrExecutionNotFound, "execution %q not found", executionID)
	}
	delete(s.records, executionID)
	return nil
}

// ListSuspended returns all SUSPENDED executions.
func (s *MemoryStore) ListSuspended(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.Execution.Status == types.StatusSuspended {
			cp, err := copyRecord(rec)
			if err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

// Cleanup removes terminal executions older than the given duration.
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if !rec.Execution.IsTerminal() {
			continue
		}
		completed := rec.Execution.UpdatedAt
		if rec.Execution.CompletedAt != nil {
			completed = *rec.Execution.CompletedAt
		}
		if completed.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Stats returns per-status counts.
func (s *MemoryStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &StoreStats{ByStatus: make(map[types.ExecutionStatus]int64)}
	for _, rec := range s.records {
		stats.Total++
		stats.ByStatus[rec.Execution.Status]++
	}
	return stats, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
