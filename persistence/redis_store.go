package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/taskmesh/types"
)

var allStatuses = []types.ExecutionStatus{
	types.StatusRunning,
	types.StatusSuspended,
	types.StatusCompleted,
	types.StatusFailed,
	types.StatusCancelled,
}

// RedisStore is a Redis-backed ExecutionStore for deployments where
// suspended executions must survive process restarts. Records are stored as
// JSON blobs with per-status index sets.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed execution store and verifies the
// connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to connect to Redis").WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "taskmesh:"
	}
	return &RedisStore{client: client, keyPrefix: prefix + "execution:"}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "taskmesh:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "execution:"}
}

func (s *RedisStore) dataKey(executionID string) string {
	return s.keyPrefix + "data:" + executionID
}

func (s *RedisStore) statusKey(status types.ExecutionStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

// Save persists a record and reindexes its status.
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Execution == nil || rec.Execution.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "record must carry an execution with an id")
	}
	rec.SavedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return types.NewError(types.ErrStoreError, "failed to encode execution record").WithCause(err)
	}

	id := rec.Execution.ID
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(id), data, 0)
	for _, st := range allStatuses {
		if st == rec.Execution.Status {
			pipe.SAdd(ctx, s.statusKey(st), id)
		} else {
			pipe.SRem(ctx, s.statusKey(st), id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStoreError, "failed to save execution record").WithCause(err)
	}
	return nil
}

// Get retrieves a record by execution ID.
func (s *RedisStore) Get(ctx context.Context, executionID string) (*Record, error) {
	data, err := s.client.Get(ctx, s.dataKey(executionID)).Bytes()
	if err == redis.Nil {
		return nil, types.NewErrorf(types.ErrExecutionNotFound, "execution %q not found", executionID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to load execution record").WithCause(err)
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to decode execution record").WithCause(err)
	}
	return rec, nil
}

// Delete removes a record and its index entries.
func (s *RedisStore) Delete(ctx context.Context, executionID string) error {
	removed, err := s.client.Del(ctx, s.dataKey(executionID)).Result()
	if err != nil {
		return types.NewError(types.ErrStoreError, "failed to delete execution record").WithCause(err)
	}
	if removed == 0 {
		return types.NewErrorf(types.ErrExecutionNotFound, "execution %q not found", executionID)
	}
	pipe := s.client.TxPipeline()
	for _, st := range allStatuses {
		pipe.SRem(ctx, s.statusKey(st), executionID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return types.NewError(types.ErrStoreError, "failed to deindex execution record").WithCause(err)
	}
	return nil
}

// ListSuspended returns all SUSPENDED executions.
func (s *RedisStore) ListSuspended(ctx context.Context) ([]*Record, error) {
	ids, err := s.client.SMembers(ctx, s.statusKey(types.StatusSuspended)).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "failed to list suspended executions").WithCause(err)
	}
	var out []*Record
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if types.IsErrorCode(err, types.ErrExecutionNotFound) {
				// stale index entry
				s.client.SRem(ctx, s.statusKey(types.StatusSuspended), id)
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Cleanup removes terminal executions older than the given duration.
func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, st := range allStatuses {
		if !st.IsTerminal() {
			continue
		}
		ids, err := s.client.SMembers(ctx, s.statusKey(st)).Result()
		if err != nil {
			return removed, types.NewError(types.ErrStoreError, "failed to scan terminal executions").WithCause(err)
		}
		for _, id := range ids {
			rec, err := s.Get(ctx, id)
			if err != nil {
				if types.IsErrorCode(err, types.ErrExecutionNotFound) {
					s.client.SRem(ctx, s.statusKey(st), id)
					continue
				}
				return removed, err
			}
			completed := rec.Execution.UpdatedAt
			if rec.Execution.CompletedAt != nil {
				completed = *rec.Execution.CompletedAt
			}
			if completed.Before(cutoff) {
				if err := s.Delete(ctx, id); err != nil && !types.IsErrorCode(err, types.ErrExecutionNotFound) {
					return removed, err
				}
				removed++
			}
		}
	}
	return removed, nil
}

// Stats returns per-status counts from the index sets.
func (s *RedisStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{ByStatus: make(map[types.ExecutionStatus]int64)}
	for _, st := range allStatuses {
		n, err := s.client.SCard(ctx, s.statusKey(st)).Result()
		if err != nil {
			return nil, types.NewError(types.ErrStoreError, "failed to count executions").WithCause(err)
		}
		if n > 0 {
			stats.ByStatus[st] = n
			stats.Total += n
		}
	}
	return stats, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
