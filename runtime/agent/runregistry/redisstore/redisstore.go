// Package redisstore is an optional runregistry.Store backed by
// github.com/redis/go-redis/v9, letting run state survive a process
// restart without changing the Store contract. Run records are stored as
// JSON blobs keyed by a configurable prefix, with a sorted set tracking
// creation order for List/AllIDs.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
)

// Store implements runregistry.Store over a Redis client.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New builds a Store. prefix namespaces keys (e.g. "swarmd:runs"); it
// defaults to "swarmd:run" when empty.
func New(rdb *redis.Client, prefix string) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redisstore: redis client is required")
	}
	if prefix == "" {
		prefix = "swarmd:run"
	}
	return &Store{rdb: rdb, prefix: prefix}, nil
}

func (s *Store) key(runID string) string { return s.prefix + ":" + runID }
func (s *Store) orderKey() string        { return s.prefix + ":order" }

// Create implements runregistry.Store.
func (s *Store) Create(ctx context.Context, r runregistry.Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redisstore: marshal run: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key(r.RunID), data, 0)
	pipe.ZAdd(ctx, s.orderKey(), redis.Z{Score: float64(r.CreatedAt.UnixNano()), Member: r.RunID})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: create run %q: %w", r.RunID, err)
	}
	return nil
}

// Get implements runregistry.Store.
func (s *Store) Get(ctx context.Context, runID string) (runregistry.Run, error) {
	data, err := s.rdb.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return runregistry.Run{}, runregistry.ErrNotFound
	}
	if err != nil {
		return runregistry.Run{}, fmt.Errorf("redisstore: get run %q: %w", runID, err)
	}
	var r runregistry.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return runregistry.Run{}, fmt.Errorf("redisstore: unmarshal run %q: %w", runID, err)
	}
	return r, nil
}

// List implements runregistry.Store, most-recently-created first.
func (s *Store) List(ctx context.Context, page, size int) ([]runregistry.Run, int, error) {
	total, err := s.rdb.ZCard(ctx, s.orderKey()).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redisstore: count runs: %w", err)
	}
	start := int64((page - 1) * size)
	if start >= total || start < 0 {
		return nil, int(total), nil
	}
	stop := start + int64(size) - 1

	ids, err := s.rdb.ZRevRange(ctx, s.orderKey(), start, stop).Result()
	if err != nil {
		return nil, int(total), fmt.Errorf("redisstore: page runs: %w", err)
	}

	runs := make([]runregistry.Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, runregistry.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, int(total), err
		}
		runs = append(runs, r)
	}
	return runs, int(total), nil
}

// Update implements runregistry.Store. Redis has no equivalent of a local
// mutex across processes, so this uses optimistic WATCH/MULTI/EXEC around
// the single key being updated.
func (s *Store) Update(ctx context.Context, runID string, fn func(*runregistry.Run)) error {
	key := s.key(runID)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return runregistry.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redisstore: watch get run %q: %w", runID, err)
		}
		var r runregistry.Run
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("redisstore: unmarshal run %q: %w", runID, err)
		}
		fn(&r)
		updated, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("redisstore: marshal run %q: %w", runID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
}

// Delete implements runregistry.Store.
func (s *Store) Delete(ctx context.Context, runID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.key(runID))
	pipe.ZRem(ctx, s.orderKey(), runID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: delete run %q: %w", runID, err)
	}
	return nil
}

// AllIDs implements runregistry.Store, used by the retention sweeper.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list run ids: %w", err)
	}
	return ids, nil
}
