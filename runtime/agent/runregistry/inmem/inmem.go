// Package inmem provides an in-memory implementation of runregistry.Store
// for tests, the demo CLI, and single-process deployments. Records do not
// survive a process restart; use runregistry/redisstore for that.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
)

// Store implements runregistry.Store in memory. All operations are
// thread-safe via sync.RWMutex; records are defensively copied on read and
// write to prevent accidental mutation of stored data.
type Store struct {
	mu      sync.RWMutex
	records map[string]runregistry.Run
	order   []string // insertion order, most recent last
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]runregistry.Run)}
}

// Create implements runregistry.Store.
func (s *Store) Create(_ context.Context, r runregistry.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.RunID]; exists {
		return fmt.Errorf("runregistry: run %q already exists", r.RunID)
	}
	s.records[r.RunID] = r
	s.order = append(s.order, r.RunID)
	return nil
}

// Get implements runregistry.Store.
func (s *Store) Get(_ context.Context, runID string) (runregistry.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[runID]
	if !ok {
		return runregistry.Run{}, runregistry.ErrNotFound
	}
	return r, nil
}

// List implements runregistry.Store, returning runs most-recently-created
// first.
func (s *Store) List(_ context.Context, page, size int) ([]runregistry.Run, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.order)
	reversed := make([]string, total)
	for i, id := range s.order {
		reversed[total-1-i] = id
	}

	start := (page - 1) * size
	if start >= total || start < 0 {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}

	out := make([]runregistry.Run, 0, end-start)
	for _, id := range reversed[start:end] {
		out = append(out, s.records[id])
	}
	return out, total, nil
}

// Update implements runregistry.Store: it loads the record, applies fn, and
// stores the result, all under the write lock so concurrent updates never
// interleave.
func (s *Store) Update(_ context.Context, runID string, fn func(*runregistry.Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[runID]
	if !ok {
		return runregistry.ErrNotFound
	}
	fn(&r)
	s.records[runID] = r
	return nil
}

// Delete implements runregistry.Store.
func (s *Store) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// AllIDs implements runregistry.Store.
func (s *Store) AllIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	sort.Strings(ids)
	return ids, nil
}
