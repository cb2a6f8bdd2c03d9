// Package runregistry tracks run lifecycle state: pending/running/
// completed/failed, the final result or error, and a reference to the
// run's event bus. It is the only other piece of cross-subtask shared
// state besides eventbus.Bus.
package runregistry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/corvus-labs/swarmd/runtime/agent/eventbus"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

// Status is the coarse-grained lifecycle state of a run. Status transitions
// only move forward along pending -> running -> (completed | failed); there
// are no back-edges.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound indicates no run record exists for the given ID.
var ErrNotFound = errors.New("runregistry: run not found")

// Run is the durable (for the retention window) record of one execution of
// a Topology against a task.
type Run struct {
	RunID        string
	HierarchyID  string
	Task         string
	Status       Status
	Topology     *topology.Topology
	Result       string
	Error        *ErrorDetail
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TerminatedAt time.Time
}

// ErrorDetail is the structured failure recorded on a failed run.
type ErrorDetail struct {
	Kind    string
	Message string
	Details string // populated only in DEBUG mode by the HTTP layer
}

// Store persists Run records. Registry wraps a Store with the retention
// sweeper and convenience setters; implementations of Store only need to
// provide storage primitives.
type Store interface {
	Create(ctx context.Context, r Run) error
	Get(ctx context.Context, runID string) (Run, error)
	List(ctx context.Context, page, size int) ([]Run, int, error)
	Update(ctx context.Context, runID string, fn func(*Run)) error
	Delete(ctx context.Context, runID string) error
	// AllIDs returns every stored run ID, used by the retention sweeper.
	AllIDs(ctx context.Context) ([]string, error)
}

// Registry is the RunRegistry capability: Create/Get/List/SetStatus/
// SetResult/SetError plus the event bus a run is bound to.
type Registry struct {
	store     Store
	retention time.Duration

	mu    sync.Mutex
	buses map[string]eventbus.Bus

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// DefaultRetention is how long a completed run's record is kept before
// the sweeper reclaims it.
const DefaultRetention = time.Hour

// New builds a Registry over store whose sweeper, once StartSweeper is
// called, removes terminated runs older than retention (DefaultRetention
// when retention <= 0). New itself starts no sweeping.
func New(store Store, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		store:     store,
		retention: retention,
		buses:     make(map[string]eventbus.Bus),
		stopSweep: make(chan struct{}),
	}
}

// Create registers a new pending run and binds it to bus.
func (r *Registry) Create(ctx context.Context, run Run, bus eventbus.Bus) error {
	now := time.Now()
	run.Status = StatusPending
	run.CreatedAt = now
	run.UpdatedAt = now
	if err := r.store.Create(ctx, run); err != nil {
		return err
	}
	r.mu.Lock()
	r.buses[run.RunID] = bus
	r.mu.Unlock()
	return nil
}

// Get returns the run record for runID.
func (r *Registry) Get(ctx context.Context, runID string) (Run, error) {
	return r.store.Get(ctx, runID)
}

// Bus returns the event bus bound to runID, or false if the run is unknown
// (already swept, or never created).
func (r *Registry) Bus(runID string) (eventbus.Bus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buses[runID]
	return b, ok
}

// List returns a page of runs, most recently created first, plus the total
// count across all runs.
func (r *Registry) List(ctx context.Context, page, size int) ([]Run, int, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return r.store.List(ctx, page, size)
}

// SetStatus sets the run's status to status. Call sites only ever move the
// run forward; the scheduler enters RUNNING once on execution_started.
func (r *Registry) SetStatus(ctx context.Context, runID string, status Status) error {
	return r.store.Update(ctx, runID, func(run *Run) {
		run.Status = status
		run.UpdatedAt = time.Now()
	})
}

// SetResult marks run completed with the given synthesis result.
func (r *Registry) SetResult(ctx context.Context, runID, result string) error {
	return r.store.Update(ctx, runID, func(run *Run) {
		run.Status = StatusCompleted
		run.Result = result
		now := time.Now()
		run.UpdatedAt = now
		run.TerminatedAt = now
	})
}

// SetError marks run failed with the given error detail.
func (r *Registry) SetError(ctx context.Context, runID string, detail ErrorDetail) error {
	return r.store.Update(ctx, runID, func(run *Run) {
		run.Status = StatusFailed
		run.Error = &detail
		now := time.Now()
		run.UpdatedAt = now
		run.TerminatedAt = now
	})
}

// StartSweeper launches the retention sweeper goroutine, which removes
// terminated runs older than the registry's retention window once per
// interval. Call Stop to halt it. Safe to call at most once per Registry.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopSweep:
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop halts the retention sweeper started by StartSweeper.
func (r *Registry) Stop() {
	r.sweepOnce.Do(func() { close(r.stopSweep) })
}

func (r *Registry) sweep(ctx context.Context) {
	ids, err := r.store.AllIDs(ctx)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-r.retention)
	for _, id := range ids {
		run, err := r.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if run.TerminatedAt.IsZero() || run.TerminatedAt.After(cutoff) {
			continue
		}
		_ = r.store.Delete(ctx, id)
		r.mu.Lock()
		delete(r.buses, id)
		r.mu.Unlock()
	}
}
