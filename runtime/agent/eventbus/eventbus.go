// Package eventbus provides the per-run, append-only, totally ordered event
// log consumed by HTTP clients via cursor polling and live streaming.
package eventbus

import (
	"context"
	"time"

	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

// EventType enumerates every event kind the scheduler emits.
type EventType string

const (
	EventTopologyCreated    EventType = "topology_created"
	EventExecutionStarted   EventType = "execution_started"
	EventTeamStarted        EventType = "team_started"
	EventTeamCompleted      EventType = "team_completed"
	EventWorkerStarted      EventType = "worker_started"
	EventWorkerCompleted    EventType = "worker_completed"
	EventExecutionCompleted EventType = "execution_completed"
	EventError              EventType = "error"
	EventSupervisorFallback EventType = "supervisor_fallback"
	EventEventsDropped      EventType = "events_dropped"
)

// IsTerminal reports whether t ends a run's event stream: exactly one of
// execution_completed/error is the last event in any run's log.
func (t EventType) IsTerminal() bool {
	return t == EventExecutionCompleted || t == EventError
}

// TopologyMetadata correlates an event with the topology node it concerns.
// Any subset of the three fields may be set depending on the event's scope.
type TopologyMetadata struct {
	TeamID       topology.TeamID       `json:"team_id,omitempty"`
	SupervisorID topology.SupervisorID `json:"supervisor_id,omitempty"`
	WorkerID     topology.WorkerID     `json:"worker_id,omitempty"`
}

// Event is a single immutable run event. Bus implementations assign ID when
// appending; it is monotonically increasing and strictly ordered within a
// run, with no ordering guarantee across runs.
type Event struct {
	ID               int64            `json:"event_id"`
	RunID            string           `json:"run_id"`
	Type             EventType        `json:"event_type"`
	Timestamp        time.Time        `json:"timestamp"`
	Data             any              `json:"data,omitempty"`
	TopologyMetadata TopologyMetadata `json:"topology_metadata,omitempty"`
}

// Since is the result of a cursor-bounded read: every event with
// ID > cursor, the cursor to resume from, and whether the run has reached a
// terminal state as of the last event returned (or as of the bus's current
// state if Events is empty).
type Since struct {
	Events   []Event
	Cursor   int64
	Terminal bool
}

// Bus is a per-run append-only event log with multiple independent
// readers. Append never blocks producers; Since/Subscribe support both
// polling and live-streaming HTTP consumers.
type Bus interface {
	// Append assigns the next monotonic event ID, stores e, and returns
	// the assigned ID. Append never returns an error: it is an in-memory,
	// best-effort sink bounded by a ring buffer (see DefaultRingCapacity).
	Append(ctx context.Context, e Event) int64

	// SinceCursor returns every event with ID > cursor, in order.
	SinceCursor(ctx context.Context, cursor int64) Since

	// Subscribe returns a channel of events appended from now on, closed
	// once a terminal event has been delivered or ctx is done. Multiple
	// subscribers may coexist; a slow subscriber never blocks Append.
	Subscribe(ctx context.Context) <-chan Event
}

// DefaultRingCapacity bounds how many events a Bus retains per run before
// it starts dropping the oldest non-terminal events and emits a synthetic
// events_dropped marker in their place.
const DefaultRingCapacity = 10000
