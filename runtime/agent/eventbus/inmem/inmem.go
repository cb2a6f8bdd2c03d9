// Package inmem provides an in-memory, ring-buffered eventbus.Bus
// implementation for a single run. It is not durable: Bus instances are
// created per run and discarded with the run after its retention window.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/corvus-labs/swarmd/runtime/agent/eventbus"
)

// Bus implements eventbus.Bus in memory with a bounded ring buffer.
// Overflow drops the oldest non-terminal event and appends a synthetic
// events_dropped marker in its place.
type Bus struct {
	mu       sync.Mutex
	runID    string
	capacity int
	nextID   int64
	events   []eventbus.Event
	dropped  int64
	terminal bool

	subsMu sync.Mutex
	subs   map[int]chan eventbus.Event
	nextSub int
}

// New builds a Bus for one run, bounded by capacity events plus one
// events_dropped marker once anything has been dropped (DefaultRingCapacity
// when capacity <= 0).
func New(runID string, capacity int) *Bus {
	if capacity <= 0 {
		capacity = eventbus.DefaultRingCapacity
	}
	return &Bus{
		runID:    runID,
		capacity: capacity,
		subs:     make(map[int]chan eventbus.Event),
	}
}

// Append implements eventbus.Bus.
func (b *Bus) Append(_ context.Context, e eventbus.Event) int64 {
	b.mu.Lock()
	var toBroadcast []eventbus.Event

	if len(b.events) >= b.capacity {
		b.evictOldestLocked()
		if marker, ok := b.noteDropLocked(); ok {
			toBroadcast = append(toBroadcast, marker)
		}
	}

	id := b.appendLocked(e)
	toBroadcast = append(toBroadcast, b.events[len(b.events)-1])
	b.mu.Unlock()

	for _, ev := range toBroadcast {
		b.broadcast(ev)
	}
	return id
}

// appendLocked assigns the next monotonic ID and stores e. Callers hold b.mu.
func (b *Bus) appendLocked(e eventbus.Event) int64 {
	b.nextID++
	e.ID = b.nextID
	e.RunID = b.runID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Type.IsTerminal() {
		b.terminal = true
	}
	b.events = append(b.events, e)
	return e.ID
}

// evictOldestLocked drops the oldest non-terminal, non-marker event to
// make room. Callers hold b.mu.
func (b *Bus) evictOldestLocked() {
	for i := range b.events {
		if b.events[i].Type == eventbus.EventEventsDropped {
			continue
		}
		if !b.events[i].Type.IsTerminal() {
			b.events = append(b.events[:i], b.events[i+1:]...)
			b.dropped++
			return
		}
	}
	// Every retained event is terminal or a marker (shouldn't happen for
	// a well-formed run). Drop the oldest regardless rather than grow
	// unbounded.
	if len(b.events) > 0 {
		b.events = b.events[1:]
		b.dropped++
	}
}

// noteDropLocked coalesces repeated overflow into a single trailing
// events_dropped marker per run, updating its count in place rather than
// consuming a new ring slot on every subsequent drop. Callers hold b.mu.
// Returns the marker and true the first time one is created (so the
// caller can broadcast it); subsequent coalesced updates are reflected in
// SinceCursor reads but are not rebroadcast.
func (b *Bus) noteDropLocked() (eventbus.Event, bool) {
	for i := range b.events {
		if b.events[i].Type == eventbus.EventEventsDropped {
			b.events[i].Data = map[string]any{"dropped": b.dropped}
			return eventbus.Event{}, false
		}
	}
	id := b.appendLocked(eventbus.Event{
		Type: eventbus.EventEventsDropped,
		Data: map[string]any{"dropped": b.dropped},
	})
	for i := range b.events {
		if b.events[i].ID == id {
			return b.events[i], true
		}
	}
	return eventbus.Event{}, false
}

// SinceCursor implements eventbus.Bus.
func (b *Bus) SinceCursor(_ context.Context, cursor int64) eventbus.Since {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []eventbus.Event
	for _, e := range b.events {
		if e.ID > cursor {
			out = append(out, e)
		}
	}
	newCursor := cursor
	terminal := b.terminal && len(out) == 0
	if len(out) > 0 {
		newCursor = out[len(out)-1].ID
		terminal = out[len(out)-1].Type.IsTerminal()
	}
	return eventbus.Since{Events: out, Cursor: newCursor, Terminal: terminal}
}

// Subscribe implements eventbus.Bus. The returned channel is closed once a
// terminal event has been delivered to it or ctx is done, whichever comes
// first.
func (b *Bus) Subscribe(ctx context.Context) <-chan eventbus.Event {
	ch := make(chan eventbus.Event, 64)

	b.subsMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		b.removeSub(id)
	}()

	return ch
}

func (b *Bus) removeSub(id int) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// broadcast fans e out to every live subscriber without blocking Append; a
// subscriber whose buffer is full simply misses the live push (it can
// still catch up via SinceCursor).
func (b *Bus) broadcast(e eventbus.Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
		if e.Type.IsTerminal() {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Dropped reports how many events have been evicted from the ring buffer
// so far, for tests and diagnostics.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
