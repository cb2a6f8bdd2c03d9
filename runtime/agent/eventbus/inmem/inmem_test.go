package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvus-labs/swarmd/runtime/agent/eventbus"
)

func TestBusAppendAndSinceCursor(t *testing.T) {
	t.Parallel()

	b := New("run-1", 0)
	ctx := context.Background()

	for _, typ := range []eventbus.EventType{eventbus.EventTopologyCreated, eventbus.EventExecutionStarted, eventbus.EventExecutionCompleted} {
		id := b.Append(ctx, eventbus.Event{Type: typ})
		require.Greater(t, id, int64(0))
	}

	since := b.SinceCursor(ctx, 0)
	require.Len(t, since.Events, 3)
	require.Equal(t, int64(1), since.Events[0].ID)
	require.Equal(t, int64(2), since.Events[1].ID)
	require.Equal(t, int64(3), since.Events[2].ID)
	require.True(t, since.Terminal)

	idempotent := b.SinceCursor(ctx, since.Cursor)
	require.Empty(t, idempotent.Events)
	require.True(t, idempotent.Terminal)
}

func TestBusOverflowEvictsAndMarks(t *testing.T) {
	t.Parallel()

	b := New("run-1", 2)
	ctx := context.Background()

	b.Append(ctx, eventbus.Event{Type: eventbus.EventTeamStarted})
	b.Append(ctx, eventbus.Event{Type: eventbus.EventWorkerStarted})
	b.Append(ctx, eventbus.Event{Type: eventbus.EventWorkerCompleted})

	require.Equal(t, int64(1), b.Dropped())

	since := b.SinceCursor(ctx, 0)
	var sawMarker bool
	for _, e := range since.Events {
		if e.Type == eventbus.EventEventsDropped {
			sawMarker = true
		}
	}
	require.True(t, sawMarker, "expected an events_dropped marker after overflow")
}

func TestBusSubscribeClosesOnTerminal(t *testing.T) {
	t.Parallel()

	b := New("run-1", 0)
	ctx := context.Background()
	ch := b.Subscribe(ctx)

	b.Append(ctx, eventbus.Event{Type: eventbus.EventTopologyCreated})
	require.Equal(t, eventbus.EventTopologyCreated, (<-ch).Type)

	b.Append(ctx, eventbus.Event{Type: eventbus.EventExecutionCompleted})
	require.Equal(t, eventbus.EventExecutionCompleted, (<-ch).Type)

	_, ok := <-ch
	require.False(t, ok, "expected channel closed after terminal event")
}
