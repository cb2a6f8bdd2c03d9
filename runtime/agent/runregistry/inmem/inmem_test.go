package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
)

func TestStoreCreateGetUpdate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, runregistry.Run{RunID: "r1", Task: "hello"}))

	r, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "hello", r.Task)

	require.NoError(t, s.Update(ctx, "r1", func(run *runregistry.Run) {
		run.Status = runregistry.StatusRunning
	}))
	r, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, runregistry.StatusRunning, r.Status)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, runregistry.ErrNotFound)
}

func TestStoreListOrderAndPaging(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.Create(ctx, runregistry.Run{RunID: id}))
	}

	page, total, err := s.List(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	require.Equal(t, "r3", page[0].RunID, "expected most-recently-created first")
	require.Equal(t, "r2", page[1].RunID)

	page2, _, err := s.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	require.Equal(t, "r1", page2[0].RunID)
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, runregistry.Run{RunID: "r1"}))
	require.NoError(t, s.Delete(ctx, "r1"))
	_, err := s.Get(ctx, "r1")
	require.ErrorIs(t, err, runregistry.ErrNotFound)
}
