package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvus-labs/swarmd/runtime/agent/model"
	"github.com/corvus-labs/swarmd/runtime/agent/model/stub"
)

func candidates(names ...string) []model.Candidate {
	out := make([]model.Candidate, len(names))
	for i, n := range names {
		out[i] = model.Candidate{Name: n}
	}
	return out
}

func TestSelectOneExactMatch(t *testing.T) {
	t.Parallel()
	client := stub.New(map[string]stub.Response{"pick one": {Text: "B"}})
	sup, err := New(client, "")
	require.NoError(t, err)

	res, err := sup.SelectOne(context.Background(), "pick one", candidates("A", "B"))
	require.NoError(t, err)
	require.Equal(t, "B", res.Name)
	require.False(t, res.Fallback)
}

func TestSelectOneSelectedPrefix(t *testing.T) {
	t.Parallel()
	client := stub.New(map[string]stub.Response{"pick one": {Text: "SELECTED: A\nREASONING: because"}})
	sup, err := New(client, "")
	require.NoError(t, err)

	res, err := sup.SelectOne(context.Background(), "pick one", candidates("A", "B"))
	require.NoError(t, err)
	require.Equal(t, "A", res.Name)
	require.Equal(t, "because", res.Reasoning)
}

func TestSelectOneFallsBackAfterUnparsableResponses(t *testing.T) {
	t.Parallel()
	client := stub.New(map[string]stub.Response{"pick one": {Text: "unsure"}})
	sup, err := New(client, "")
	require.NoError(t, err)

	res, err := sup.SelectOne(context.Background(), "pick one", candidates("A", "B"))
	require.NoError(t, err)
	require.Equal(t, "A", res.Name)
	require.True(t, res.Fallback)
}

func TestSelectOneEmptyCandidates(t *testing.T) {
	t.Parallel()
	sup, err := New(stub.New(nil), "")
	require.NoError(t, err)

	_, err = sup.SelectOne(context.Background(), "task", nil)
	require.ErrorIs(t, err, ErrEmptyCandidates)
}

func TestSelectOneBlankTask(t *testing.T) {
	t.Parallel()
	sup, err := New(stub.New(nil), "")
	require.NoError(t, err)

	_, err = sup.SelectOne(context.Background(), "   ", candidates("A"))
	require.ErrorIs(t, err, ErrEmptyTask)
}

func TestWithFinishAppendsSentinel(t *testing.T) {
	t.Parallel()
	out := WithFinish(candidates("A"), "stop")
	require.Len(t, out, 2)
	require.Equal(t, "FINISH", out[1].Name)
	require.Equal(t, "stop", out[1].Description)
}
