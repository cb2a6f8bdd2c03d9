package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvus-labs/swarmd/runtime/agent/model"
	"github.com/corvus-labs/swarmd/runtime/agent/model/stub"
)

// sequencedClient answers successive Invoke calls from Texts in order,
// repeating the last entry once exhausted. Used where model/stub's
// substring matching can't disambiguate two prompts where one is a prefix
// of the other, as happens across rounds of the worker's tool-use loop.
type sequencedClient struct {
	Texts []string
	calls int
}

func (c *sequencedClient) Invoke(_ context.Context, prompt string, _ model.Params) (string, model.Usage, error) {
	i := c.calls
	if i >= len(c.Texts) {
		i = len(c.Texts) - 1
	}
	c.calls++
	return c.Texts[i], model.Usage{}, nil
}

func (c *sequencedClient) InvokeStructured(context.Context, string, []model.Candidate, model.Params) (int, string, error) {
	return 0, "", errors.New("sequencedClient: InvokeStructured not supported")
}

func TestRunSingleInvocation(t *testing.T) {
	t.Parallel()
	client := stub.New(map[string]stub.Response{"Task:\nsummarize": {Text: "done"}})
	w, err := New(Config{Name: "W1", Role: "writer", SystemPrompt: "p"}, client, nil)
	require.NoError(t, err)

	out, err := w.Run(context.Background(), "summarize", "")
	require.NoError(t, err)
	require.Equal(t, "done", out.Text)
	require.Zero(t, out.ToolsCalled)
}

func TestRunBlankTaskRejected(t *testing.T) {
	t.Parallel()
	w, err := New(Config{Name: "W1", Role: "writer", SystemPrompt: "p"}, stub.New(nil), nil)
	require.NoError(t, err)

	_, err = w.Run(context.Background(), "   ", "")
	require.Error(t, err)
}

func TestNewRequiresClientAndName(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Name: "W1"}, nil, nil)
	require.Error(t, err)

	_, err = New(Config{}, stub.New(nil), nil)
	require.Error(t, err)
}

func TestRunPropagatesModelError(t *testing.T) {
	t.Parallel()
	client := stub.New(map[string]stub.Response{"Task:\nsummarize": {Err: errors.New("boom")}})
	w, err := New(Config{Name: "W1", Role: "writer", SystemPrompt: "p"}, client, nil)
	require.NoError(t, err)

	_, err = w.Run(context.Background(), "summarize", "")
	require.Error(t, err)
}

// toolExecutor is a minimal ToolExecutor test double that answers every
// call with a fixed observation.
type toolExecutor struct {
	calls int
}

func (e *toolExecutor) Execute(_ context.Context, call ToolCall) (ToolResult, error) {
	e.calls++
	return ToolResult{Output: "fake result for " + call.Name}, nil
}

func TestRunToolUseLoopRecoversToFinalAnswer(t *testing.T) {
	t.Parallel()
	client := &sequencedClient{Texts: []string{"TOOL_CALL: search query", "final answer"}}
	exec := &toolExecutor{}
	w, err := New(Config{Name: "W1", Role: "writer", SystemPrompt: "p", Tools: []string{"search"}}, client, exec)
	require.NoError(t, err)

	out, err := w.Run(context.Background(), "lookup", "")
	require.NoError(t, err)
	require.Equal(t, "final answer", out.Text)
	require.Equal(t, 1, out.ToolsCalled)
	require.Equal(t, 1, exec.calls)
}

func TestRunExceedsMaxIterationsWithoutFinalAnswer(t *testing.T) {
	t.Parallel()
	client := stub.New(map[string]stub.Response{
		"lookup": {Text: "TOOL_CALL: search query"},
	})
	exec := &toolExecutor{}
	w, err := New(Config{Name: "W1", Role: "writer", SystemPrompt: "p", Tools: []string{"search"}, MaxIterations: 2}, client, exec)
	require.NoError(t, err)

	_, err = w.Run(context.Background(), "lookup", "")
	require.Error(t, err)
	require.Equal(t, 2, exec.calls)
}

func TestRunWithSharedContextFoldedIntoPrompt(t *testing.T) {
	t.Parallel()
	client := stub.New(map[string]stub.Response{"Shared context:\nprior output": {Text: "done"}})
	w, err := New(Config{Name: "W1", Role: "writer", SystemPrompt: "p"}, client, nil)
	require.NoError(t, err)

	out, err := w.Run(context.Background(), "summarize", "prior output")
	require.NoError(t, err)
	require.Equal(t, "done", out.Text)
}
