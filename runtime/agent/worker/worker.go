// Package worker executes one leaf subtask using a model.Client and an
// optional bounded tool-use loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/corvus-labs/swarmd/runtime/agent"
	"github.com/corvus-labs/swarmd/runtime/agent/model"
)

// DefaultMaxIterations bounds the worker's tool-use loop when
// Config.MaxIterations is unset. Without a ToolExecutor the loop ends after
// the first model call.
const DefaultMaxIterations = 5

// ToolCall describes one tool invocation the worker's loop wants executed.
type ToolCall struct {
	Name string
	Args string
}

// ToolResult is what a ToolExecutor hands back to the worker loop. When the
// underlying executor reports boundedness (e.g. it truncated a large
// listing), Bounds carries that metadata through to the worker's output so
// callers can warn on truncated tool context.
type ToolResult struct {
	Output string
	Bounds *agent.Bounds
}

// ToolExecutor runs one named tool call. Workers configured with Tools but
// no ToolExecutor never attempt to call a tool: Invoke is used directly.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}

// Config describes one worker's static configuration, materialized from a
// topology.WorkerNode.
type Config struct {
	ID            agent.Ident
	Name          string
	Role          string
	SystemPrompt  string
	Tools         []string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
}

// Output is what a successful Worker.Run produces.
type Output struct {
	Text        string
	TokensUsed  int
	ToolsCalled int
	Bounds      []agent.Bounds
}

// Worker executes a single leaf task. Workers are stateless: identical
// inputs against the same model.Client should produce deterministic-as-
// the-model-allows output across calls.
type Worker struct {
	cfg      Config
	client   model.Client
	executor ToolExecutor
}

// New builds a Worker bound to client. executor may be nil, in which case
// the worker never attempts a tool call even if cfg.Tools is non-empty.
func New(cfg Config, client model.Client, executor ToolExecutor) (*Worker, error) {
	if client == nil {
		return nil, errors.New("worker: model client is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("worker: name is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Worker{cfg: cfg, client: client, executor: executor}, nil
}

// Run produces a textual output for taskText. sharedContext, when
// non-empty, is a snippet of prior team output folded into the prompt
// ahead of the task. Errors propagate classified as model.ClassTransient
// or model.ClassPermanent per model.Classify so callers can retry
// accordingly.
func (w *Worker) Run(ctx context.Context, taskText, sharedContext string) (Output, error) {
	if strings.TrimSpace(taskText) == "" {
		return Output{}, errors.New("worker: task is required")
	}

	prompt := w.renderPrompt(taskText, sharedContext, nil)
	params := model.Params{
		Temperature: w.cfg.Temperature,
		MaxTokens:   w.cfg.MaxTokens,
		System:      w.cfg.SystemPrompt,
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = 1024
	}

	var out Output
	var toolLog []string
	for iter := 0; iter < w.cfg.MaxIterations; iter++ {
		text, usage, err := w.client.Invoke(ctx, prompt, params)
		if err != nil {
			return Output{}, err
		}
		out.TokensUsed += usage.PromptTokens + usage.CompletionTokens

		call, ok := parseToolCall(text)
		if !ok || w.executor == nil {
			out.Text = text
			return out, nil
		}

		result, err := w.executor.Execute(ctx, call)
		if err != nil {
			// A failing tool call is folded back into the prompt as an
			// observation rather than aborting the worker outright; the
			// model gets one more iteration to recover.
			toolLog = append(toolLog, fmt.Sprintf("TOOL %s ERROR: %v", call.Name, err))
		} else {
			out.ToolsCalled++
			if result.Bounds != nil {
				out.Bounds = append(out.Bounds, *result.Bounds)
			}
			toolLog = append(toolLog, fmt.Sprintf("TOOL %s RESULT: %s", call.Name, result.Output))
		}
		prompt = w.renderPrompt(taskText, sharedContext, toolLog)
	}

	return Output{}, fmt.Errorf("worker: exceeded max_iterations (%d) without a final answer", w.cfg.MaxIterations)
}

func (w *Worker) renderPrompt(taskText, sharedContext string, toolLog []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s\n\n", w.cfg.Role)
	if sharedContext != "" {
		fmt.Fprintf(&sb, "Shared context:\n%s\n\n", sharedContext)
	}
	fmt.Fprintf(&sb, "Task:\n%s\n", taskText)
	if len(toolLog) > 0 {
		sb.WriteString("\nTool observations so far:\n")
		for _, line := range toolLog {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// parseToolCall recognizes the worker loop's minimal tool-call convention:
// a response line of the form "TOOL_CALL: <name> <args>". Any other
// response is treated as the worker's final answer.
func parseToolCall(text string) (ToolCall, bool) {
	const prefix = "TOOL_CALL:"
	line := strings.TrimSpace(text)
	if !strings.HasPrefix(line, prefix) {
		return ToolCall{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	parts := strings.SplitN(rest, " ", 2)
	call := ToolCall{Name: parts[0]}
	if len(parts) == 2 {
		call.Args = parts[1]
	}
	return call, call.Name != ""
}
