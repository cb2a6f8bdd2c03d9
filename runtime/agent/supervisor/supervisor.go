// Package supervisor implements the routing/selection layer: given a task
// and a set of candidates, ask a model.Client which one runs next, with
// structured parsing, numbered-menu retries, and a deterministic fallback.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/corvus-labs/swarmd/runtime/agent/model"
)

// MaxRetries bounds how many reformulated-prompt attempts SelectOne makes
// after the first selection attempt fails to parse.
const MaxRetries = 2

// ErrEmptyCandidates is returned when SelectOne/SelectOneStructured is
// called with no candidates.
var ErrEmptyCandidates = errors.New("supervisor: no candidates provided")

// ErrEmptyTask is returned when the task text is blank.
var ErrEmptyTask = errors.New("supervisor: task is blank")

// Supervisor routes a task to the best of a set of named candidates (team
// names, worker names, or the FINISH sentinel) using a model.Client.
type Supervisor struct {
	client       model.Client
	systemPrompt string
}

// New builds a Supervisor that renders systemPrompt ahead of every
// selection prompt.
func New(client model.Client, systemPrompt string) (*Supervisor, error) {
	if client == nil {
		return nil, errors.New("supervisor: model client is required")
	}
	return &Supervisor{client: client, systemPrompt: systemPrompt}, nil
}

// Result is the outcome of a selection, including whether the supervisor
// had to fall back to the first candidate after exhausting retries.
type Result struct {
	Name      string
	Reasoning string
	Fallback  bool
}

// SelectOne picks the best candidate for task. It never returns an error
// for an unparsable model response: after MaxRetries reformulated attempts
// it falls back deterministically to the first candidate and sets
// Result.Fallback. It does return ErrEmptyCandidates/ErrEmptyTask, which
// are caller bugs, not model-selection failures.
func (s *Supervisor) SelectOne(ctx context.Context, task string, candidates []model.Candidate) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrEmptyCandidates
	}
	if strings.TrimSpace(task) == "" {
		return Result{}, ErrEmptyTask
	}

	prompt := s.renderPrompt(task, candidates)
	text, _, err := s.client.Invoke(ctx, prompt, model.Params{System: s.systemPrompt, MaxTokens: 512})
	if err == nil {
		if name, ok := match(text, candidates); ok {
			return Result{Name: name, Reasoning: text}, nil
		}
		if sel, ok := extractSelected(text); ok {
			if name, ok := match(sel, candidates); ok {
				return Result{Name: name, Reasoning: extractReasoning(text)}, nil
			}
		}
	}

	for attempt := 0; attempt < MaxRetries; attempt++ {
		menu := s.renderMenu(task, candidates)
		text, _, err := s.client.Invoke(ctx, menu, model.Params{System: s.systemPrompt, MaxTokens: 128})
		if err != nil {
			continue
		}
		if idx, ok := parseMenuIndex(text, len(candidates)); ok {
			return Result{Name: candidates[idx].Name, Reasoning: text}, nil
		}
	}

	return Result{Name: candidates[0].Name, Fallback: true}, nil
}

// SelectOneStructured is SelectOne's strict form: it prompts for a
// "SELECTED: <name>" / "REASONING:" pair and reports the parsed reasoning
// alongside the name, without the numbered-menu retry fallback.
func (s *Supervisor) SelectOneStructured(ctx context.Context, task string, candidates []model.Candidate) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrEmptyCandidates
	}
	if strings.TrimSpace(task) == "" {
		return Result{}, ErrEmptyTask
	}
	choiceIdx, reasoning, err := s.client.InvokeStructured(ctx, s.renderPrompt(task, candidates), candidates, model.Params{System: s.systemPrompt, MaxTokens: 512})
	if err != nil {
		return Result{}, err
	}
	return Result{Name: candidates[choiceIdx].Name, Reasoning: reasoning}, nil
}

func (s *Supervisor) renderPrompt(task string, candidates []model.Candidate) string {
	var sb strings.Builder
	if s.systemPrompt != "" {
		sb.WriteString(s.systemPrompt)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Task:\n%s\n\nCandidates:\n", task)
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- %s", c.Name)
		if c.Description != "" {
			fmt.Fprintf(&sb, ": %s", c.Description)
		}
		if len(c.Capabilities) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(c.Capabilities, ", "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond with SELECTED: <name> and a REASONING: block.\n")
	return sb.String()
}

func (s *Supervisor) renderMenu(task string, candidates []model.Candidate) string {
	var sb strings.Builder
	if s.systemPrompt != "" {
		sb.WriteString(s.systemPrompt)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Task:\n%s\n\nChoose the single best number:\n", task)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c.Name)
	}
	return sb.String()
}

// match resolves text against candidates: exact match first, then a
// case-folded, trimmed unique prefix/substring match.
func match(text string, candidates []model.Candidate) (string, bool) {
	trimmed := strings.TrimSpace(text)
	for _, c := range candidates {
		if c.Name == trimmed {
			return c.Name, true
		}
	}
	folded := strings.ToLower(trimmed)
	var found string
	matches := 0
	for _, c := range candidates {
		name := strings.ToLower(c.Name)
		if name == folded || strings.Contains(folded, name) || strings.Contains(name, folded) {
			found = c.Name
			matches++
		}
	}
	if matches == 1 {
		return found, true
	}
	return "", false
}

// extractSelected parses a "SELECTED: X" line, tolerating case and
// surrounding whitespace.
func extractSelected(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		lower := strings.ToLower(l)
		if strings.HasPrefix(lower, "selected:") {
			return strings.TrimSpace(l[len("selected:"):]), true
		}
	}
	return "", false
}

// extractReasoning parses a "REASONING:" block, returning everything after
// the header.
func extractReasoning(text string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "reasoning:")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(text[idx+len("reasoning:"):])
}

// parseMenuIndex extracts a single 1-based integer from text and converts
// it to a zero-based index, bounded by n candidates.
func parseMenuIndex(text string, n int) (int, bool) {
	for _, field := range strings.Fields(text) {
		cleaned := strings.TrimFunc(field, func(r rune) bool { return r < '0' || r > '9' })
		if cleaned == "" {
			continue
		}
		v, err := strconv.Atoi(cleaned)
		if err != nil {
			continue
		}
		if v >= 1 && v <= n {
			return v - 1, true
		}
	}
	return 0, false
}

// WithFinish appends the FINISH sentinel to a candidate list so every
// supervisor selection menu includes an early-termination option.
func WithFinish(candidates []model.Candidate, description string) []model.Candidate {
	out := make([]model.Candidate, 0, len(candidates)+1)
	out = append(out, candidates...)
	out = append(out, model.Candidate{Name: "FINISH", Description: description})
	return out
}
