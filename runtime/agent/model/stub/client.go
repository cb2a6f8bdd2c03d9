// Package stub provides a deterministic, table-driven model.Client used by
// tests and by cmd/swarmd demo. It never calls a real provider.
package stub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/corvus-labs/swarmd/runtime/agent/model"
)

// Response describes one scripted reply. Text is returned from Invoke
// verbatim; ChoiceName (or Text when ChoiceName is empty), matched
// case-insensitively against the candidates passed to InvokeStructured,
// selects the InvokeStructured result. With FailCount 0, a non-nil Err is
// returned on every call. With FailCount > 0, the first FailCount calls fail
// with Err, or, when Err is nil, with a synthesized ProviderError that is
// retryable only if Transient is true; later calls succeed.
type Response struct {
	Text       string
	ChoiceName string
	Err        error
	Transient  bool
	FailCount  int // number of leading calls that return Err before Text/ChoiceName succeeds
}

// Client is a scripted model.Client. A call uses the first script entry
// whose key is a substring of the prompt, trying keys in Go's unspecified
// map iteration order; entries are reused without limit. A call with no
// match returns an error so
// tests fail loudly instead of silently proceeding with an empty response.
type Client struct {
	mu     sync.Mutex
	script map[string]*scriptedEntry
	calls  atomic.Int64
}

type scriptedEntry struct {
	resp Response
	seen int
}

// New builds a Client from a map of prompt-substring key to scripted
// Response. Keys are matched in the order returned by iterating the calling
// code's construction, but since Go maps have no stable order, callers that
// need overlapping keys should use distinct, unambiguous substrings.
func New(script map[string]Response) *Client {
	c := &Client{script: make(map[string]*scriptedEntry, len(script))}
	for k, v := range script {
		entry := v
		c.script[k] = &scriptedEntry{resp: entry}
	}
	return c
}

// Calls reports the total number of Invoke/InvokeStructured calls made so
// far, for tests asserting retry counts.
func (c *Client) Calls() int64 { return c.calls.Load() }

func (c *Client) Invoke(_ context.Context, prompt string, _ model.Params) (string, model.Usage, error) {
	c.calls.Add(1)
	entry, err := c.match(prompt)
	if err != nil {
		return "", model.Usage{}, err
	}
	if resp, failing := c.consume(entry); failing {
		return "", model.Usage{}, resp
	}
	return entry.resp.Text, model.Usage{PromptTokens: len(prompt), CompletionTokens: len(entry.resp.Text)}, nil
}

func (c *Client) InvokeStructured(_ context.Context, prompt string, choices []model.Candidate, _ model.Params) (int, string, error) {
	c.calls.Add(1)
	if len(choices) == 0 {
		return 0, "", model.ErrEmptyChoices
	}
	entry, err := c.match(prompt)
	if err != nil {
		return 0, "", err
	}
	if resp, failing := c.consume(entry); failing {
		return 0, "", resp
	}
	name := entry.resp.ChoiceName
	if name == "" {
		name = entry.resp.Text
	}
	for i, ch := range choices {
		if strings.EqualFold(ch.Name, name) {
			return i, "stub selection", nil
		}
	}
	return 0, "", fmt.Errorf("stub: scripted choice %q not among %d candidates", name, len(choices))
}

func (c *Client) match(prompt string) (*scriptedEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.script {
		if strings.Contains(prompt, key) {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("stub: no scripted response matches prompt: %q", truncate(prompt, 120))
}

// consume advances the entry's call counter and reports whether this call
// should fail (true) along with the error to fail with.
func (c *Client) consume(entry *scriptedEntry) (error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.seen++
	if entry.seen <= entry.resp.FailCount {
		if entry.resp.Err != nil {
			return entry.resp.Err, true
		}
		return model.NewProviderError("stub", "invoke", 0, model.ProviderErrorKindUnavailable, "", "scripted transient failure", "", entry.resp.Transient, nil), true
	}
	if entry.resp.Err != nil && entry.resp.FailCount == 0 {
		return entry.resp.Err, true
	}
	return nil, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
