// Package model defines the provider-agnostic capability consumed by
// workers and supervisors: invoke an LLM with a prompt and get back text,
// or ask it to pick among a fixed set of candidates. Provider adapters
// (Anthropic, OpenAI, Bedrock) implement Client; the orchestration core
// treats it opaquely.
package model

import (
	"context"
	"errors"
)

// Params bounds a single Invoke/InvokeStructured call.
type Params struct {
	Temperature   float64
	MaxTokens     int
	StopSequences []string
	System        string
}

// Usage reports token accounting for a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Candidate is one option offered to InvokeStructured.
type Candidate struct {
	Name         string
	Description  string
	Capabilities []string
}

// Client is the capability abstraction every provider adapter implements.
// Invoke performs a plain text completion; InvokeStructured constrains the
// model to choose among candidates and returns the chosen index.
type Client interface {
	// Invoke performs a synchronous text completion.
	Invoke(ctx context.Context, prompt string, params Params) (text string, usage Usage, err error)

	// InvokeStructured asks the model to pick one of choices and optionally
	// explain why. The returned index is always a valid index into choices
	// when err is nil.
	InvokeStructured(ctx context.Context, prompt string, choices []Candidate, params Params) (choiceIndex int, reasoning string, err error)
}

// ErrorClass is the coarse retry classification every provider error maps
// onto: Transient failures are safe to retry, Permanent ones are not.
type ErrorClass int

const (
	// ClassPermanent is the zero value so an unclassified error defaults to
	// the safer non-retrying behavior.
	ClassPermanent ErrorClass = iota
	ClassTransient
)

// Classify inspects err and reports whether callers should retry it. A
// *ProviderError reports its own retryability; any other error (including
// context errors) is treated as Permanent.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Retryable() {
		return ClassTransient
	}
	return ClassPermanent
}

// ErrEmptyChoices is returned by InvokeStructured implementations when
// called with no candidates.
var ErrEmptyChoices = errors.New("model: no choices provided")
