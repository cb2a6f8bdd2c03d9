// Package anthropicclient provides a model.Client implementation backed by
// the Anthropic Claude Messages API.
package anthropicclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/corvus-labs/swarmd/runtime/agent/model"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
}

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, defaultModel string) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropicclient: messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropicclient: default model is required")
	}
	return &Client{msg: msg, defaultModel: defaultModel}, nil
}

// NewFromAPIKey constructs a client reading ANTHROPIC_API_KEY conventions
// via the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropicclient: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, defaultModel)
}

// Invoke performs a single Messages.New call and returns the concatenated
// text content plus token usage.
func (c *Client) Invoke(ctx context.Context, prompt string, params model.Params) (string, model.Usage, error) {
	req := c.newParams(prompt, params)
	msg, err := c.msg.New(ctx, req)
	if err != nil {
		return "", model.Usage{}, classify(err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	usage := model.Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	return sb.String(), usage, nil
}

// InvokeStructured renders a numbered candidate menu, invokes the model,
// and parses the chosen index from the response.
func (c *Client) InvokeStructured(ctx context.Context, prompt string, choices []model.Candidate, params model.Params) (int, string, error) {
	if len(choices) == 0 {
		return 0, "", model.ErrEmptyChoices
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nChoose the single best number:\n")
	for i, ch := range choices {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, ch.Name)
	}
	text, _, err := c.Invoke(ctx, sb.String(), params)
	if err != nil {
		return 0, "", err
	}
	idx, reasoning := parseChoiceIndex(text, len(choices))
	if idx < 0 {
		return 0, "", fmt.Errorf("anthropicclient: could not parse a choice from response")
	}
	return idx, reasoning, nil
}

func (c *Client) newParams(prompt string, params model.Params) sdk.MessageNewParams {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	req := sdk.MessageNewParams{
		Model:     sdk.Model(c.defaultModel),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if params.System != "" {
		req.System = []sdk.TextBlockParam{{Text: params.System}}
	}
	if params.Temperature > 0 {
		req.Temperature = sdk.Float(params.Temperature)
	}
	if len(params.StopSequences) > 0 {
		req.StopSequences = params.StopSequences
	}
	return req
}

// parseChoiceIndex looks for a leading integer in text and returns a
// zero-based index, or -1 if none is found within range.
func parseChoiceIndex(text string, n int) (int, string) {
	fields := strings.Fields(text)
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return r < '0' || r > '9' })
		if f == "" {
			continue
		}
		if v, err := strconv.Atoi(f); err == nil && v >= 1 && v <= n {
			return v - 1, text
		}
	}
	return -1, text
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		switch {
		case status == http.StatusTooManyRequests:
			return model.NewProviderError("anthropic", "messages.new", status, model.ProviderErrorKindRateLimited, "", apiErr.Error(), "", true, err)
		case status >= 500:
			return model.NewProviderError("anthropic", "messages.new", status, model.ProviderErrorKindUnavailable, "", apiErr.Error(), "", true, err)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return model.NewProviderError("anthropic", "messages.new", status, model.ProviderErrorKindAuth, "", apiErr.Error(), "", false, err)
		default:
			return model.NewProviderError("anthropic", "messages.new", status, model.ProviderErrorKindInvalidRequest, "", apiErr.Error(), "", false, err)
		}
	}
	return model.NewProviderError("anthropic", "messages.new", 0, model.ProviderErrorKindUnknown, "", err.Error(), "", false, err)
}
