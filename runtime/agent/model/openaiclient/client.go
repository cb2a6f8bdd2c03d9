// Package openaiclient provides a model.Client implementation backed by the
// OpenAI Chat Completions API.
package openaiclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/corvus-labs/swarmd/runtime/agent/model"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter,
// satisfied by the SDK's chat completions service or a test double.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements model.Client on top of OpenAI Chat Completions.
type Client struct {
	chat         ChatClient
	defaultModel string
}

// New builds an OpenAI-backed model client.
func New(chat ChatClient, defaultModel string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openaiclient: chat client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("openaiclient: default model is required")
	}
	return &Client{chat: chat, defaultModel: defaultModel}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openaiclient: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, defaultModel)
}

// Invoke performs a single chat completion call and returns the first
// choice's message content plus token usage.
func (c *Client) Invoke(ctx context.Context, prompt string, params model.Params) (string, model.Usage, error) {
	req := c.newParams(prompt, params)
	resp, err := c.chat.New(ctx, req)
	if err != nil {
		return "", model.Usage{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", model.Usage{}, model.ErrEmptyChoices
	}
	usage := model.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// InvokeStructured renders a numbered candidate menu, invokes the model, and
// parses the chosen index from the response.
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
		return 0, "", fmt.Errorf("openaiclient: could not parse a choice from response")
	}
	return idx, reasoning, nil
}

func (c *Client) newParams(prompt string, params model.Params) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if params.System != "" {
		messages = append(messages, openai.SystemMessage(params.System))
	}
	messages = append(messages, openai.UserMessage(prompt))
	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.defaultModel),
		Messages: messages,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}
	if len(params.StopSequences) > 0 {
		req.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: params.StopSequences,
		}
	}
	return req
}

func parseChoiceIndex(text string, n int) (int, string) {
	for _, f := range strings.Fields(text) {
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
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		switch {
		case status == 429:
			return model.NewProviderError("openai", "chat.completions.new", status, model.ProviderErrorKindRateLimited, apiErr.Code, apiErr.Error(), "", true, err)
		case status >= 500:
			return model.NewProviderError("openai", "chat.completions.new", status, model.ProviderErrorKindUnavailable, apiErr.Code, apiErr.Error(), "", true, err)
		case status == 401 || status == 403:
			return model.NewProviderError("openai", "chat.completions.new", status, model.ProviderErrorKindAuth, apiErr.Code, apiErr.Error(), "", false, err)
		default:
			return model.NewProviderError("openai", "chat.completions.new", status, model.ProviderErrorKindInvalidRequest, apiErr.Code, apiErr.Error(), "", false, err)
		}
	}
	return model.NewProviderError("openai", "chat.completions.new", 0, model.ProviderErrorKindUnknown, "", err.Error(), "", false, err)
}
