// Package bedrockclient provides a model.Client implementation backed by the
// AWS Bedrock Converse API.
package bedrockclient

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/corvus-labs/swarmd/runtime/agent/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter, satisfied by *bedrockruntime.Client or a test double.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
}

// New builds a Bedrock-backed model client for the given model identifier
// (for example, "anthropic.claude-3-5-sonnet-20241022-v2:0").
func New(runtime RuntimeClient, defaultModel string) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrockclient: runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("bedrockclient: default model is required")
	}
	return &Client{runtime: runtime, defaultModel: defaultModel}, nil
}

// Invoke issues a single-turn Converse request and returns the concatenated
// text content plus token usage.
func (c *Client) Invoke(ctx context.Context, prompt string, params model.Params) (string, model.Usage, error) {
	input := c.buildInput(prompt, params)
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", model.Usage{}, classify(err)
	}
	var sb strings.Builder
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				sb.WriteString(tb.Value)
			}
		}
	}
	usage := model.Usage{}
	if out.Usage != nil {
		usage.PromptTokens = int(ptrValue(out.Usage.InputTokens))
		usage.CompletionTokens = int(ptrValue(out.Usage.OutputTokens))
	}
	return sb.String(), usage, nil
}

// InvokeStructured renders a numbered candidate menu and parses the chosen
// index from the response text.
func (c *Client) InvokeStructured(ctx context.Context, prompt string, choices []model.Candidate, params model.Params) (int, string, error) {
	if len(choices) == 0 {
		return 0, "", model.ErrEmptyChoices
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nChoose the single best number:\n")
	for i, ch := range choices {
		sb.WriteString(itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(ch.Name)
		sb.WriteString("\n")
	}
	text, _, err := c.Invoke(ctx, sb.String(), params)
	if err != nil {
		return 0, "", err
	}
	idx := parseChoiceIndex(text, len(choices))
	if idx < 0 {
		return 0, "", errors.New("bedrockclient: could not parse a choice from response")
	}
	return idx, text, nil
}

func (c *Client) buildInput(prompt string, params model.Params) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.defaultModel),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
	}
	if params.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: params.System}}
	}
	var cfg brtypes.InferenceConfiguration
	var set bool
	if params.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(params.MaxTokens))
		set = true
	}
	if params.Temperature > 0 {
		cfg.Temperature = aws.Float32(float32(params.Temperature))
		set = true
	}
	if len(params.StopSequences) > 0 {
		cfg.StopSequences = params.StopSequences
		set = true
	}
	if set {
		input.InferenceConfig = &cfg
	}
	return input
}

func parseChoiceIndex(text string, n int) int {
	for _, f := range strings.Fields(text) {
		f = strings.TrimFunc(f, func(r rune) bool { return r < '0' || r > '9' })
		if f == "" {
			continue
		}
		v := 0
		for _, r := range f {
			v = v*10 + int(r-'0')
		}
		if v >= 1 && v <= n {
			return v - 1
		}
	}
	return -1
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func ptrValue(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

// classify maps Bedrock/smithy errors onto a model.ProviderError. Both
// throttling error codes and bare HTTP 429 responses are treated as
// rate-limited; server-side error codes and any 5xx as unavailable;
// access-denied codes and HTTP 401/403 as auth; validation codes and any
// other HTTP status as invalid_request; anything else as unknown.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return model.NewProviderError("bedrock", "converse", 429, model.ProviderErrorKindRateLimited, apiErr.ErrorCode(), apiErr.ErrorMessage(), "", true, err)
		case "ValidationException", "ModelErrorException":
			return model.NewProviderError("bedrock", "converse", 0, model.ProviderErrorKindInvalidRequest, apiErr.ErrorCode(), apiErr.ErrorMessage(), "", false, err)
		case "AccessDeniedException", "UnrecognizedClientException":
			return model.NewProviderError("bedrock", "converse", 0, model.ProviderErrorKindAuth, apiErr.ErrorCode(), apiErr.ErrorMessage(), "", false, err)
		case "InternalServerException", "ModelTimeoutException", "ServiceUnavailableException":
			return model.NewProviderError("bedrock", "converse", 0, model.ProviderErrorKindUnavailable, apiErr.ErrorCode(), apiErr.ErrorMessage(), "", true, err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == 429:
			return model.NewProviderError("bedrock", "converse", status, model.ProviderErrorKindRateLimited, "", err.Error(), "", true, err)
		case status >= 500:
			return model.NewProviderError("bedrock", "converse", status, model.ProviderErrorKindUnavailable, "", err.Error(), "", true, err)
		case status == 401 || status == 403:
			return model.NewProviderError("bedrock", "converse", status, model.ProviderErrorKindAuth, "", err.Error(), "", false, err)
		default:
			return model.NewProviderError("bedrock", "converse", status, model.ProviderErrorKindInvalidRequest, "", err.Error(), "", false, err)
		}
	}
	return model.NewProviderError("bedrock", "converse", 0, model.ProviderErrorKindUnknown, "", err.Error(), "", false, err)
}
