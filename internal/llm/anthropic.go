package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"git.home.luguber.info/inful/docforge/internal/retry"
)

// DefaultModel is the completion model used when none is configured.
const DefaultModel = "claude-sonnet-4-5"

const defaultMaxTokens = 4096

// AnthropicClient implements Client against the Anthropic Messages API.
// Transient API failures (rate limits, overload, 5xx) are retried with
// backoff; the SDK's own retries are disabled so backoff is governed in one
// place.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	policy retry.Policy
}

// NewAnthropicClient creates a client with the given API key. An empty model
// selects DefaultModel.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:  anthropic.Model(model),
		policy: retry.DefaultPolicy(),
	}, nil
}

// Complete sends a single-turn request and returns the concatenated text
// blocks of the response.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	var resp *anthropic.Message
	err := c.policy.Do(ctx, func() error {
		var cerr error
		resp, cerr = c.client.Messages.New(ctx, params)
		return cerr
	}, isTransient)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &CompletionResponse{Text: sb.String()}, nil
}

// isTransient reports whether an API error is worth retrying: rate limits,
// overload, and server-side failures.
func isTransient(err error) bool {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return false
	}
	return apierr.StatusCode == 429 || apierr.StatusCode >= 500
}
