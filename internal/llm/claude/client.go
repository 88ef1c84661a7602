// Package claude implements pipeline.Classifier on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/priorityops/internal/pipeline"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Client implements pipeline.Classifier for Claude.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude client. SDK retries are off: a failed call is
// reported to the caller as-is. Extra request options (base URL, retries)
// are passed through to the SDK and applied after the defaults.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Complete sends a single-turn request and returns the concatenated text.
func (c *Client) Complete(ctx context.Context, req *pipeline.ClassifyRequest) (*pipeline.ClassifyResponse, error) {
	msg, err := c.client.Messages.New(ctx, toSDKParams(c.model, req))
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	resp := fromSDKResponse(msg)
	if resp.Text == "" {
		return nil, errors.New("claude returned no text content")
	}
	return resp, nil
}

func toSDKParams(model string, req *pipeline.ClassifyRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func fromSDKResponse(msg *anthropic.Message) *pipeline.ClassifyResponse {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return &pipeline.ClassifyResponse{
		Text:         strings.Join(parts, "\n"),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
}
