// Package openai implements pipeline.Embedder and pipeline.Classifier on the
// OpenAI API (or any compatible endpoint).
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/priorityops/internal/pipeline"
)

const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChatModel      = "gpt-4o-mini"
)

// Config configures a Client.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for a local compatible server.
	BaseURL        string
	EmbeddingModel string
	// Dimensions, when > 0, is requested from the API and enforced on responses.
	Dimensions int
	ChatModel  string
}

// Client wraps go-openai for embeddings and JSON-mode chat completions.
type Client struct {
	client         *goopenai.Client
	embeddingModel string
	dimensions     int
	chatModel      string
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	return &Client{
		client:         goopenai.NewClientWithConfig(oc),
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
		chatModel:      cfg.ChatModel,
	}
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      []string{text},
		Model:      goopenai.EmbeddingModel(c.embeddingModel),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	vec := resp.Data[0].Embedding
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return nil, fmt.Errorf("openai embeddings: got %d dimensions, want %d", len(vec), c.dimensions)
	}
	return vec, nil
}

// Complete runs a JSON-mode chat completion.
func (c *Client) Complete(ctx context.Context, req *pipeline.ClassifyRequest) (*pipeline.ClassifyResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, toChatRequest(c.chatModel, req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion: no choices")
	}
	return &pipeline.ClassifyResponse{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func toChatRequest(model string, req *pipeline.ClassifyRequest) goopenai.ChatCompletionRequest {
	var msgs []goopenai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	return goopenai.ChatCompletionRequest{
		Model:               model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxTokens,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}
