package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeProvider calls the Anthropic Messages API.
type ClaudeProvider struct {
	Model  string
	apiKey string
	client anthropic.Client
}

// NewClaudeProvider creates a Claude provider. baseURL may be empty.
func NewClaudeProvider(apiKey, model, baseURL string) *ClaudeProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ClaudeProvider{
		Model:  model,
		apiKey: apiKey,
		client: anthropic.NewClient(opts...),
	}
}

// IsConfigured checks if the API key is set.
func (c *ClaudeProvider) IsConfigured() bool {
	return c.apiKey != ""
}

// Generate sends a single user prompt and returns the text reply.
func (c *ClaudeProvider) Generate(ctx context.Context, prompt string, maxTokens int) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}
	resp := fromMessage(msg)
	if resp.Model == "" {
		resp.Model = c.Model
	}
	return resp, nil
}

func fromMessage(msg *anthropic.Message) *Response {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Response{
		Text:         sb.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
}
