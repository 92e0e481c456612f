// Package claude implements the classifier.Provider interface on the
// official Anthropic SDK.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ResponseTokens bounds the completion; the triage JSON payload is small.
const ResponseTokens = 2048

// Client calls the Claude Messages API for single-prompt completions.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a new Claude client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Complete sends the prompt as a single user message and returns the
// concatenated text content of the response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: ResponseTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}

	return textFromContent(msg.Content), nil
}

// textFromContent concatenates the text blocks of a response, ignoring any
// other block types.
func textFromContent(blocks []anthropic.ContentBlockUnion) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
