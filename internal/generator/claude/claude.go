package claude

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/docustitch/internal/generator"
)

// maxTokens fits a full Colab script plus instructions.
const maxTokens = 8192

type ClaudeBackend struct {
	client *anthropic.Client
	model  string
}

// NewClaudeBackend creates a backend for the Anthropic Messages API. opts are
// passed to the underlying client, e.g. anthropic.WithBaseURL in tests.
func NewClaudeBackend(apiKey, model string, opts ...anthropic.ClientOption) *ClaudeBackend {
	return &ClaudeBackend{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (b *ClaudeBackend) Complete(ctx context.Context, req generator.CompletionRequest) (string, error) {
	resp, err := b.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(b.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					req.MimeType,
					req.ImageData,
				)),
				anthropic.NewTextMessageContent(req.Prompt),
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	for _, blk := range resp.Content {
		if blk.Type == "text" {
			if text := blk.GetText(); text != "" {
				return text, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no text block in claude response", generator.ErrMalformedResponse)
}
