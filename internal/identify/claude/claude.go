package claude

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/vbonduro/treetag/internal/identify"
)

// maxTokens leaves room for three short candidate lines plus preamble.
const maxTokens = 512

type ClaudeIdentifier struct {
	client *anthropic.Client
	model  string
}

// NewClaudeIdentifier builds an identifier on the Anthropic Messages API.
// opts are passed to the client, e.g. anthropic.WithBaseURL in tests.
func NewClaudeIdentifier(apiKey, model string, opts ...anthropic.ClientOption) *ClaudeIdentifier {
	return &ClaudeIdentifier{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *ClaudeIdentifier) Suggest(ctx context.Context, r io.Reader, mimeType string) ([]identify.Candidate, error) {
	imageData, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(mimeType),
					base64.StdEncoding.EncodeToString(imageData),
				)),
				anthropic.NewTextMessageContent(identify.Prompt),
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call claude: %w", err)
	}

	for _, content := range resp.Content {
		if content.Type == anthropic.MessagesContentTypeText {
			return identify.ParseResponse(content.GetText()), nil
		}
	}
	return []identify.Candidate{}, nil
}

// normaliseMIME maps image types the API does not accept onto jpeg.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
