package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/JakeFAU/starmark/internal/prompt"
)

const anthropicMaxTokens = 4096

// anthropicMessages speaks the Messages API through the official SDK. The
// system prompt travels as a top-level field rather than a message.
type anthropicMessages struct {
	client anthropic.Client
	model  string
}

// newAnthropic accepts endpoints with or without the /v1 suffix; the SDK
// appends the versioned path itself.
func newAnthropic(_ context.Context, cfg ModelConfig, client *http.Client) (Model, error) {
	base := strings.TrimSuffix(cfg.Endpoint, "/v1") + "/"
	return &anthropicMessages{
		client: anthropic.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(base),
			option.WithHTTPClient(client),
			// Backend retries are the caller's policy.
			option.WithMaxRetries(0),
		),
		model: cfg.Model,
	}, nil
}

func (c *anthropicMessages) params(messages []prompt.Message) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
	}
	var system []string
	for _, m := range messages {
		switch m.Role {
		case prompt.RoleSystem:
			system = append(system, m.Content)
		case prompt.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params
}

func (c *anthropicMessages) Generate(ctx context.Context, messages []prompt.Message) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.params(messages))
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), nil
}

func (c *anthropicMessages) Stream(ctx context.Context, messages []prompt.Message, emit func(string) error) error {
	stream := c.client.Messages.NewStreaming(ctx, c.params(messages))
	defer stream.Close() //nolint:errcheck

	for stream.Next() {
		evt, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
			if err := emit(delta.Text); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}
