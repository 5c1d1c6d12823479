package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JakeFAU/starmark/internal/prompt"
)

const azureAPIVersion = "2024-06-01"

type apiStyle int

const (
	// openAIStyle posts to {endpoint}/chat/completions with a bearer token.
	openAIStyle apiStyle = iota
	// azureStyle posts to {endpoint}/{deployment}/chat/completions with an api-key header.
	azureStyle
)

type openAIRequest struct {
	Model    string           `json:"model,omitempty"`
	Messages []prompt.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// openAIChat speaks the chat completions protocol shared by OpenAI and the
// many providers that mirror it.
type openAIChat struct {
	provider string
	client   *http.Client
	url      string
	model    string
	headers  http.Header
}

func newOpenAIFactory(provider string, style apiStyle) Factory {
	return func(_ context.Context, cfg ModelConfig, client *http.Client) (Model, error) {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("endpoint is required")
		}
		headers := http.Header{}
		target := cfg.Endpoint + "/chat/completions"
		model := cfg.Model
		switch style {
		case azureStyle:
			target = fmt.Sprintf("%s/%s/chat/completions?api-version=%s",
				cfg.Endpoint, url.PathEscape(cfg.Model), azureAPIVersion)
			headers.Set("api-key", cfg.APIKey)
			model = ""
		default:
			if cfg.APIKey != "" {
				headers.Set("Authorization", "Bearer "+cfg.APIKey)
			}
		}
		return &openAIChat{
			provider: provider,
			client:   client,
			url:      target,
			model:    model,
			headers:  headers,
		}, nil
	}
}

func (c *openAIChat) Generate(ctx context.Context, messages []prompt.Message) (string, error) {
	resp, err := postJSON(ctx, c.client, c.provider, c.url, c.headers, openAIRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no content in %s response", c.provider)
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *openAIChat) Stream(ctx context.Context, messages []prompt.Message, emit func(string) error) error {
	resp, err := postJSON(ctx, c.client, c.provider, c.url, c.headers, openAIRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	return readSSE(resp.Body, func(data string) error {
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode %s stream chunk: %w", c.provider, err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("%s stream error: %s", c.provider, chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if err := emit(choice.Delta.Content); err != nil {
				return err
			}
		}
		return nil
	})
}
