package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/starmark/internal/prompt"
)

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []prompt.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// ollamaChat talks to a local Ollama server, which streams newline-delimited
// JSON instead of server-sent events.
type ollamaChat struct {
	client *http.Client
	url    string
	model  string
}

func newOllama(_ context.Context, cfg ModelConfig, client *http.Client) (Model, error) {
	return &ollamaChat{
		client: client,
		url:    cfg.Endpoint + "/chat",
		model:  cfg.Model,
	}, nil
}

func (c *ollamaChat) Generate(ctx context.Context, messages []prompt.Message) (string, error) {
	resp, err := postJSON(ctx, c.client, ProviderOllama, c.url, nil, ollamaRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	var parsed ollamaChunk
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}

func (c *ollamaChat) Stream(ctx context.Context, messages []prompt.Message, emit func(string) error) error {
	resp, err := postJSON(ctx, c.client, ProviderOllama, c.url, nil, ollamaRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	return readLines(resp.Body, func(line string) (bool, error) {
		var chunk ollamaChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return false, fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return false, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if err := emit(chunk.Message.Content); err != nil {
			return false, err
		}
		return chunk.Done, nil
	})
}

type ollamaTags struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// OllamaModels lists the models installed on the Ollama server at endpoint.
// Any failure yields DefaultOllamaModels.
func OllamaModels(ctx context.Context, client *http.Client, endpoint string) []ModelType {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint(ProviderOllama)
	}
	models, err := fetchOllamaTags(ctx, client, strings.TrimRight(endpoint, "/")+"/tags")
	if err != nil || len(models) == 0 {
		return append([]ModelType(nil), DefaultOllamaModels...)
	}
	return models
}

func fetchOllamaTags(ctx context.Context, client *http.Client, url string) ([]ModelType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: ProviderOllama, Status: resp.StatusCode}
	}
	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	out := make([]ModelType, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, ModelType{
			ID:    m.Name,
			Label: fmt.Sprintf("Ollama %s (%s, %s)", m.Name, m.Details.ParameterSize, m.Details.QuantizationLevel),
		})
	}
	return out, nil
}
