package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/JakeFAU/starmark/internal/prompt"
)

type geminiChat struct {
	client *genai.Client
	model  string
}

func newGemini(ctx context.Context, cfg ModelConfig, client *http.Client) (Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: client,
	}
	if cfg.Endpoint != "" && cfg.Endpoint != DefaultEndpoint(ProviderGoogle) {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint + "/"}
	}
	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &geminiChat{client: gc, model: cfg.Model}, nil
}

// split maps chat messages onto Gemini's system instruction and contents.
func (c *geminiChat) split(messages []prompt.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case prompt.RoleSystem:
			system = append(system, m.Content)
		case prompt.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	var cfg *genai.GenerateContentConfig
	if len(system) > 0 {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser),
		}
	}
	return contents, cfg
}

func (c *geminiChat) Generate(ctx context.Context, messages []prompt.Message) (string, error) {
	contents, cfg := c.split(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

func (c *geminiChat) Stream(ctx context.Context, messages []prompt.Message, emit func(string) error) error {
	contents, cfg := c.split(messages)
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if err := emit(resp.Text()); err != nil {
			return err
		}
	}
	return nil
}
