package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/starmark/internal/prompt"
)

var testMessages = []prompt.Message{
	{Role: prompt.RoleSystem, Content: "classify"},
	{Role: prompt.RoleUser, Content: "page body"},
}

func TestOpenAIGenerate(t *testing.T) {
	t.Parallel()

	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"{\"tags\":[]}"}}]}`)
	}))
	t.Cleanup(srv.Close)

	model, err := NewDefaultRegistry(srv.Client()).New(context.Background(), ModelConfig{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Endpoint: srv.URL + "/v1/",
		APIKey:   "sk-test",
	})
	require.NoError(t, err)

	text, err := model.Generate(context.Background(), testMessages)
	require.NoError(t, err)
	require.Equal(t, `{"tags":[]}`, text)
	require.Equal(t, "gpt-4o-mini", got.Model)
	require.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
}

func TestOpenAIStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = io.WriteString(w, ": keep-alive\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	model, err := NewDefaultRegistry(srv.Client()).New(context.Background(), ModelConfig{
		Provider: ProviderDeepseek,
		Model:    "deepseek-chat",
		Endpoint: srv.URL,
	})
	require.NoError(t, err)

	var chunks []string
	err = model.Stream(context.Background(), testMessages, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestAzureUsesDeploymentPathAndAPIKeyHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/openai/deployments/gpt-4o/chat/completions", r.URL.Path)
		require.Equal(t, azureAPIVersion, r.URL.Query().Get("api-version"))
		require.Equal(t, "azure-key", r.Header.Get("api-key"))
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	t.Cleanup(srv.Close)

	model, err := NewDefaultRegistry(srv.Client()).New(context.Background(), ModelConfig{
		Provider: ProviderAzure,
		Model:    "gpt-4o",
		Endpoint: srv.URL + "/openai/deployments",
		APIKey:   "azure-key",
	})
	require.NoError(t, err)

	text, err := model.Generate(context.Background(), testMessages)
	require.NoError(t, err)
	require.Equal(t, "ok", text)
}

func TestProviderErrorStatusIsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	model, err := NewDefaultRegistry(srv.Client()).New(context.Background(), ModelConfig{
		Provider: ProviderGroq,
		Model:    "gemma2-9b-it",
		Endpoint: srv.URL,
	})
	require.NoError(t, err)

	_, err = model.Generate(context.Background(), testMessages)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	require.Equal(t, "quota exceeded", apiErr.Body)
}

func TestAnthropicSeparatesSystemPrompt(t *testing.T) {
	t.Parallel()

	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "ant-key", r.Header.Get("x-api-key"))
		require.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-haiku",`+
			`"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2},`+
			`"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`)
	}))
	t.Cleanup(srv.Close)

	model, err := NewDefaultRegistry(srv.Client()).New(context.Background(), ModelConfig{
		Provider: ProviderAnthropic,
		Model:    "claude-3-haiku",
		Endpoint: srv.URL + "/v1",
		APIKey:   "ant-key",
	})
	require.NoError(t, err)

	text, err := model.Generate(context.Background(), testMessages)
	require.NoError(t, err)
	require.Equal(t, "ab", text)
	require.Equal(t, "claude-3-haiku", got.Model)
	require.Len(t, got.System, 1)
	require.Equal(t, "classify", got.System[0].Text)
	require.Len(t, got.Messages, 1)
	require.Equal(t, string(prompt.RoleUser), got.Messages[0].Role)
	require.Equal(t, anthropicMaxTokens, got.MaxTokens)
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: content_block_delta\n")
		_, _ = io.WriteString(w, `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"par"}}`+"\n\n")
		_, _ = io.WriteString(w, "event: error\n")
		_, _ = io.WriteString(w, `data: {"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`+"\n\n")
	}))
	t.Cleanup(srv.Close)

	model, err := NewDefaultRegistry(srv.Client()).New(context.Background(), ModelConfig{
		Provider: ProviderAnthropic,
		Model:    "claude-3-haiku",
		Endpoint: srv.URL,
		APIKey:   "ant-key",
	})
	require.NoError(t, err)

	var chunks []string
	err = model.Stream(context.Background(), testMessages, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.ErrorContains(t, err, "overloaded")
	require.Equal(t, []string{"par"}, chunks)
}

func TestOllamaStreamStopsOnDone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		_, _ = io.WriteString(w, `{"message":{"content":"x"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"content":"y"},"done":true}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"content":"ignored"},"done":false}`+"\n")
	}))
	t.Cleanup(srv.Close)

	model, err := NewDefaultRegistry(srv.Client()).New(context.Background(), ModelConfig{
		Provider: ProviderOllama,
		Model:    "llama3.1:latest",
		Endpoint: srv.URL + "/api",
	})
	require.NoError(t, err)

	var chunks []string
	err = model.Stream(context.Background(), testMessages, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, chunks)
}

func TestOllamaModels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = io.WriteString(w, `{"models":[{"name":"qwen2:7b","details":{"parameter_size":"7.6B","quantization_level":"Q4_0"}}]}`)
	}))
	t.Cleanup(srv.Close)

	models := OllamaModels(context.Background(), srv.Client(), srv.URL+"/api/")
	require.Equal(t, []ModelType{{ID: "qwen2:7b", Label: "Ollama qwen2:7b (7.6B, Q4_0)"}}, models)
}

func TestOllamaModelsFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	require.Equal(t, DefaultOllamaModels, OllamaModels(context.Background(), srv.Client(), srv.URL))
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewDefaultRegistry(nil).New(context.Background(), ModelConfig{
		Provider: ProviderGoogle,
		Model:    "gemini-1.5-flash",
	})
	require.ErrorContains(t, err, "api key is required")
}
