package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Factory constructs a Model from its configuration. The HTTP client is shared
// by all providers built from the same Registry.
type Factory func(ctx context.Context, cfg ModelConfig, client *http.Client) (Model, error)

// Registry maps provider ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	client    *http.Client
}

// NewRegistry returns an empty Registry. A nil client gets a two minute
// timeout, long enough for slow streamed completions.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Registry{
		factories: make(map[string]Factory),
		client:    client,
	}
}

// NewDefaultRegistry registers every built-in provider.
func NewDefaultRegistry(client *http.Client) *Registry {
	r := NewRegistry(client)
	r.Register(ProviderOpenAI, newOpenAIFactory(ProviderOpenAI, openAIStyle))
	r.Register(ProviderAzure, newOpenAIFactory(ProviderAzure, azureStyle))
	for _, id := range []string{
		ProviderMistral,
		ProviderCohere,
		ProviderNovita,
		ProviderGroq,
		ProviderChatGLM,
		ProviderDeepseek,
		ProviderKimi,
		ProviderQwen,
		ProviderWorkersAI,
	} {
		r.Register(id, newOpenAIFactory(id, openAIStyle))
	}
	r.Register(ProviderAnthropic, newAnthropic)
	r.Register(ProviderOllama, newOllama)
	r.Register(ProviderGoogle, newGemini)
	return r
}

// Register adds or replaces the factory for provider.
func (r *Registry) Register(provider string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
}

// Providers returns the registered provider ids in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for id := range r.factories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// New constructs the model described by cfg. Unknown providers yield
// ErrInvalidProvider.
func (r *Registry) New(ctx context.Context, cfg ModelConfig) (Model, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, cfg.Provider)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint(cfg.Provider)
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	model, err := factory(ctx, cfg, r.client)
	if err != nil {
		return nil, fmt.Errorf("build %s model: %w", cfg.Provider, err)
	}
	return model, nil
}
