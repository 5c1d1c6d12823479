// Package llm dispatches chat completions to pluggable model providers.
//
// Providers are looked up in a Registry by id and constructed per call from an
// explicit ModelConfig; nothing is cached between calls. The Dispatcher fits
// messages into the model's token budget before sending them and exposes both
// a materialized and a streamed form of the completion.
package llm

import (
	"context"

	"github.com/JakeFAU/starmark/internal/prompt"
)

// ModelConfig selects and authenticates a provider model. An empty Endpoint
// means the provider's default API URL.
type ModelConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"-"`
}

// Model is a constructed provider client bound to one model.
type Model interface {
	// Generate returns the whole completion.
	Generate(ctx context.Context, messages []prompt.Message) (string, error)
	// Stream calls emit with each text delta, in order, until the completion
	// ends or emit returns an error.
	Stream(ctx context.Context, messages []prompt.Message, emit func(chunk string) error) error
}

// Completion holds the continuations run when a stream ends. Exactly one of
// them is invoked, before the stream's channel closes.
type Completion struct {
	OnFinish func(text string)
	OnError  func(err error)
}
