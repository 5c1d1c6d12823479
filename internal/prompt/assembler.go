package prompt

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultReserveTokens is held back from the budget for the model's answer.
const DefaultReserveTokens = 800

// charsPerToken approximates token length when no tokenizer can be loaded.
const charsPerToken = 4

// Encoder converts between text and token IDs.
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// EncoderLoader resolves an encoding or model name to an Encoder.
type EncoderLoader func(name string) (Encoder, error)

// AssemblerOption customizes an Assembler.
type AssemblerOption func(*Assembler)

// WithReserve overrides the number of tokens reserved for the completion.
func WithReserve(tokens int) AssemblerOption {
	return func(a *Assembler) {
		if tokens >= 0 {
			a.reserve = tokens
		}
	}
}

// WithEncoderLoader swaps the tokenizer source.
func WithEncoderLoader(load EncoderLoader) AssemblerOption {
	return func(a *Assembler) {
		if load != nil {
			a.load = load
		}
	}
}

// WithLogger attaches a logger for tokenizer fallbacks.
func WithLogger(logger *zap.Logger) AssemblerOption {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Assembler fits a system+user message pair into a model's token budget. The
// system message is always sent whole; only the user content is truncated.
// It never fails: when no tokenizer is available it falls back to a
// character estimate.
type Assembler struct {
	reserve int
	load    EncoderLoader
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]Encoder
}

// NewAssembler builds an Assembler backed by tiktoken unless overridden.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		reserve: DefaultReserveTokens,
		load:    TiktokenLoader,
		logger:  zap.NewNop(),
		cache:   make(map[string]Encoder),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble returns the first system message followed by the first user
// message, with the user content cut so that
// system + user <= profile.MaxTokens - reserve.
func (a *Assembler) Assemble(messages []Message, profile TokenProfile) []Message {
	if profile.MaxTokens <= 0 {
		profile = DefaultProfile
	}
	out := make([]Message, 0, 2)
	used := 0
	if sys, ok := first(messages, RoleSystem); ok {
		used = a.Count(sys.Content, profile.Encoding)
		out = append(out, sys)
	}
	if user, ok := first(messages, RoleUser); ok {
		remaining := profile.MaxTokens - used - a.reserve
		if a.Count(user.Content, profile.Encoding) > remaining {
			user.Content = a.Truncate(user.Content, remaining, profile.Encoding)
		}
		out = append(out, user)
	}
	return out
}

// Count returns the number of tokens in text under encoding.
func (a *Assembler) Count(text, encoding string) int {
	enc := a.encoder(encoding)
	if enc == nil {
		return (len([]rune(text)) + charsPerToken - 1) / charsPerToken
	}
	return len(enc.Encode(text))
}

// Truncate cuts text to at most maxTokens tokens at a token boundary. Text
// already within budget is returned unchanged.
func (a *Assembler) Truncate(text string, maxTokens int, encoding string) (out string) {
	if maxTokens <= 0 {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("tokenizer panicked; using character estimate",
				zap.String("encoding", encoding), zap.Any("panic", r))
			out = truncateChars(text, maxTokens*charsPerToken)
		}
	}()
	enc := a.encoder(encoding)
	if enc == nil {
		return truncateChars(text, maxTokens*charsPerToken)
	}
	tokens := enc.Encode(text)
	if len(tokens) <= maxTokens {
		return text
	}
	return strings.ToValidUTF8(enc.Decode(tokens[:maxTokens]), "")
}

func (a *Assembler) encoder(name string) Encoder {
	if name == "" {
		name = DefaultEncoding
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if enc, ok := a.cache[name]; ok {
		return enc
	}
	enc, err := a.load(name)
	if err != nil && name != DefaultEncoding {
		a.logger.Debug("unknown encoding; using default",
			zap.String("encoding", name), zap.Error(err))
		enc, err = a.load(DefaultEncoding)
	}
	if err != nil {
		a.logger.Warn("tokenizer unavailable", zap.String("encoding", name), zap.Error(err))
		enc = nil
	}
	a.cache[name] = enc
	return enc
}

func first(messages []Message, role Role) (Message, bool) {
	for _, m := range messages {
		if m.Role == role {
			return m, true
		}
	}
	return Message{}, false
}

func truncateChars(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
