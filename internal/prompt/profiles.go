package prompt

// DefaultEncoding is the tokenizer used for models without their own.
const DefaultEncoding = "cl100k_base"

// TokenProfile is a model's context budget and tokenizer. Encoding may name
// either a tiktoken encoding or a model whose encoding should be used.
type TokenProfile struct {
	MaxTokens int
	Encoding  string
}

// DefaultProfile applies to models missing from the profile table.
var DefaultProfile = TokenProfile{MaxTokens: 8192, Encoding: DefaultEncoding}

var modelProfiles = map[string]TokenProfile{
	// openai / azure
	"gpt-3-turbo": {4096, "gpt-3.5-turbo"},
	"gpt-4o-mini": {8192, "gpt-4"},
	"gpt-4o":      {8192, "gpt-4"},
	"o1-preview":  {16384, "gpt-4-32k"},
	"o1-mini":     {8192, "gpt-4"},
	// anthropic
	"claude-3-5-sonnet": {100000, DefaultEncoding},
	"claude-3-sonnet":   {100000, DefaultEncoding},
	"claude-3-opus":     {100000, DefaultEncoding},
	"claude-3-haiku":    {100000, DefaultEncoding},
	// google
	"gemini-1.5-flash": {8192, DefaultEncoding},
	"gemini-1.5-pro":   {16384, DefaultEncoding},
	// mistral
	"mistral-7b-v0.1": {8192, DefaultEncoding},
	// cohere
	"command":       {4096, DefaultEncoding},
	"command-light": {4096, DefaultEncoding},
	// novita
	"meta-llama/llama-3.1-8b-instruct":  {4096, DefaultEncoding},
	"meta-llama/llama-3.1-70b-instruct": {8192, DefaultEncoding},
	"mistralai/mistral-7b-instruct":     {8192, DefaultEncoding},
	"Nous-Hermes-2-Mixtral-8x7B-DPO":    {8192, DefaultEncoding},
	// groq
	"llama-3-8b-instruct":  {4096, DefaultEncoding},
	"llama-3-70b-instruct": {8192, DefaultEncoding},
	"mixtral-8x7b-32768":   {32768, DefaultEncoding},
	"gemma2-9b-it":         {4096, DefaultEncoding},
	// chatglm
	"GLM-4-Plus": {8192, DefaultEncoding},
	"GLM-4-0520": {8192, DefaultEncoding},
	"GLM-4-Air":  {8192, DefaultEncoding},
	// deepseek
	"deepseek-chat":  {8192, DefaultEncoding},
	"deepseek-coder": {8192, DefaultEncoding},
	// kimi
	"moonshot-v1-8k":   {8192, DefaultEncoding},
	"moonshot-v1-128k": {128000, DefaultEncoding},
	// qwen
	"qwen-turbo": {8192, DefaultEncoding},
	"qwen-plus":  {8192, DefaultEncoding},
	"qwen-max":   {16384, DefaultEncoding},
	// ollama
	"llama3.1:latest":    {4096, DefaultEncoding},
	"phi3:latest":        {8192, DefaultEncoding},
	"mistral:latest":     {8192, DefaultEncoding},
	"mixtral:latest":     {32768, DefaultEncoding},
	"command-r:latest":   {32768, DefaultEncoding},
	"deepseek-v2:latest": {8192, DefaultEncoding},
	"qwen2:latest":       {8192, DefaultEncoding},
	"gemma2:latest":      {8192, DefaultEncoding},
}

// ProfileFor returns the token profile for model, or DefaultProfile.
func ProfileFor(model string) TokenProfile {
	if p, ok := modelProfiles[model]; ok {
		return p
	}
	return DefaultProfile
}
