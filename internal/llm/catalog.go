package llm

// ProviderOption describes a selectable provider and its default API URL.
type ProviderOption struct {
	ID     string `json:"value"`
	Label  string `json:"label"`
	APIURL string `json:"apiUrl"`
}

// ModelType is a selectable model for a provider.
type ModelType struct {
	ID    string `json:"value"`
	Label string `json:"label"`
}

// Provider ids.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderMistral   = "mistral"
	ProviderCohere    = "cohere"
	ProviderNovita    = "novita"
	ProviderGroq      = "groq"
	ProviderChatGLM   = "chatglm"
	ProviderDeepseek  = "deepseek"
	ProviderKimi      = "kimi"
	ProviderQwen      = "qwen"
	ProviderWorkersAI = "workers-ai"
	ProviderOllama    = "ollama"
)

var providerOptions = []ProviderOption{
	{ProviderOpenAI, "OpenAI", "https://api.openai.com/v1"},
	{ProviderAzure, "Azure OpenAI", "https://api.openai.azure.com/v1"},
	{ProviderAnthropic, "Anthropic", "https://api.anthropic.com/v1"},
	{ProviderGoogle, "Google", "https://generativelanguage.googleapis.com"},
	{ProviderMistral, "Mistral", "https://api.mistral.ai/v1"},
	{ProviderCohere, "Cohere", "https://api.cohere.ai/compatibility/v1"},
	{ProviderNovita, "Novita", "https://api.novita.ai/v3/openai"},
	{ProviderGroq, "Groq", "https://api.groq.com/openai/v1"},
	{ProviderChatGLM, "ZhiPu", "https://open.bigmodel.cn/api/paas/v4"},
	{ProviderDeepseek, "Deepseek", "https://api.deepseek.com/v1"},
	{ProviderKimi, "Kimi", "https://api.moonshot.cn/v1"},
	{ProviderQwen, "Qwen", "https://dashscope.aliyuncs.com/compatible-mode/v1"},
	{ProviderWorkersAI, "Workers AI", "https://api.cloudflare.com/client/v4/accounts/{account_id}/ai/v1"},
	{ProviderOllama, "Ollama", "http://127.0.0.1:11434/api"},
}

// DefaultOllamaModels is offered when the local Ollama server cannot be asked.
var DefaultOllamaModels = []ModelType{
	{"llama3.1:latest", "Ollama Llama 3.1 8B Instruct"},
	{"phi3:latest", "Ollama Phi3 14B Instruct"},
	{"mistral:latest", "Ollama Mistral 7B Instruct"},
	{"mixtral:latest", "Ollama Mixtral 8x7B Instruct"},
	{"command-r:latest", "Ollama Command-R 35B Instruct"},
	{"deepseek-v2:latest", "Ollama DeepSeek Chat 16B Instruct"},
	{"qwen2:latest", "Ollama Qwen2 7B Instruct"},
	{"gemma2:latest", "Ollama Gemma2 9B Instruct"},
}

var openAIModels = []ModelType{
	{"gpt-4o-mini", "GPT-4o mini"},
	{"gpt-4o", "GPT-4o"},
	{"gpt-3-turbo", "GPT-3 Turbo"},
	{"o1-preview", "O1-preview"},
	{"o1-mini", "O1-mini"},
}

var modelTypes = map[string][]ModelType{
	ProviderOpenAI: openAIModels,
	ProviderAzure:  openAIModels,
	ProviderAnthropic: {
		{"claude-3-5-sonnet", "Claude 3.5 Sonnet"},
		{"claude-3-sonnet", "Claude 3 Sonnet"},
		{"claude-3-opus", "Claude 3 Opus"},
		{"claude-3-haiku", "Claude 3 Haiku"},
	},
	ProviderGoogle: {
		{"gemini-1.5-flash", "Gemini 1.5 Flash"},
		{"gemini-1.5-pro", "Gemini 1.5 Pro"},
	},
	ProviderMistral: {
		{"mistral-7b-v0.1", "Mistral 7B v0.1"},
	},
	ProviderCohere: {
		{"command", "Command"},
		{"command-light", "Command Light"},
	},
	ProviderNovita: {
		{"meta-llama/llama-3.1-8b-instruct", "Novita Meta Llama 3.1 8B Instruct"},
		{"meta-llama/llama-3.1-70b-instruct", "Novita Meta Llama 3.1 70B Instruct"},
		{"mistralai/mistral-7b-instruct", "Novita Mistral 7B Instruct"},
		{"Nous-Hermes-2-Mixtral-8x7B-DPO", "Novita Nous Hermes 2 Mixtral 8x7B DPO"},
	},
	ProviderGroq: {
		{"llama-3-8b-instruct", "Groq Llama 3 8B Instruct"},
		{"llama-3-70b-instruct", "Groq Llama 3 70B Instruct"},
		{"mixtral-8x7b-32768", "Groq Mixtral 8x7B 32768"},
		{"gemma2-9b-it", "Groq Gemma2 9B IT"},
	},
	ProviderChatGLM: {
		{"GLM-4-Plus", "GLM4 Plus"},
		{"GLM-4-0520", "GLM4 0520"},
		{"GLM-4-Air", "GLM4 Air"},
	},
	ProviderDeepseek: {
		{"deepseek-chat", "DeepSeek Chat"},
		{"deepseek-coder", "DeepSeek Coder"},
	},
	ProviderKimi: {
		{"moonshot-v1-8k", "Moonshot v1 8K"},
		{"moonshot-v1-128k", "Moonshot v1 128K"},
	},
	ProviderQwen: {
		{"qwen-turbo", "Qwen Turbo"},
		{"qwen-plus", "Qwen Plus"},
		{"qwen-max", "Qwen Max"},
	},
	ProviderWorkersAI: {
		{"@cf/meta/llama-3.1-8b-instruct", "Workers Llama 3.1 8B Instruct"},
	},
	ProviderOllama: DefaultOllamaModels,
}

// ProviderOptions lists every provider the default registry can build.
func ProviderOptions() []ProviderOption {
	return append([]ProviderOption(nil), providerOptions...)
}

// DefaultEndpoint returns the provider's default API URL, or "".
func DefaultEndpoint(provider string) string {
	for _, p := range providerOptions {
		if p.ID == provider {
			return p.APIURL
		}
	}
	return ""
}

// ModelTypes lists the known models for provider; unknown providers get none.
func ModelTypes(provider string) []ModelType {
	return append([]ModelType(nil), modelTypes[provider]...)
}
