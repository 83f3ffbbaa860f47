package llm

import "strings"

const (
	DefaultOllamaURL   = "http://127.0.0.1:11434"
	defaultOllamaModel = "llama3"
	// ollama ignores the key but the client requires one.
	ollamaAPIKey = "ollama"
)

// NewOllama returns a completer for a local ollama daemon, reached through
// its OpenAI compatible /v1 endpoint. A local daemon is not retried.
func NewOllama(baseURL string) *OpenAI {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OpenAI{
		name:         "ollama",
		baseURL:      baseURL + "/v1/",
		defaultModel: defaultOllamaModel,
		apiKey:       ollamaAPIKey,
		maxRetries:   0,
	}
}
