// Package llm gives the embedded engine a single completion call across chat
// providers. Provider choice, prompts and fallbacks stay with the engine.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownProvider = errors.New("unknown llm provider")
	ErrEmptyPrompt     = errors.New("prompt is required")
)

type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int64
	// APIKey overrides the provider's configured key for this call.
	APIKey string
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Config struct {
	OpenAIBaseURL    string
	AnthropicBaseURL string
	OllamaURL        string
	RequestTimeout   time.Duration
}

// Router resolves provider names to completers.
type Router struct {
	providers map[string]Completer
	timeout   time.Duration
}

func NewRouter(cfg Config) *Router {
	r := &Router{providers: map[string]Completer{}, timeout: cfg.RequestTimeout}
	ollama := NewOllama(cfg.OllamaURL)
	anthropic := NewAnthropic(cfg.AnthropicBaseURL)
	r.Register("openai", NewOpenAI(cfg.OpenAIBaseURL))
	r.Register("anthropic", anthropic)
	r.Register("claude", anthropic)
	r.Register("ollama", ollama)
	r.Register("local", ollama)
	return r
}

func (r *Router) Register(name string, c Completer) {
	r.providers[normalize(name)] = c
}

func (r *Router) Provider(name string) (Completer, error) {
	c, ok := r.providers[normalize(name)]
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return c, nil
}

func (r *Router) Complete(ctx context.Context, provider string, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}
	c, err := r.Provider(provider)
	if err != nil {
		return "", err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return c.Complete(ctx, req)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
