package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4oMini

// OpenAI speaks the chat completions API. It also serves any daemon exposing
// an OpenAI compatible endpoint, such as Ollama.
type OpenAI struct {
	name         string
	baseURL      string
	defaultModel string
	// apiKey is sent when the request carries none.
	apiKey     string
	maxRetries int
}

func NewOpenAI(baseURL string) *OpenAI {
	return &OpenAI{
		name:         "openai",
		baseURL:      strings.TrimSpace(baseURL),
		defaultModel: defaultOpenAIModel,
		maxRetries:   -1,
	}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	var opts []option.RequestOption
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	switch {
	case req.APIKey != "":
		opts = append(opts, option.WithAPIKey(req.APIKey))
	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}
	if o.maxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(o.maxRetries))
	}
	client := openai.NewClient(opts...)

	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       model,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s api error: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", o.name)
	}
	return resp.Choices[0].Message.Content, nil
}
