package impl

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/tas-context-tailor/config"
	"github.com/tas-context-tailor/services"
)

// openaiLLM implements LLMClient on the OpenAI chat completions API.
type openaiLLM struct {
	client      openaisdk.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAILLM creates an LLMClient backed by the OpenAI API.
func NewOpenAILLM(cfg *config.LLMConfig) (services.LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required (LLM_API_KEY)")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &openaiLLM{
		client:      openaisdk.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (l *openaiLLM) Model() string { return l.model }

func (l *openaiLLM) Complete(ctx context.Context, req services.LLMCompletionRequest) (string, error) {
	var messages []openaisdk.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openaisdk.SystemMessage(req.System))
	}
	messages = append(messages, openaisdk.UserMessage(req.Prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(l.model),
		Messages: messages,
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = l.maxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(maxTokens))
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = l.temperature
	}
	params.Temperature = openaisdk.Float(temperature)

	if req.JSONMode {
		params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := l.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
