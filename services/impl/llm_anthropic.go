package impl

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tas-context-tailor/config"
	"github.com/tas-context-tailor/services"
)

// anthropicLLM implements LLMClient on the Anthropic messages API.
type anthropicLLM struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewAnthropicLLM creates an LLMClient backed by the Anthropic API.
func NewAnthropicLLM(cfg *config.LLMConfig) (services.LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required (LLM_API_KEY)")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	return &anthropicLLM{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (l *anthropicLLM) Model() string { return l.model }

func (l *anthropicLLM) Complete(ctx context.Context, req services.LLMCompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = l.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	system := req.System
	if req.JSONMode {
		// The messages API has no JSON response mode; lean on the
		// system prompt instead.
		if system != "" {
			system += "\n"
		}
		system += "Respond with a single valid JSON object and nothing else."
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = l.temperature
	}
	params.Temperature = anthropic.Float(temperature)

	resp, err := l.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("message completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("message completion returned no text")
	}

	return sb.String(), nil
}
