package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tas-context-tailor/config"
	"github.com/tas-context-tailor/services"
)

// dedicatedCrossEncoder implements CrossEncoder against a hosted rerank
// endpoint speaking the common {query, documents} -> scores shape.
type dedicatedCrossEncoder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewDedicatedCrossEncoder creates a CrossEncoder that calls an external
// rerank service.
func NewDedicatedCrossEncoder(cfg *config.RerankerConfig) (services.CrossEncoder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("reranker base URL is required (RERANKER_BASE_URL)")
	}
	return &dedicatedCrossEncoder{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (d *dedicatedCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":     d.model,
		"query":     query,
		"documents": passages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reranker returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(passages))
	for _, r := range parsed.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}

// llmCrossEncoder implements CrossEncoder as LLM-as-judge: one JSON call
// scoring every passage 0-10, normalized to [0,1].
type llmCrossEncoder struct {
	llm services.LLMClient
}

// NewLLMCrossEncoder creates a CrossEncoder on top of a chat model.
func NewLLMCrossEncoder(llm services.LLMClient) services.CrossEncoder {
	return &llmCrossEncoder{llm: llm}
}

func (l *llmCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Rate how relevant each passage is to the query on a 0-10 scale.\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	for i, p := range passages {
		if len(p) > 800 {
			p = p[:800]
		}
		fmt.Fprintf(&sb, "Passage %d:\n%s\n\n", i, p)
	}
	fmt.Fprintf(&sb, "Return JSON: {\"scores\": [..]} with exactly %d numbers, one per passage in order.", len(passages))

	out, err := l.llm.Complete(ctx, services.LLMCompletionRequest{
		System:      "You are a relevance judge for a retrieval system.",
		Prompt:      sb.String(),
		MaxTokens:   512,
		Temperature: 0.0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(out)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse judge response: %w", err)
	}
	if len(parsed.Scores) != len(passages) {
		return nil, fmt.Errorf("judge returned %d scores for %d passages", len(parsed.Scores), len(passages))
	}

	scores := make([]float64, len(parsed.Scores))
	for i, s := range parsed.Scores {
		scores[i] = clamp01(s / 10.0)
	}
	return scores, nil
}

// extractJSONObject strips code fences and surrounding prose from a
// model response, returning the outermost JSON object.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
