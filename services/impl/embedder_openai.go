package impl

import (
	"context"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tas-context-tailor/config"
	"github.com/tas-context-tailor/services"
)

const embedBackoffBase = 250 * time.Millisecond

// openaiEmbedder implements Embedder on the OpenAI embeddings API.
type openaiEmbedder struct {
	client     openaisdk.Client
	model      string
	dimension  int
	batchSize  int
	maxRetries int
}

// NewOpenAIEmbedder creates an Embedder backed by the OpenAI API.
func NewOpenAIEmbedder(cfg *config.EmbedderConfig) (services.Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedder API key is required (EMBEDDER_API_KEY)")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &openaiEmbedder{
		client:     openaisdk.NewClient(opts...),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}, nil
}

// Embed embeds texts in batches, preserving input order. Transient API
// failures are retried with exponential backoff before the whole call is
// reported as unavailable.
func (e *openaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (e *openaiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := embedBackoffBase

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
			Model: openaisdk.EmbeddingModel(e.model),
			Input: openaisdk.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) != len(texts) {
			lastErr = fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(resp.Data), len(texts))
			continue
		}

		vectors := make([][]float32, len(texts))
		for _, item := range resp.Data {
			vec := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float32(v)
			}
			vectors[item.Index] = vec
		}
		return vectors, nil
	}

	return nil, fmt.Errorf("%w: %v", services.ErrEmbedderUnavailable, lastErr)
}

func (e *openaiEmbedder) Dimension() int {
	return e.dimension
}
