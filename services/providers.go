package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tas-context-tailor/models"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorEntry is one vector plus its addressing metadata, as stored in a
// vector index.
type VectorEntry struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	DocumentID uuid.UUID
	Vector     []float32
	Metadata   map[string]interface{}
}

// VectorMatch is one nearest-neighbour hit. Score is cosine similarity.
type VectorMatch struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Score      float64
	Metadata   map[string]interface{}
}

// VectorFilter restricts a query to entries whose metadata matches. A
// value of type []interface{} is treated as an IN filter.
type VectorFilter map[string]interface{}

// VectorIndex stores chunk embeddings partitioned by project.
type VectorIndex interface {
	Upsert(ctx context.Context, projectID uuid.UUID, entries []VectorEntry) error
	Query(ctx context.Context, projectID uuid.UUID, vector []float32, topK int, filter VectorFilter) ([]VectorMatch, error)
	DeleteByDocument(ctx context.Context, projectID, documentID uuid.UUID) error
	DeleteProject(ctx context.Context, projectID uuid.UUID) error
}

// ExtractResult is extracted plain text plus the structural hints the
// chunker keys off.
type ExtractResult struct {
	Text  string
	Hints models.StructuralHints
}

// TextExtractor pulls plain text out of an uploaded file.
type TextExtractor interface {
	// Extract returns ErrEmptyExtract when the file decodes to only
	// whitespace and an error for unsupported or corrupt input.
	Extract(filename, mimeType string, data []byte) (*ExtractResult, error)
	Supports(filename, mimeType string) bool
}

// WebSearchOptions shape one provider call. SearchDepth is "basic" or
// "advanced"; providers without a depth knob ignore it.
type WebSearchOptions struct {
	MaxResults     int
	SearchDepth    string
	IncludeDomains []string
	ExcludeDomains []string
	Timeout        time.Duration
}

// WebSearcher runs external search queries. Implementations normalize
// provider scores into [0,1] before returning.
type WebSearcher interface {
	Search(ctx context.Context, query string, opts WebSearchOptions) ([]models.WebResult, error)
	Name() string
}

// LLMCompletionRequest is one chat completion call.
type LLMCompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSONMode asks the provider for a JSON-only response where supported.
	JSONMode bool
}

// LLMClient is a minimal chat completion client.
type LLMClient interface {
	Complete(ctx context.Context, req LLMCompletionRequest) (string, error)
	Model() string
}

// CrossEncoder scores query/passage pairs for reranking. Scores are
// monotone in relevance but not calibrated across calls.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// CacheService is a read-through cache for expensive derived values.
// Implementations must degrade to no-ops when the backend is down.
type CacheService interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}
