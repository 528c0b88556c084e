package models

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ScoredChunk is an immutable per-request scoring record for one retrieved
// chunk. Scores are monotone, not calibrated.
type ScoredChunk struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	Content       string    `json:"content"`
	Position      int       `json:"position"`
	SemanticScore float64   `json:"semantic_score"`
	KeywordScore  float64   `json:"keyword_score"`
	RerankScore   *float64  `json:"rerank_score,omitempty"`
	FinalScore    float64   `json:"final_score"`
	Rank          int       `json:"rank"`
}

type CompressionLevel string

const (
	CompressionFull     CompressionLevel = "full"
	CompressionSummary  CompressionLevel = "summary"
	CompressionKeywords CompressionLevel = "keywords"
)

// CompressedChunk is the budget-fitted form of a scored chunk.
// CompressedTokenCount never exceeds OriginalTokenCount.
type CompressedChunk struct {
	OriginalChunkID      uuid.UUID        `json:"original_chunk_id"`
	DocumentID           uuid.UUID        `json:"document_id"`
	Level                CompressionLevel `json:"level"`
	Content              string           `json:"content"`
	OriginalTokenCount   int              `json:"original_token_count"`
	CompressedTokenCount int              `json:"compressed_token_count"`
	RelevanceScore       float64          `json:"relevance_score"`
}

// CompressionStats summarizes one compression run.
type CompressionStats struct {
	FullCount        int     `json:"full_count"`
	SummaryCount     int     `json:"summary_count"`
	KeywordsCount    int     `json:"keywords_count"`
	DroppedCount     int     `json:"dropped_count"`
	OriginalTokens   int     `json:"original_tokens"`
	CompressedTokens int     `json:"compressed_tokens"`
	SavingsPercent   float64 `json:"savings_percent"`
}

// CompressionResult is the compressor's output for one request.
type CompressionResult struct {
	Chunks          []CompressedChunk `json:"chunks"`
	TotalTokenCount int               `json:"total_token_count"`
	Stats           CompressionStats  `json:"stats"`
}

// TokenBudget tracks per-section allocations for one request. Budgets are
// immutable; TrackUsage and Rebalance return new values.
type TokenBudget struct {
	TotalAvailable int            `json:"total_available"`
	Allocations    map[string]int `json:"allocations"`
	Used           map[string]int `json:"used"`
	Remaining      int            `json:"remaining"`
}

type GapType string

const (
	GapNoContext       GapType = "no_context"
	GapMissingDomain   GapType = "missing_domain"
	GapShallowCoverage GapType = "shallow_coverage"
	GapMissingExamples GapType = "missing_examples"
)

type GapSeverity string

const (
	SeverityLow      GapSeverity = "low"
	SeverityMedium   GapSeverity = "medium"
	SeverityHigh     GapSeverity = "high"
	SeverityCritical GapSeverity = "critical"
)

// Gap is one detected shortfall in retrieved coverage.
type Gap struct {
	Type             GapType         `json:"type"`
	Severity         GapSeverity     `json:"severity"`
	Domain           KnowledgeDomain `json:"domain,omitempty"`
	Description      string          `json:"description"`
	SuggestedQueries []string        `json:"suggested_queries,omitempty"`
}

// GapReport is the gap detector's coverage verdict for one request.
type GapReport struct {
	Gaps                           []Gap   `json:"gaps"`
	OverallCoverage                float64 `json:"overall_coverage"`
	IsActionable                   bool    `json:"is_actionable"`
	EstimatedQualityWithoutFilling float64 `json:"estimated_quality_without_filling"`
	EstimatedQualityWithFilling    float64 `json:"estimated_quality_with_filling"`
}

// WebResult is one normalized result from a web-search provider. Score is
// always inside [0,1].
type WebResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
	RawContent    string  `json:"raw_content,omitempty"`
	Provider      string  `json:"provider"`
}

// TailorOptions are the caller-controlled knobs on a tailor request.
type TailorOptions struct {
	IncludeWebSearch *bool  `json:"include_web_search,omitempty"`
	MaxTokens        int    `json:"max_tokens,omitempty"`
	Model            string `json:"model,omitempty"`
}

// TailorRequest is the payload for POST /api/tailor and /api/tailor/preview.
type TailorRequest struct {
	ProjectID      uuid.UUID      `json:"project_id" binding:"required"`
	TaskInput      string         `json:"task_input" binding:"required,min=1,max=8000"`
	TargetPlatform TargetPlatform `json:"target_platform" binding:"required,oneof=chatgpt claude"`
	Options        TailorOptions  `json:"options"`
}

// SectionStat describes one populated section of the assembled context.
type SectionStat struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	TokenCount  int    `json:"token_count"`
	SourceCount int    `json:"source_count"`
}

// TailorMetadata is the pipeline metadata attached to every response and
// persisted into the session row.
type TailorMetadata struct {
	TotalTokens      int              `json:"total_tokens"`
	TokensUsed       int              `json:"tokens_used"`
	ChunksRetrieved  int              `json:"chunks_retrieved"`
	ChunksIncluded   int              `json:"chunks_included"`
	GapReport        *GapReport       `json:"gap_report,omitempty"`
	CompressionStats CompressionStats `json:"compression_stats"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	QualityScore     float64          `json:"quality_score"`
	QualityReport    *QualityReport   `json:"quality_report,omitempty"`
	Degraded         bool             `json:"degraded"`
	WebSearchUsed    bool             `json:"web_search_used"`
}

// AsJSON encodes the metadata for the session row's JSON column.
func (m *TailorMetadata) AsJSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// TailorResponse is the full-pipeline response.
type TailorResponse struct {
	SessionID uuid.UUID      `json:"session_id"`
	Context   string         `json:"context"`
	Sections  []SectionStat  `json:"sections"`
	Metadata  TailorMetadata `json:"metadata"`
}

// TailorPreviewResponse is the fast-path response; no LLM calls, no
// session row.
type TailorPreviewResponse struct {
	EstimatedTokens  int     `json:"estimated_tokens"`
	EstimatedChunks  int     `json:"estimated_chunks"`
	GapSummary       string  `json:"gap_summary"`
	EstimatedQuality float64 `json:"estimated_quality"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// SearchDocsRequest is the payload for POST /api/search/docs.
type SearchDocsRequest struct {
	Query     string    `json:"query" binding:"required"`
	ProjectID uuid.UUID `json:"project_id" binding:"required"`
	TopK      int       `json:"top_k"`
	MinScore  float64   `json:"min_score"`
}
