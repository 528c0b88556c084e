package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

// ScorerOptions carry the fusion weights and candidate caps.
type ScorerOptions struct {
	SemanticWeight float64
	KeywordWeight  float64
	RerankWeight   float64
	WideTopK       int
	RerankTopN     int
}

// DefaultScorerOptions returns the standard weights.
func DefaultScorerOptions() ScorerOptions {
	return ScorerOptions{
		SemanticWeight: 0.7,
		KeywordWeight:  0.3,
		RerankWeight:   0.5,
		WideTopK:       40,
		RerankTopN:     20,
	}
}

// RelevanceScorer ranks a project's chunks against a query with hybrid
// semantic plus keyword scoring and an optional cross-encoder rerank.
type RelevanceScorer struct {
	embedder services.Embedder
	index    services.VectorIndex
	store    services.MetadataStore
	encoder  services.CrossEncoder
	opts     ScorerOptions
}

// NewRelevanceScorer creates a RelevanceScorer. encoder may be nil to
// disable reranking.
func NewRelevanceScorer(embedder services.Embedder, index services.VectorIndex, store services.MetadataStore, encoder services.CrossEncoder, opts ScorerOptions) *RelevanceScorer {
	if opts.WideTopK <= 0 {
		opts.WideTopK = 40
	}
	if opts.RerankTopN <= 0 {
		opts.RerankTopN = 20
	}
	return &RelevanceScorer{
		embedder: embedder,
		index:    index,
		store:    store,
		encoder:  encoder,
		opts:     opts,
	}
}

// Score returns ScoredChunks ranked by finalScore. The returned bool is
// true when the embedder was unavailable and scoring fell back to
// keyword-only.
func (r *RelevanceScorer) Score(ctx context.Context, projectID uuid.UUID, query string, keyEntities []string) ([]models.ScoredChunk, bool, error) {
	scored, err := r.scoreSemantic(ctx, projectID, query, keyEntities)
	if err != nil {
		if !errors.Is(err, services.ErrEmbedderUnavailable) {
			return nil, false, err
		}
		log.Printf("embedder unavailable, scoring by keywords only: %v", err)
		scored, err = r.scoreKeywordOnly(ctx, projectID, query, keyEntities)
		if err != nil {
			return nil, true, err
		}
		return scored, true, nil
	}
	return scored, false, nil
}

func (r *RelevanceScorer) scoreSemantic(ctx context.Context, projectID uuid.UUID, query string, keyEntities []string) ([]models.ScoredChunk, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	matches, err := r.index.Query(ctx, projectID, vectors[0], r.opts.WideTopK, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(matches))
	semantic := make(map[uuid.UUID]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		semantic[m.ID] = clampScore(m.Score)
	}

	chunks, err := r.store.GetChunksByIDs(ctx, projectID, ids)
	if err != nil {
		return nil, err
	}

	queryTerms := keywordTerms(query, keyEntities)
	scored := make([]models.ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		sem := semantic[chunk.ID]
		kw := keywordScore(chunk.Content, queryTerms)
		scored = append(scored, models.ScoredChunk{
			ChunkID:       chunk.ID,
			DocumentID:    chunk.DocumentID,
			Content:       chunk.Content,
			Position:      chunk.Position,
			SemanticScore: sem,
			KeywordScore:  kw,
			FinalScore:    r.opts.SemanticWeight*sem + r.opts.KeywordWeight*kw,
		})
	}

	r.rerank(ctx, query, scored)
	rankScored(scored)
	return scored, nil
}

// scoreKeywordOnly is the degraded path: semantic weight drops to zero
// and candidates come straight from the metadata store.
func (r *RelevanceScorer) scoreKeywordOnly(ctx context.Context, projectID uuid.UUID, query string, keyEntities []string) ([]models.ScoredChunk, error) {
	chunks, err := r.store.ListChunks(ctx, projectID, 500)
	if err != nil {
		return nil, err
	}

	queryTerms := keywordTerms(query, keyEntities)
	scored := make([]models.ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		kw := keywordScore(chunk.Content, queryTerms)
		if kw == 0 {
			continue
		}
		scored = append(scored, models.ScoredChunk{
			ChunkID:      chunk.ID,
			DocumentID:   chunk.DocumentID,
			Content:      chunk.Content,
			Position:     chunk.Position,
			KeywordScore: kw,
			FinalScore:   r.opts.KeywordWeight * kw,
		})
	}

	rankScored(scored)
	if len(scored) > r.opts.WideTopK {
		scored = scored[:r.opts.WideTopK]
	}
	return scored, nil
}

// rerank fuses cross-encoder scores into the top N. Reranker failure is
// non-fatal; base scores stand.
func (r *RelevanceScorer) rerank(ctx context.Context, query string, scored []models.ScoredChunk) {
	if r.encoder == nil || len(scored) == 0 {
		return
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})

	n := min(r.opts.RerankTopN, len(scored))
	passages := make([]string, n)
	for i := 0; i < n; i++ {
		passages[i] = scored[i].Content
	}

	rerankScores, err := r.encoder.Score(ctx, query, passages)
	if err != nil || len(rerankScores) != n {
		log.Printf("rerank failed, keeping base scores: %v", err)
		return
	}

	baseWeight := 1 - r.opts.RerankWeight
	for i := 0; i < n; i++ {
		score := clampScore(rerankScores[i])
		scored[i].RerankScore = &score
		scored[i].FinalScore = baseWeight*scored[i].FinalScore + r.opts.RerankWeight*score
	}
}

// MergeScored combines results from parallel query rounds, keeping the
// max finalScore per chunk, then reassigns ranks deterministically.
func MergeScored(rounds ...[]models.ScoredChunk) []models.ScoredChunk {
	best := make(map[uuid.UUID]models.ScoredChunk)
	for _, round := range rounds {
		for _, sc := range round {
			if prev, ok := best[sc.ChunkID]; !ok || sc.FinalScore > prev.FinalScore {
				best[sc.ChunkID] = sc
			}
		}
	}

	merged := make([]models.ScoredChunk, 0, len(best))
	for _, sc := range best {
		merged = append(merged, sc)
	}
	rankScored(merged)
	return merged
}

// rankScored sorts by finalScore desc with deterministic tie-breaks
// (semanticScore, then chunk position, then id) and assigns 1-based
// ranks.
func rankScored(scored []models.ScoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		if scored[i].SemanticScore != scored[j].SemanticScore {
			return scored[i].SemanticScore > scored[j].SemanticScore
		}
		if scored[i].Position != scored[j].Position {
			return scored[i].Position < scored[j].Position
		}
		return scored[i].ChunkID.String() < scored[j].ChunkID.String()
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}
}

// keywordTerms builds the lowercase term set from the query words and
// the task's key entities.
func keywordTerms(query string, keyEntities []string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?;:()[]{}\"'`")
		if len(w) >= 2 {
			terms[w] = true
		}
	}
	for _, e := range keyEntities {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			terms[e] = true
		}
	}
	return terms
}

// keywordScore is the fraction of query terms present in the chunk,
// normalized to [0,1].
func keywordScore(content string, terms map[string]bool) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
