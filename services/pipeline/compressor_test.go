package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-context-tailor/models"
)

func longChunk(score float64, topic string) models.ScoredChunk {
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "The %s subsystem handles step %d of the flow. ", topic, i)
	}
	return models.ScoredChunk{ChunkID: uuid.New(), DocumentID: uuid.New(), Content: sb.String(), FinalScore: score}
}

func TestCompressLevels(t *testing.T) {
	tokens := NewTokenCounter()
	c := NewContextCompressor(tokens, nil)

	chunks := []models.ScoredChunk{
		longChunk(0.9, "billing"),
		longChunk(0.5, "auth"),
		longChunk(0.2, "search"),
	}

	result := c.Compress(context.Background(), chunks, 100000)
	require.Len(t, result.Chunks, 3)

	byLevel := map[models.CompressionLevel]models.CompressedChunk{}
	for _, cc := range result.Chunks {
		byLevel[cc.Level] = cc
	}

	full, ok := byLevel[models.CompressionFull]
	require.True(t, ok)
	assert.Equal(t, chunks[0].ChunkID, full.OriginalChunkID)
	assert.Equal(t, full.OriginalTokenCount, full.CompressedTokenCount)

	summary, ok := byLevel[models.CompressionSummary]
	require.True(t, ok)
	assert.Equal(t, chunks[1].ChunkID, summary.OriginalChunkID)
	assert.Less(t, summary.CompressedTokenCount, summary.OriginalTokenCount)
	assert.NotEmpty(t, summary.Content)

	keywords, ok := byLevel[models.CompressionKeywords]
	require.True(t, ok)
	assert.Equal(t, chunks[2].ChunkID, keywords.OriginalChunkID)
	assert.Less(t, keywords.CompressedTokenCount, summary.CompressedTokenCount)

	assert.Equal(t, 1, result.Stats.FullCount)
	assert.Equal(t, 1, result.Stats.SummaryCount)
	assert.Equal(t, 1, result.Stats.KeywordsCount)
	assert.Equal(t, 0, result.Stats.DroppedCount)
	assert.Equal(t, result.Stats.CompressedTokens, result.TotalTokenCount)
	assert.Greater(t, result.Stats.SavingsPercent, 0.0)
}

func TestCompressNeverExceedsOriginal(t *testing.T) {
	tokens := NewTokenCounter()
	c := NewContextCompressor(tokens, nil)

	chunks := []models.ScoredChunk{
		longChunk(0.95, "alpha"),
		longChunk(0.65, "beta"),
		longChunk(0.45, "gamma"),
		longChunk(0.15, "delta"),
		{ChunkID: uuid.New(), Content: "tiny chunk", FinalScore: 0.8},
	}

	result := c.Compress(context.Background(), chunks, 100000)
	for _, cc := range result.Chunks {
		assert.LessOrEqual(t, cc.CompressedTokenCount, cc.OriginalTokenCount,
			"level %s must not grow the chunk", cc.Level)
	}
}

func TestCompressTightBudgetDrops(t *testing.T) {
	tokens := NewTokenCounter()
	c := NewContextCompressor(tokens, nil)

	chunks := []models.ScoredChunk{
		longChunk(0.9, "first"),
		longChunk(0.9, "second"),
		longChunk(0.9, "third"),
	}

	// Too small for even a keyword rendering of a chunk.
	budget := 4
	result := c.Compress(context.Background(), chunks, budget)
	assert.LessOrEqual(t, result.TotalTokenCount, budget)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, len(chunks), result.Stats.DroppedCount)
}

func TestCompressZeroBudget(t *testing.T) {
	tokens := NewTokenCounter()
	c := NewContextCompressor(tokens, nil)

	result := c.Compress(context.Background(), []models.ScoredChunk{longChunk(0.9, "x")}, 0)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, 1, result.Stats.DroppedCount)
	assert.Equal(t, 0, result.TotalTokenCount)
}

func TestCompressBestFirstOrder(t *testing.T) {
	tokens := NewTokenCounter()
	c := NewContextCompressor(tokens, nil)

	low := longChunk(0.75, "low")
	high := longChunk(0.95, "high")
	// Budget fits exactly one chunk at full fidelity; the higher score
	// must win regardless of input order.
	budget := tokens.Count(high.Content) + 5

	result := c.Compress(context.Background(), []models.ScoredChunk{low, high}, budget)
	require.NotEmpty(t, result.Chunks)
	assert.Equal(t, high.ChunkID, result.Chunks[0].OriginalChunkID)
	assert.Equal(t, models.CompressionFull, result.Chunks[0].Level)
}

func TestEstimateCompressedSizeMatchesLevels(t *testing.T) {
	tokens := NewTokenCounter()
	c := NewContextCompressor(tokens, nil)

	chunks := []models.ScoredChunk{
		longChunk(0.9, "billing"),
		longChunk(0.5, "auth"),
		longChunk(0.2, "search"),
	}

	estimate := c.EstimateCompressedSize(chunks, 100000)
	require.Len(t, estimate.Chunks, 3)
	assert.Equal(t, 1, estimate.Stats.FullCount)
	assert.Equal(t, 1, estimate.Stats.SummaryCount)
	assert.Equal(t, 1, estimate.Stats.KeywordsCount)

	// Estimates carry token math only, no generated text.
	for _, cc := range estimate.Chunks {
		if cc.Level != models.CompressionFull {
			assert.Empty(t, cc.Content)
		}
		assert.LessOrEqual(t, cc.CompressedTokenCount, cc.OriginalTokenCount)
	}
}

func TestLeadingSentences(t *testing.T) {
	tokens := NewTokenCounter()

	content := "First fact here. Second fact follows. Third fact closes."
	out := leadingSentences(content, 8, tokens)
	assert.True(t, strings.HasPrefix(out, "First fact here."))
	assert.Less(t, tokens.Count(out), tokens.Count(content))
}

func TestFrequencyKeywords(t *testing.T) {
	content := "redis redis redis cache cache eviction the the the and and"
	out := frequencyKeywords(content, 3)
	parts := strings.Split(out, ", ")
	require.Len(t, parts, 3)
	assert.Equal(t, "redis", parts[0])
	assert.Equal(t, "cache", parts[1])
	assert.Equal(t, "eviction", parts[2])
	assert.NotContains(t, out, "the")
}
