package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

const (
	fullThreshold    = 0.7
	summaryThreshold = 0.4

	// Target ratios; actual output may drift, estimates use them as-is.
	summaryRatio  = 0.35
	keywordsRatio = 0.10

	keywordsPerChunk = 12
)

// stopwords excluded from keyword extraction and coverage checks.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"has": true, "have": true, "was": true, "were": true, "with": true,
	"this": true, "that": true, "from": true, "they": true, "will": true,
	"would": true, "there": true, "their": true, "what": true, "about": true,
	"which": true, "when": true, "make": true, "like": true, "time": true,
	"just": true, "know": true, "into": true, "your": true, "some": true,
	"them": true, "than": true, "then": true, "its": true, "also": true,
	"how": true, "our": true, "out": true, "use": true, "using": true,
	"does": true, "should": true, "could": true, "been": true, "being": true,
	"each": true, "other": true, "more": true, "most": true, "such": true,
	"only": true, "over": true, "any": true, "may": true, "these": true,
	"those": true, "where": true, "while": true, "after": true, "before": true,
}

// ContextCompressor fits scored chunks into a token budget by walking
// them best-first and picking the highest-fidelity level that still
// fits: full, summary, keywords, or drop.
type ContextCompressor struct {
	tokens *TokenCounter
	llm    services.LLMClient
}

// NewContextCompressor creates a compressor. llm may be nil; summaries
// and keywords then come from the deterministic fallback.
func NewContextCompressor(tokens *TokenCounter, llm services.LLMClient) *ContextCompressor {
	return &ContextCompressor{tokens: tokens, llm: llm}
}

// Compress allocates chunks to compression levels under budget tokens.
func (c *ContextCompressor) Compress(ctx context.Context, scored []models.ScoredChunk, budget int) *models.CompressionResult {
	ordered := make([]models.ScoredChunk, len(scored))
	copy(ordered, scored)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FinalScore > ordered[j].FinalScore
	})

	result := &models.CompressionResult{}
	remaining := budget

	for _, chunk := range ordered {
		originalTokens := c.tokens.Count(chunk.Content)
		result.Stats.OriginalTokens += originalTokens

		if chunk.FinalScore >= fullThreshold && originalTokens <= remaining {
			result.Chunks = append(result.Chunks, compressedChunk(chunk, models.CompressionFull, chunk.Content, originalTokens, originalTokens))
			remaining -= originalTokens
			result.Stats.FullCount++
			result.Stats.CompressedTokens += originalTokens
			continue
		}

		if chunk.FinalScore >= summaryThreshold {
			summary := c.summarize(ctx, chunk.Content, int(math.Ceil(float64(originalTokens)*summaryRatio)))
			summaryTokens := c.tokens.Count(summary)
			if summaryTokens <= remaining && summaryTokens <= originalTokens {
				result.Chunks = append(result.Chunks, compressedChunk(chunk, models.CompressionSummary, summary, originalTokens, summaryTokens))
				remaining -= summaryTokens
				result.Stats.SummaryCount++
				result.Stats.CompressedTokens += summaryTokens
				continue
			}
		}

		keywords := c.extractKeywords(ctx, chunk.Content)
		keywordTokens := c.tokens.Count(keywords)
		if keywords != "" && keywordTokens <= remaining && keywordTokens <= originalTokens {
			result.Chunks = append(result.Chunks, compressedChunk(chunk, models.CompressionKeywords, keywords, originalTokens, keywordTokens))
			remaining -= keywordTokens
			result.Stats.KeywordsCount++
			result.Stats.CompressedTokens += keywordTokens
			continue
		}

		result.Stats.DroppedCount++
	}

	result.TotalTokenCount = result.Stats.CompressedTokens
	finishStats(&result.Stats)
	return result
}

// EstimateCompressedSize runs the same allocation using only token
// arithmetic; no LLM calls. Used by the preview path.
func (c *ContextCompressor) EstimateCompressedSize(scored []models.ScoredChunk, budget int) *models.CompressionResult {
	ordered := make([]models.ScoredChunk, len(scored))
	copy(ordered, scored)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FinalScore > ordered[j].FinalScore
	})

	result := &models.CompressionResult{}
	remaining := budget

	for _, chunk := range ordered {
		originalTokens := c.tokens.Count(chunk.Content)
		result.Stats.OriginalTokens += originalTokens

		summaryTokens := int(math.Ceil(float64(originalTokens) * summaryRatio))
		keywordTokens := int(math.Ceil(float64(originalTokens) * keywordsRatio))

		switch {
		case chunk.FinalScore >= fullThreshold && originalTokens <= remaining:
			result.Chunks = append(result.Chunks, compressedChunk(chunk, models.CompressionFull, chunk.Content, originalTokens, originalTokens))
			remaining -= originalTokens
			result.Stats.FullCount++
			result.Stats.CompressedTokens += originalTokens
		case chunk.FinalScore >= summaryThreshold && summaryTokens <= remaining:
			result.Chunks = append(result.Chunks, compressedChunk(chunk, models.CompressionSummary, "", originalTokens, summaryTokens))
			remaining -= summaryTokens
			result.Stats.SummaryCount++
			result.Stats.CompressedTokens += summaryTokens
		case keywordTokens <= remaining && keywordTokens > 0:
			result.Chunks = append(result.Chunks, compressedChunk(chunk, models.CompressionKeywords, "", originalTokens, keywordTokens))
			remaining -= keywordTokens
			result.Stats.KeywordsCount++
			result.Stats.CompressedTokens += keywordTokens
		default:
			result.Stats.DroppedCount++
		}
	}

	result.TotalTokenCount = result.Stats.CompressedTokens
	finishStats(&result.Stats)
	return result
}

// summarize shrinks content towards targetTokens, preferring the LLM
// and falling back to leading sentences.
func (c *ContextCompressor) summarize(ctx context.Context, content string, targetTokens int) string {
	if c.llm != nil {
		out, err := c.llm.Complete(ctx, services.LLMCompletionRequest{
			System:      "You compress technical documentation. Keep identifiers, values and commands intact.",
			Prompt:      fmt.Sprintf("Summarize in at most %d tokens, keeping concrete facts:\n\n%s", targetTokens, content),
			MaxTokens:   targetTokens + 64,
			Temperature: 0.0,
		})
		if err == nil && strings.TrimSpace(out) != "" {
			// Guard the invariant: a summary longer than the original
			// falls back to truncation below.
			if c.tokens.Count(out) <= c.tokens.Count(content) {
				return strings.TrimSpace(out)
			}
		} else if err != nil {
			log.Printf("LLM summary failed, using sentence fallback: %v", err)
		}
	}
	return leadingSentences(content, targetTokens, c.tokens)
}

// extractKeywords returns the salient terms of content, preferring the
// LLM and falling back to frequency ranking.
func (c *ContextCompressor) extractKeywords(ctx context.Context, content string) string {
	if c.llm != nil {
		out, err := c.llm.Complete(ctx, services.LLMCompletionRequest{
			System:      "You extract search keywords from technical text.",
			Prompt:      fmt.Sprintf("List the %d most salient terms, comma separated, no commentary:\n\n%s", keywordsPerChunk, truncate(content, 3000)),
			MaxTokens:   80,
			Temperature: 0.0,
		})
		if err == nil && strings.TrimSpace(out) != "" {
			if c.tokens.Count(out) <= c.tokens.Count(content) {
				return strings.TrimSpace(out)
			}
		} else if err != nil {
			log.Printf("LLM keyword extraction failed, using frequency fallback: %v", err)
		}
	}
	return frequencyKeywords(content, keywordsPerChunk)
}

// leadingSentences is the deterministic summary fallback: the first
// sentences that fit the target.
func leadingSentences(content string, targetTokens int, tokens *TokenCounter) string {
	sentences := sentenceEnd.FindAllString(content, -1)
	if len(sentences) == 0 {
		sentences = []string{content}
	}

	var kept []string
	total := 0
	for _, sent := range sentences {
		sent = strings.TrimSpace(sent)
		count := tokens.Count(sent)
		if total+count > targetTokens && len(kept) > 0 {
			break
		}
		kept = append(kept, sent)
		total += count
		if total >= targetTokens {
			break
		}
	}
	return strings.Join(kept, " ")
}

// frequencyKeywords is the deterministic keyword fallback: top unique
// content words by frequency, stopwords removed.
func frequencyKeywords(content string, k int) string {
	counts := make(map[string]int)
	order := make(map[string]int)
	idx := 0
	for _, word := range strings.Fields(strings.ToLower(content)) {
		word = strings.Trim(word, ".,!?;:()[]{}\"'`#*_-")
		if len(word) < 3 || stopwords[word] {
			continue
		}
		if _, seen := counts[word]; !seen {
			order[word] = idx
			idx++
		}
		counts[word]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return order[words[i]] < order[words[j]]
	})

	if len(words) > k {
		words = words[:k]
	}
	return strings.Join(words, ", ")
}

func compressedChunk(chunk models.ScoredChunk, level models.CompressionLevel, content string, original, compressed int) models.CompressedChunk {
	return models.CompressedChunk{
		OriginalChunkID:      chunk.ChunkID,
		DocumentID:           chunk.DocumentID,
		Level:                level,
		Content:              content,
		OriginalTokenCount:   original,
		CompressedTokenCount: compressed,
		RelevanceScore:       chunk.FinalScore,
	}
}

func finishStats(stats *models.CompressionStats) {
	if stats.OriginalTokens > 0 {
		stats.SavingsPercent = 1 - float64(stats.CompressedTokens)/float64(stats.OriginalTokens)
	}
}
