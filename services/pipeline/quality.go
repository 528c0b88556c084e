package pipeline

import (
	"math"
	"strings"
	"time"

	"github.com/tas-context-tailor/models"
)

// QualityScorer rates an assembled context against the task that asked
// for it.
type QualityScorer struct{}

// NewQualityScorer creates a QualityScorer.
func NewQualityScorer() *QualityScorer {
	return &QualityScorer{}
}

// Score produces the quality report: four [0,1] sub-scores and a 0-100
// overall.
func (q *QualityScorer) Score(taskInput string, synth *models.SynthesizedContext, included []models.CompressedChunk, stats models.CompressionStats) *models.QualityReport {
	sub := models.QualitySubScores{
		Coverage:    coverageScore(taskInput, synth),
		Diversity:   diversityScore(synth, included),
		Relevance:   relevanceScore(included),
		Compression: compressionScore(stats),
	}

	overall := int(math.Round(100 * (0.3*sub.Coverage + 0.2*sub.Diversity + 0.35*sub.Relevance + 0.15*sub.Compression)))
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}

	return &models.QualityReport{
		Overall:     overall,
		SubScores:   sub,
		Suggestions: buildSuggestions(sub),
		ScoredAt:    time.Now().UTC(),
	}
}

// coverageScore is the fraction of significant task keywords present in
// the assembled content. A task with no significant keywords scores 1.
func coverageScore(taskInput string, synth *models.SynthesizedContext) float64 {
	keywords := significantKeywords(taskInput)
	if len(keywords) == 0 {
		return 1
	}

	var sb strings.Builder
	for _, block := range synth.Blocks {
		sb.WriteString(strings.ToLower(block.Content))
		sb.WriteString(" ")
	}
	content := sb.String()

	hits := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func diversityScore(synth *models.SynthesizedContext, included []models.CompressedChunk) float64 {
	if synth.SourceCount == 0 {
		return 0
	}

	uniqueDocs := make(map[string]bool)
	for _, chunk := range included {
		uniqueDocs[chunk.DocumentID.String()] = true
	}

	score := 0.2 * math.Min(float64(len(uniqueDocs)), 3)
	if score > 0.8 {
		score = 0.8
	}

	hasDoc, hasWeb := false, false
	for _, block := range synth.Blocks {
		for _, src := range block.Sources {
			switch src.SourceType {
			case models.SourceProjectDoc:
				hasDoc = true
			case models.SourceWebSearch:
				hasWeb = true
			}
		}
	}
	if hasDoc && hasWeb {
		score += 0.2
	}

	return math.Min(score, 1)
}

// relevanceScore is the mean final score of included chunks, penalized
// when anything weakly relevant slipped in.
func relevanceScore(included []models.CompressedChunk) float64 {
	if len(included) == 0 {
		return 0
	}
	sum := 0.0
	lowRelevance := false
	for _, chunk := range included {
		sum += chunk.RelevanceScore
		if chunk.RelevanceScore < 0.3 {
			lowRelevance = true
		}
	}
	score := sum / float64(len(included))
	if lowRelevance {
		score -= 0.1
	}
	return math.Max(0, math.Min(score, 1))
}

// compressionScore peaks at 1 for a compressed/raw ratio inside
// [0.2, 0.5] and decays linearly outside the band.
func compressionScore(stats models.CompressionStats) float64 {
	if stats.OriginalTokens == 0 {
		return 0.5
	}
	ratio := float64(stats.CompressedTokens) / float64(stats.OriginalTokens)
	switch {
	case ratio >= 0.2 && ratio <= 0.5:
		return 1
	case ratio < 0.2:
		return ratio / 0.2
	default:
		score := (1 - ratio) / 0.5
		return math.Max(0, score)
	}
}

func buildSuggestions(sub models.QualitySubScores) []string {
	var suggestions []string
	if sub.Coverage < 0.5 {
		suggestions = append(suggestions, "coverage is low: upload more documentation relevant to this task")
	}
	if sub.Diversity < 0.4 {
		suggestions = append(suggestions, "context relies on a single source: consider enabling web search or uploading additional documents")
	}
	if sub.Relevance < 0.5 {
		suggestions = append(suggestions, "retrieved content is weakly relevant: refine the task wording")
	}
	if sub.Compression < 0.5 {
		suggestions = append(suggestions, "compression is outside the effective band: adjust the token budget")
	}
	return suggestions
}

// significantKeywords are the stopword-filtered task words of length 3
// or more, lowercased and deduplicated.
func significantKeywords(taskInput string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(taskInput)) {
		word = strings.Trim(word, ".,!?;:()[]{}\"'`")
		if len(word) < 3 || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}
