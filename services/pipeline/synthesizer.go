package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tas-context-tailor/models"
)

const dedupJaccardThreshold = 0.6

var (
	numericClaim = regexp.MustCompile(`(?m)([A-Za-z_][A-Za-z0-9_.-]*)\s*[=:]\s*([0-9]+(?:\.[0-9]+)?\s*[A-Za-z%]*)`)
	booleanClaim = regexp.MustCompile(`(?i)\b(enable[sd]?|disable[sd]?|supports?|does not support|deprecated)\b\s+([A-Za-z0-9_./ -]{2,40})`)

	imperativeVerb = regexp.MustCompile(`(?i)\b(install|run|create|add|use|configure|set|define|call|implement|import|export|build|deploy|register|initialize|update|enable)\b`)
	stepWithCode   = regexp.MustCompile("(?m)^\\s*\\d+[.)]\\s.*`[^`]+`")
	numberToken    = regexp.MustCompile(`\b\d`)
)

// priorityWeights order: relevance, recency, authority, specificity.
type priorityWeights struct {
	relevance   float64
	recency     float64
	authority   float64
	specificity float64
}

var defaultPriority = priorityWeights{0.4, 0.2, 0.2, 0.2}

// taskPriorityOverrides shift emphasis by task type.
var taskPriorityOverrides = map[models.TaskType]priorityWeights{
	models.TaskTypeCoding:    {0.35, 0.1, 0.2, 0.35},
	models.TaskTypeDebugging: {0.35, 0.1, 0.2, 0.35},
	models.TaskTypeResearch:  {0.3, 0.35, 0.2, 0.15},
}

// Synthesizer turns compressed chunks and web results into attributed,
// sectioned blocks: dedup, contradiction detection, classification,
// priority ranking and web merge.
type Synthesizer struct {
	tokens *TokenCounter
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(tokens *TokenCounter) *Synthesizer {
	return &Synthesizer{tokens: tokens}
}

// Synthesize builds the synthesized context for one request. docTitles
// maps document ids to display names for source attribution.
func (s *Synthesizer) Synthesize(compressed []models.CompressedChunk, webResults []models.WebResult, analysis *models.TaskAnalysis, docTitles map[uuid.UUID]string) *models.SynthesizedContext {
	kept := DedupChunks(compressed)
	contradictions := detectContradictions(kept, docTitles)

	weights := defaultPriority
	if analysis != nil {
		if override, ok := taskPriorityOverrides[analysis.TaskType]; ok {
			weights = override
		}
	}

	var blocks []models.SynthesizedBlock
	for _, chunk := range kept {
		section := classifySection(chunk, analysis)
		source := chunkSource(chunk, docTitles)
		block := models.SynthesizedBlock{
			Content:  chunk.Content,
			Sources:  []models.SourceRef{source},
			Section:  section,
			Priority: blockPriority(weights, chunk.RelevanceScore, 0.5, source.AuthorityScore, specificityScore(chunk.Content)),
		}
		if c, ok := contradictions[chunk.OriginalChunkID]; ok {
			block.Contradictions = c
		}
		blocks = append(blocks, block)
	}

	// Web results land in Related Resources unless they duplicate an
	// existing block.
	for _, result := range webResults {
		content := result.Snippet
		if content == "" {
			content = result.Title
		}
		if isDuplicateOfBlocks(content, blocks) {
			continue
		}
		recency := 0.5
		if result.PublishedDate != "" {
			recency = 0.8
		}
		blocks = append(blocks, models.SynthesizedBlock{
			Content: fmt.Sprintf("%s\n%s", result.Title, content),
			Sources: []models.SourceRef{{
				SourceType:     models.SourceWebSearch,
				SourceID:       result.URL,
				Title:          result.Title,
				URL:            result.URL,
				AuthorityScore: models.SourceWebSearch.AuthorityScore(),
			}},
			Section:  models.SectionRelatedResources,
			Priority: blockPriority(weights, result.Score, recency, models.SourceWebSearch.AuthorityScore(), specificityScore(content)),
		})
	}

	ordered := orderBlocks(blocks)

	total := 0
	sourceSet := make(map[string]bool)
	contradictionCount := 0
	sectionSeen := make(map[string]bool)
	for _, b := range ordered {
		total += s.tokens.Estimate(b.Content)
		for _, src := range b.Sources {
			sourceSet[src.SourceID] = true
		}
		contradictionCount += len(b.Contradictions)
		sectionSeen[b.Section] = true
	}

	var sections []string
	for _, name := range models.SectionOrder {
		if sectionSeen[name] {
			sections = append(sections, name)
		}
	}

	return &models.SynthesizedContext{
		Blocks:             ordered,
		TotalTokenCount:    total,
		SourceCount:        len(sourceSet),
		ContradictionCount: contradictionCount,
		Sections:           sections,
	}
}

// DedupChunks removes near-duplicates by word-set Jaccard similarity,
// keeping the chunk with the higher relevance score. Idempotent.
func DedupChunks(chunks []models.CompressedChunk) []models.CompressedChunk {
	ordered := make([]models.CompressedChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RelevanceScore != ordered[j].RelevanceScore {
			return ordered[i].RelevanceScore > ordered[j].RelevanceScore
		}
		return ordered[i].OriginalChunkID.String() < ordered[j].OriginalChunkID.String()
	})

	var kept []models.CompressedChunk
	var keptWords []map[string]bool
	for _, chunk := range ordered {
		words := wordSet(chunk.Content)
		duplicate := false
		for _, existing := range keptWords {
			if jaccard(words, existing) > dedupJaccardThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, chunk)
			keptWords = append(keptWords, words)
		}
	}
	return kept
}

// detectContradictions groups extracted claims by entity and reports
// entities asserted with distinct values by distinct chunks. The result
// maps chunk id to the contradictions that chunk participates in as the
// primary claimant.
func detectContradictions(chunks []models.CompressedChunk, docTitles map[uuid.UUID]string) map[uuid.UUID][]models.Contradiction {
	type claim struct {
		value string
		chunk models.CompressedChunk
	}
	byEntity := make(map[string][]claim)
	var entityOrder []string

	addClaim := func(entity, value string, chunk models.CompressedChunk) {
		entity = strings.ToLower(strings.TrimSpace(entity))
		value = strings.TrimSpace(value)
		if entity == "" || value == "" {
			return
		}
		if _, ok := byEntity[entity]; !ok {
			entityOrder = append(entityOrder, entity)
		}
		byEntity[entity] = append(byEntity[entity], claim{value, chunk})
	}

	for _, chunk := range chunks {
		for _, m := range numericClaim.FindAllStringSubmatch(chunk.Content, -1) {
			addClaim(m[1], m[2], chunk)
		}
		for _, m := range booleanClaim.FindAllStringSubmatch(chunk.Content, -1) {
			addClaim(m[2], strings.ToLower(m[1]), chunk)
		}
	}

	out := make(map[uuid.UUID][]models.Contradiction)
	for _, entity := range entityOrder {
		claims := byEntity[entity]
		// First claim per distinct value, first chunk per value.
		values := make(map[string]claim)
		var valueOrder []string
		for _, c := range claims {
			key := strings.ToLower(c.value)
			if _, ok := values[key]; !ok {
				values[key] = c
				valueOrder = append(valueOrder, key)
			}
		}
		if len(valueOrder) < 2 {
			continue
		}
		primary := values[valueOrder[0]]
		alternative := values[valueOrder[1]]
		if primary.chunk.OriginalChunkID == alternative.chunk.OriginalChunkID {
			continue
		}

		contradiction := models.Contradiction{
			Claim:              fmt.Sprintf("%s: %s", entity, primary.value),
			Sources:            []models.SourceRef{chunkSource(primary.chunk, docTitles)},
			Alternative:        fmt.Sprintf("%s: %s", entity, alternative.value),
			AlternativeSources: []models.SourceRef{chunkSource(alternative.chunk, docTitles)},
		}
		out[primary.chunk.OriginalChunkID] = append(out[primary.chunk.OriginalChunkID], contradiction)
	}
	return out
}

// classifySection picks the section for one chunk per the fixed rules:
// examples first, then core implementation, background otherwise.
func classifySection(chunk models.CompressedChunk, analysis *models.TaskAnalysis) string {
	if strings.Contains(chunk.Content, "```") || stepWithCode.MatchString(chunk.Content) {
		return models.SectionExamples
	}
	if chunk.RelevanceScore >= 0.7 {
		if imperativeVerb.MatchString(chunk.Content) || matchesPrimaryDomain(chunk.Content, analysis) {
			return models.SectionCoreImplementation
		}
	}
	return models.SectionBackgroundContext
}

func matchesPrimaryDomain(content string, analysis *models.TaskAnalysis) bool {
	if analysis == nil || len(analysis.Domains) == 0 {
		return false
	}
	lower := strings.ToLower(content)
	for _, kw := range domainLexicon[analysis.Domains[0]] {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func blockPriority(w priorityWeights, relevance, recency, authority, specificity float64) float64 {
	return w.relevance*relevance + w.recency*recency + w.authority*authority + w.specificity*specificity
}

// specificityScore is a density heuristic: code markers, numbers and
// inline identifiers raise it.
func specificityScore(content string) float64 {
	score := 0.0
	for _, indicator := range codeIndicators {
		if strings.Contains(content, indicator) {
			score += 0.2
		}
		if score >= 0.6 {
			break
		}
	}
	if numberToken.MatchString(content) {
		score += 0.2
	}
	if strings.Contains(content, "`") {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

func isDuplicateOfBlocks(content string, blocks []models.SynthesizedBlock) bool {
	words := wordSet(content)
	for _, b := range blocks {
		if jaccard(words, wordSet(b.Content)) > dedupJaccardThreshold {
			return true
		}
	}
	return false
}

// orderBlocks sorts by canonical section order, then priority desc,
// then source id for deterministic ties.
func orderBlocks(blocks []models.SynthesizedBlock) []models.SynthesizedBlock {
	sectionRank := make(map[string]int, len(models.SectionOrder))
	for i, name := range models.SectionOrder {
		sectionRank[name] = i
	}

	ordered := make([]models.SynthesizedBlock, len(blocks))
	copy(ordered, blocks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if sectionRank[ordered[i].Section] != sectionRank[ordered[j].Section] {
			return sectionRank[ordered[i].Section] < sectionRank[ordered[j].Section]
		}
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return firstSourceID(ordered[i]) < firstSourceID(ordered[j])
	})
	return ordered
}

func firstSourceID(block models.SynthesizedBlock) string {
	if len(block.Sources) > 0 {
		return block.Sources[0].SourceID
	}
	return ""
}

func chunkSource(chunk models.CompressedChunk, docTitles map[uuid.UUID]string) models.SourceRef {
	title := docTitles[chunk.DocumentID]
	if title == "" {
		title = chunk.DocumentID.String()
	}
	return models.SourceRef{
		SourceType:     models.SourceProjectDoc,
		SourceID:       chunk.OriginalChunkID.String(),
		Title:          title,
		AuthorityScore: models.SourceProjectDoc.AuthorityScore(),
	}
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:()[]{}\"'`")
		if len(w) >= 2 {
			set[w] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
