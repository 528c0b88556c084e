package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

const (
	maxSuggestedQueries = 5
	analysisCachePrefix = "analysis"
)

var (
	debugPattern    = regexp.MustCompile(`(?i)\b(debug|fix|error|bug|crash|broken|fail|exception|stack ?trace|not working)\b`)
	codingPattern   = regexp.MustCompile(`(?i)\b(implement|add|build|write|create|refactor|code|endpoint|function|class|method|integrate)\b`)
	researchPattern = regexp.MustCompile(`(?i)\b(compare|research|investigate|evaluate|versus|vs\.?|which|best|alternatives|pros and cons)\b`)
	analysisPattern = regexp.MustCompile(`(?i)\b(analy[sz]e|review|assess|audit|measure|profile|benchmark|why is|understand)\b`)

	backtickEntity = regexp.MustCompile("`([^`]+)`")
	properEntity   = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]+(?:\.[a-zA-Z0-9]+)*\b`)
)

// TaskAnalyzer classifies free-form tasks. It prefers the configured
// LLM and falls back to a deterministic rule-based classifier, so the
// pipeline stays operable with no model available.
type TaskAnalyzer struct {
	llm   services.LLMClient
	cache services.CacheService
	ttl   time.Duration
}

// NewTaskAnalyzer creates a TaskAnalyzer. llm may be nil.
func NewTaskAnalyzer(llm services.LLMClient, cache services.CacheService, ttl time.Duration) *TaskAnalyzer {
	return &TaskAnalyzer{llm: llm, cache: cache, ttl: ttl}
}

// Analyze classifies taskInput. It never fails: LLM errors degrade to
// the rule-based classifier, and a blank task degrades to the minimal
// analysis.
func (a *TaskAnalyzer) Analyze(ctx context.Context, taskInput string) *models.TaskAnalysis {
	if strings.TrimSpace(taskInput) == "" {
		return a.minimalAnalysis(taskInput)
	}

	cacheKey := fmt.Sprintf("%s:%s", analysisCachePrefix, hashContent(taskInput))
	if a.cache != nil {
		var cached models.TaskAnalysis
		if hit, err := a.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
			return &cached
		}
	}

	var analysis *models.TaskAnalysis
	if a.llm != nil {
		var err error
		analysis, err = a.analyzeLLM(ctx, taskInput)
		if err != nil {
			log.Printf("task analysis via LLM failed, using rule-based classifier: %v", err)
			analysis = nil
		}
	}
	if analysis == nil {
		analysis = a.analyzeRules(taskInput)
	}

	if a.cache != nil {
		_ = a.cache.SetJSON(ctx, cacheKey, analysis, a.ttl)
	}
	return analysis
}

func (a *TaskAnalyzer) analyzeLLM(ctx context.Context, taskInput string) (*models.TaskAnalysis, error) {
	prompt := fmt.Sprintf(`Classify this developer task.

Task:
%s

Return JSON:
{
  "task_type": "coding|debugging|research|analysis|other",
  "complexity": "low|medium|high|expert",
  "domains": ["frontend","backend","database","devops","security","testing","design","architecture","documentation","business","data_science","general"],
  "key_entities": ["..."],
  "suggested_queries": ["1 to 5 short search queries"],
  "confidence": 0.0
}`, truncate(taskInput, 4000))

	out, err := a.llm.Complete(ctx, services.LLMCompletionRequest{
		System:      "You classify software tasks for a retrieval pipeline. Answer with JSON only.",
		Prompt:      prompt,
		MaxTokens:   600,
		Temperature: 0.0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var parsed models.TaskAnalysis
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	normalizeAnalysis(&parsed, taskInput)
	return &parsed, nil
}

// analyzeRules is the deterministic classifier used when no LLM is
// configured or the call failed.
func (a *TaskAnalyzer) analyzeRules(taskInput string) *models.TaskAnalysis {
	lower := strings.ToLower(taskInput)

	taskType := models.TaskTypeOther
	switch {
	case debugPattern.MatchString(taskInput):
		taskType = models.TaskTypeDebugging
	case researchPattern.MatchString(taskInput):
		taskType = models.TaskTypeResearch
	case codingPattern.MatchString(taskInput):
		taskType = models.TaskTypeCoding
	case analysisPattern.MatchString(taskInput):
		taskType = models.TaskTypeAnalysis
	}

	var domains []models.KnowledgeDomain
	for _, domain := range models.AllKnowledgeDomains {
		for _, keyword := range domainLexicon[domain] {
			if strings.Contains(lower, keyword) {
				domains = append(domains, domain)
				break
			}
		}
	}
	if len(domains) == 0 {
		domains = []models.KnowledgeDomain{models.DomainGeneral}
	}

	entities := extractEntities(taskInput)
	complexity := classifyComplexity(taskInput, domains, entities)

	queries := buildQueries(taskInput, domains, entities)

	analysis := &models.TaskAnalysis{
		TaskType:               taskType,
		Complexity:             complexity,
		Domains:                domains,
		KeyEntities:            entities,
		SuggestedQueries:       queries,
		EstimatedTokenBudget:   budgetForComplexity(complexity),
		Confidence:             0.6,
		UsedFallbackClassifier: true,
	}
	return analysis
}

// minimalAnalysis is the last-resort result; it keeps the pipeline
// operable with a single query.
func (a *TaskAnalyzer) minimalAnalysis(taskInput string) *models.TaskAnalysis {
	return &models.TaskAnalysis{
		TaskType:               models.TaskTypeOther,
		Complexity:             models.ComplexityMedium,
		Domains:                []models.KnowledgeDomain{models.DomainGeneral},
		SuggestedQueries:       []string{truncate(taskInput, 200)},
		EstimatedTokenBudget:   budgetForComplexity(models.ComplexityMedium),
		Confidence:             0.1,
		UsedFallbackClassifier: true,
	}
}

func normalizeAnalysis(analysis *models.TaskAnalysis, taskInput string) {
	switch analysis.TaskType {
	case models.TaskTypeCoding, models.TaskTypeDebugging, models.TaskTypeResearch, models.TaskTypeAnalysis:
	default:
		analysis.TaskType = models.TaskTypeOther
	}
	switch analysis.Complexity {
	case models.ComplexityLow, models.ComplexityMedium, models.ComplexityHigh, models.ComplexityExpert:
	default:
		analysis.Complexity = models.ComplexityMedium
	}

	valid := analysis.Domains[:0]
	for _, d := range analysis.Domains {
		for _, known := range models.AllKnowledgeDomains {
			if d == known {
				valid = append(valid, d)
				break
			}
		}
	}
	analysis.Domains = valid
	if len(analysis.Domains) == 0 {
		analysis.Domains = []models.KnowledgeDomain{models.DomainGeneral}
	}

	if len(analysis.SuggestedQueries) == 0 {
		analysis.SuggestedQueries = []string{truncate(taskInput, 200)}
	}
	if len(analysis.SuggestedQueries) > maxSuggestedQueries {
		analysis.SuggestedQueries = analysis.SuggestedQueries[:maxSuggestedQueries]
	}

	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 1 {
		analysis.Confidence = 1
	}
	if analysis.EstimatedTokenBudget <= 0 {
		analysis.EstimatedTokenBudget = budgetForComplexity(analysis.Complexity)
	}
}

func extractEntities(taskInput string) []string {
	seen := make(map[string]bool)
	var entities []string
	add := func(e string) {
		e = strings.TrimSpace(e)
		key := strings.ToLower(e)
		if len(e) < 2 || seen[key] {
			return
		}
		seen[key] = true
		entities = append(entities, e)
	}

	for _, m := range backtickEntity.FindAllStringSubmatch(taskInput, -1) {
		add(m[1])
	}
	for _, m := range properEntity.FindAllString(taskInput, -1) {
		// Skip sentence-initial capitalized common words.
		if len(m) > 2 {
			add(m)
		}
	}

	// Known technology names regardless of casing.
	lower := strings.ToLower(taskInput)
	for _, keywords := range domainLexicon {
		for _, kw := range keywords {
			kw = strings.TrimSpace(kw)
			if len(kw) >= 3 && strings.Contains(lower, kw) {
				add(kw)
			}
		}
	}

	sort.Strings(entities)
	if len(entities) > 10 {
		entities = entities[:10]
	}
	return entities
}

func classifyComplexity(taskInput string, domains []models.KnowledgeDomain, entities []string) models.TaskComplexity {
	words := len(strings.Fields(taskInput))
	score := 0
	if words > 30 {
		score++
	}
	if words > 80 {
		score++
	}
	if len(domains) > 2 {
		score++
	}
	if len(entities) > 5 {
		score++
	}
	switch {
	case score >= 3:
		return models.ComplexityExpert
	case score == 2:
		return models.ComplexityHigh
	case score == 1:
		return models.ComplexityMedium
	default:
		return models.ComplexityLow
	}
}

func buildQueries(taskInput string, domains []models.KnowledgeDomain, entities []string) []string {
	queries := []string{truncate(strings.TrimSpace(taskInput), 200)}

	if len(entities) > 0 {
		queries = append(queries, strings.Join(entities[:min(3, len(entities))], " "))
	}
	for _, domain := range domains {
		if domain == models.DomainGeneral {
			continue
		}
		queries = append(queries, fmt.Sprintf("%s %s", truncate(taskInput, 120), domain))
		if len(queries) >= maxSuggestedQueries {
			break
		}
	}

	// Dedup while preserving order.
	seen := make(map[string]bool)
	out := queries[:0]
	for _, q := range queries {
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	if len(out) > maxSuggestedQueries {
		out = out[:maxSuggestedQueries]
	}
	return out
}

func budgetForComplexity(c models.TaskComplexity) int {
	switch c {
	case models.ComplexityLow:
		return 2000
	case models.ComplexityHigh:
		return 8000
	case models.ComplexityExpert:
		return 12000
	default:
		return 4000
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// extractJSON strips code fences and prose around a JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
