package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

const webSearchCachePrefix = "websearch"

// OrchestratorOptions carry the per-request caps and cache TTLs.
type OrchestratorOptions struct {
	FanOutLimit    int
	MaxWebQueries  int
	WebSearchDepth string
	WebResultTTL   time.Duration
	RequestTimeout time.Duration
}

// Orchestrator drives the tailoring pipeline end to end and the fast
// preview path. Stage failures after ownership verification degrade the
// output instead of aborting the request.
type Orchestrator struct {
	store       services.MetadataStore
	analyzer    *TaskAnalyzer
	scorer      *RelevanceScorer
	gaps        *GapDetector
	searcher    services.WebSearcher
	compressor  *ContextCompressor
	window      *ContextWindowManager
	synthesizer *Synthesizer
	formatter   *PlatformFormatter
	quality     *QualityScorer
	tokens      *TokenCounter
	cache       services.CacheService
	opts        OrchestratorOptions
}

// NewOrchestrator wires the pipeline. searcher may be nil when no web
// provider is configured.
func NewOrchestrator(
	store services.MetadataStore,
	analyzer *TaskAnalyzer,
	scorer *RelevanceScorer,
	gaps *GapDetector,
	searcher services.WebSearcher,
	compressor *ContextCompressor,
	window *ContextWindowManager,
	synthesizer *Synthesizer,
	formatter *PlatformFormatter,
	quality *QualityScorer,
	tokens *TokenCounter,
	cache services.CacheService,
	opts OrchestratorOptions,
) *Orchestrator {
	if opts.FanOutLimit <= 0 {
		opts.FanOutLimit = 8
	}
	if opts.MaxWebQueries <= 0 {
		opts.MaxWebQueries = 3
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	return &Orchestrator{
		store:       store,
		analyzer:    analyzer,
		scorer:      scorer,
		gaps:        gaps,
		searcher:    searcher,
		compressor:  compressor,
		window:      window,
		synthesizer: synthesizer,
		formatter:   formatter,
		quality:     quality,
		tokens:      tokens,
		cache:       cache,
		opts:        opts,
	}
}

// Tailor runs the full pipeline for one request.
func (o *Orchestrator) Tailor(ctx context.Context, userID string, req *models.TailorRequest) (*models.TailorResponse, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	// Stage 1 is the only fatal stage.
	if _, err := o.store.GetProject(ctx, userID, req.ProjectID); err != nil {
		return nil, err
	}

	degraded := false

	analysis := o.analyzer.Analyze(ctx, req.TaskInput)

	budget := o.window.CreateBudget(req.TargetPlatform, req.Options.Model)
	projectDocsBudget := budget.Allocations[SectionProjectDocs]
	if req.Options.MaxTokens > 0 {
		projectDocsBudget = req.Options.MaxTokens
	}

	merged, scoringDegraded := o.scoreQueries(ctx, req.ProjectID, analysis)
	degraded = degraded || scoringDegraded

	gapReport := o.gaps.Detect(analysis, merged)

	var webResults []models.WebResult
	webSearchUsed := false
	if o.shouldSearchWeb(gapReport, req.Options.IncludeWebSearch) {
		var webErr error
		webResults, webErr = o.searchWeb(ctx, analysis, gapReport)
		if webErr != nil {
			log.Printf("web search degraded: %v", webErr)
			degraded = true
		}
		webSearchUsed = len(webResults) > 0
	}

	compressed := o.compressor.Compress(ctx, merged, projectDocsBudget)

	docTitles := o.documentTitles(ctx, userID, req.ProjectID)
	synth := o.synthesizer.Synthesize(compressed.Chunks, webResults, analysis, docTitles)

	contextText := o.formatter.Format(synth, req.TargetPlatform)
	sections := o.formatter.ExtractSections(synth)

	report := o.quality.Score(req.TaskInput, synth, compressed.Chunks, compressed.Stats)
	qualityScore := float64(report.Overall) / 100

	budget = o.window.TrackUsage(budget, SectionProjectDocs, compressed.TotalTokenCount)
	if webTokens := webResultTokens(o.tokens, webResults); webTokens > 0 {
		budget = o.window.TrackUsage(budget, SectionWebSearch, webTokens)
	}

	metadata := models.TailorMetadata{
		TotalTokens:      budget.TotalAvailable,
		TokensUsed:       synth.TotalTokenCount,
		ChunksRetrieved:  len(merged),
		ChunksIncluded:   len(compressed.Chunks),
		GapReport:        gapReport,
		CompressionStats: compressed.Stats,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		QualityScore:     qualityScore,
		QualityReport:    report,
		Degraded:         degraded,
		WebSearchUsed:    webSearchUsed,
	}

	sessionID := o.persistSession(ctx, userID, req, contextText, synth.TotalTokenCount, qualityScore, &metadata)

	return &models.TailorResponse{
		SessionID: sessionID,
		Context:   contextText,
		Sections:  sections,
		Metadata:  metadata,
	}, nil
}

// Preview runs the fast path: first query only, no LLM calls, no
// session row.
func (o *Orchestrator) Preview(ctx context.Context, userID string, req *models.TailorRequest) (*models.TailorPreviewResponse, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	if _, err := o.store.GetProject(ctx, userID, req.ProjectID); err != nil {
		return nil, err
	}

	analysis := o.analyzer.Analyze(ctx, req.TaskInput)

	query := req.TaskInput
	if len(analysis.SuggestedQueries) > 0 {
		query = analysis.SuggestedQueries[0]
	}

	scored, _, err := o.scorer.Score(ctx, req.ProjectID, query, analysis.KeyEntities)
	if err != nil {
		log.Printf("preview scoring degraded: %v", err)
		scored = nil
	}
	rankScored(scored)

	gapReport := o.gaps.Detect(analysis, scored)

	budget := o.window.CreateBudget(req.TargetPlatform, req.Options.Model)
	projectDocsBudget := budget.Allocations[SectionProjectDocs]
	if req.Options.MaxTokens > 0 {
		projectDocsBudget = req.Options.MaxTokens
	}
	estimate := o.compressor.EstimateCompressedSize(scored, projectDocsBudget)

	return &models.TailorPreviewResponse{
		EstimatedTokens:  estimate.TotalTokenCount,
		EstimatedChunks:  len(estimate.Chunks),
		GapSummary:       gapSummary(gapReport),
		EstimatedQuality: estimateQuality(gapReport, estimate),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

// SearchDocs is the direct retrieval endpoint: one scoring round over a
// caller-supplied query, filtered by minimum score.
func (o *Orchestrator) SearchDocs(ctx context.Context, userID string, req *models.SearchDocsRequest) ([]models.ScoredChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	if _, err := o.store.GetProject(ctx, userID, req.ProjectID); err != nil {
		return nil, err
	}

	scored, _, err := o.scorer.Score(ctx, req.ProjectID, req.Query, nil)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	out := make([]models.ScoredChunk, 0, topK)
	for _, sc := range scored {
		if sc.FinalScore < req.MinScore {
			continue
		}
		out = append(out, sc)
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

// scoreQueries fans out one scoring round per suggested query, bounded
// by the fan-out cap, and merges results by max finalScore per chunk.
func (o *Orchestrator) scoreQueries(ctx context.Context, projectID uuid.UUID, analysis *models.TaskAnalysis) ([]models.ScoredChunk, bool) {
	queries := analysis.SuggestedQueries
	if len(queries) == 0 {
		return nil, false
	}

	rounds := make([][]models.ScoredChunk, len(queries))
	var mu sync.Mutex
	degraded := false

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.FanOutLimit)
	for i, query := range queries {
		g.Go(func() error {
			scored, wasDegraded, err := o.scorer.Score(gctx, projectID, query, analysis.KeyEntities)
			if err != nil {
				log.Printf("scoring query %q degraded: %v", query, err)
				mu.Lock()
				degraded = true
				mu.Unlock()
				return nil
			}
			mu.Lock()
			rounds[i] = scored
			degraded = degraded || wasDegraded
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only observes cancellation.
	if err := g.Wait(); err != nil {
		degraded = true
	}

	return MergeScored(rounds...), degraded
}

func (o *Orchestrator) shouldSearchWeb(report *models.GapReport, includeWebSearch *bool) bool {
	if o.searcher == nil {
		return false
	}
	if includeWebSearch != nil && !*includeWebSearch {
		return false
	}
	return o.gaps.ShouldTriggerWebSearch(report)
}

// searchWeb issues up to the capped number of gap-suggested queries,
// consulting the result cache first.
func (o *Orchestrator) searchWeb(ctx context.Context, analysis *models.TaskAnalysis, report *models.GapReport) ([]models.WebResult, error) {
	queries := gapQueries(report, analysis, o.opts.MaxWebQueries)

	var results []models.WebResult
	var lastErr error
	for _, query := range queries {
		cacheKey := fmt.Sprintf("%s:%s", webSearchCachePrefix, hashContent(query))
		if o.cache != nil {
			var cached []models.WebResult
			if hit, err := o.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
				results = append(results, cached...)
				continue
			}
		}

		found, err := o.searcher.Search(ctx, query, services.WebSearchOptions{
			MaxResults:  5,
			SearchDepth: o.opts.WebSearchDepth,
		})
		if err != nil {
			lastErr = err
			continue
		}
		results = append(results, found...)
		if o.cache != nil {
			_ = o.cache.SetJSON(ctx, cacheKey, found, o.opts.WebResultTTL)
		}
	}

	if len(results) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return results, nil
}

// persistSession writes the session row. Write failure is non-fatal:
// the response still goes out under a synthetic local id.
func (o *Orchestrator) persistSession(ctx context.Context, userID string, req *models.TailorRequest, contextText string, tokenCount int, qualityScore float64, metadata *models.TailorMetadata) uuid.UUID {
	metadataJSON, err := metadata.AsJSON()
	if err != nil {
		log.Printf("failed to encode session metadata: %v", err)
	}

	session := &models.TailorSession{
		ID:               uuid.New(),
		UserID:           userID,
		ProjectID:        req.ProjectID,
		TaskInput:        req.TaskInput,
		AssembledContext: contextText,
		TargetPlatform:   req.TargetPlatform,
		TokenCount:       tokenCount,
		QualityScore:     qualityScore,
		Metadata:         metadataJSON,
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		log.Printf("session write failed, returning synthetic id: %v", err)
		return uuid.New()
	}
	return session.ID
}

func (o *Orchestrator) documentTitles(ctx context.Context, userID string, projectID uuid.UUID) map[uuid.UUID]string {
	docs, err := o.store.ListDocuments(ctx, userID, projectID)
	if err != nil {
		log.Printf("failed to load document titles: %v", err)
		return nil
	}
	titles := make(map[uuid.UUID]string, len(docs))
	for _, doc := range docs {
		titles[doc.ID] = doc.Filename
	}
	return titles
}

// gapQueries collects suggested queries from the gaps, topping up from
// the analysis when the gaps suggest none.
func gapQueries(report *models.GapReport, analysis *models.TaskAnalysis, limit int) []string {
	seen := make(map[string]bool)
	var queries []string
	add := func(q string) {
		if q == "" || seen[q] || len(queries) >= limit {
			return
		}
		seen[q] = true
		queries = append(queries, q)
	}

	for _, gap := range report.Gaps {
		for _, q := range gap.SuggestedQueries {
			add(q)
		}
	}
	for _, q := range analysis.SuggestedQueries {
		add(q)
	}
	return queries
}

func gapSummary(report *models.GapReport) string {
	if len(report.Gaps) == 0 {
		return fmt.Sprintf("coverage %.0f%%, no gaps detected", report.OverallCoverage*100)
	}
	counts := make(map[models.GapType]int)
	for _, gap := range report.Gaps {
		counts[gap.Type]++
	}
	summary := fmt.Sprintf("coverage %.0f%%, %d gap(s)", report.OverallCoverage*100, len(report.Gaps))
	for _, t := range []models.GapType{models.GapNoContext, models.GapMissingDomain, models.GapShallowCoverage, models.GapMissingExamples} {
		if counts[t] > 0 {
			summary += fmt.Sprintf(", %s x%d", t, counts[t])
		}
	}
	return summary
}

// estimateQuality approximates the full pipeline's quality score from
// the gap report and the token-only compression estimate.
func estimateQuality(report *models.GapReport, estimate *models.CompressionResult) float64 {
	relevance := 0.0
	if len(estimate.Chunks) > 0 {
		sum := 0.0
		for _, chunk := range estimate.Chunks {
			sum += chunk.RelevanceScore
		}
		relevance = sum / float64(len(estimate.Chunks))
	}

	diversity := diversityEstimate(estimate)
	quality := 0.3*report.OverallCoverage + 0.2*diversity + 0.35*relevance + 0.15*compressionScore(estimate.Stats)
	return math.Max(0, math.Min(1, quality))
}

func diversityEstimate(estimate *models.CompressionResult) float64 {
	docs := make(map[uuid.UUID]bool)
	for _, chunk := range estimate.Chunks {
		docs[chunk.DocumentID] = true
	}
	score := 0.2 * math.Min(float64(len(docs)), 3)
	return math.Min(score, 0.8)
}

func webResultTokens(tokens *TokenCounter, results []models.WebResult) int {
	total := 0
	for _, r := range results {
		total += tokens.Estimate(r.Title) + tokens.Estimate(r.Snippet)
	}
	return total
}
