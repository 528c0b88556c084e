package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/tas-context-tailor/models"
)

const (
	shallowScoreThreshold = 0.5
	shallowChunkMinimum   = 2
	noContextScoreFloor   = 0.2
	webSearchCoverageBar  = 0.6
)

// GapDetector measures how well retrieved chunks cover the analyzed
// task and decides whether web search should fill the shortfall.
type GapDetector struct{}

// NewGapDetector creates a GapDetector.
func NewGapDetector() *GapDetector {
	return &GapDetector{}
}

// Detect evaluates coverage rules in a fixed order and returns the gap
// report for one request.
func (g *GapDetector) Detect(analysis *models.TaskAnalysis, chunks []models.ScoredChunk) *models.GapReport {
	if noUsableContext(chunks) {
		report := &models.GapReport{
			Gaps: []models.Gap{{
				Type:        models.GapNoContext,
				Severity:    models.SeverityCritical,
				Description: "no project documents matched the task",
				SuggestedQueries: suggestedOrTask(analysis),
			}},
			OverallCoverage: 0,
			IsActionable:    true,
		}
		report.EstimatedQualityWithoutFilling = estimateWithout(report)
		report.EstimatedQualityWithFilling = estimateWith(report)
		return report
	}

	report := &models.GapReport{}
	var coverageParts []float64

	for _, domain := range analysis.Domains {
		topScore, matchCount := domainMatches(domain, chunks)
		switch {
		case matchCount == 0:
			report.Gaps = append(report.Gaps, models.Gap{
				Type:        models.GapMissingDomain,
				Severity:    models.SeverityHigh,
				Domain:      domain,
				Description: fmt.Sprintf("no retrieved content covers the %s domain", domain),
				SuggestedQueries: []string{
					fmt.Sprintf("%s %s", firstQuery(analysis), domain),
				},
			})
			coverageParts = append(coverageParts, 0)
		case topScore < shallowScoreThreshold || matchCount < shallowChunkMinimum:
			severity := models.SeverityMedium
			if topScore >= 0.6*shallowScoreThreshold {
				severity = models.SeverityLow
			}
			report.Gaps = append(report.Gaps, models.Gap{
				Type:        models.GapShallowCoverage,
				Severity:    severity,
				Domain:      domain,
				Description: fmt.Sprintf("coverage of the %s domain is shallow (top score %.2f, %d chunks)", domain, topScore, matchCount),
			})
			coverageParts = append(coverageParts, math.Min(topScore/shallowScoreThreshold, 1)*0.6)
		default:
			coverageParts = append(coverageParts, math.Min(topScore, 1))
		}
	}

	if analysis.TaskType == models.TaskTypeCoding || analysis.TaskType == models.TaskTypeDebugging {
		if !anyCodeIndicator(chunks) {
			report.Gaps = append(report.Gaps, models.Gap{
				Type:        models.GapMissingExamples,
				Severity:    models.SeverityMedium,
				Description: "retrieved content has no code examples for a coding task",
				SuggestedQueries: []string{
					fmt.Sprintf("%s example code", firstQuery(analysis)),
				},
			})
		}
	}

	report.OverallCoverage = mean(coverageParts)
	report.IsActionable = anySevereGap(report.Gaps)
	report.EstimatedQualityWithoutFilling = estimateWithout(report)
	report.EstimatedQualityWithFilling = estimateWith(report)
	return report
}

// ShouldTriggerWebSearch reports whether the gaps warrant external
// augmentation.
func (g *GapDetector) ShouldTriggerWebSearch(report *models.GapReport) bool {
	if report == nil {
		return false
	}
	if report.OverallCoverage < webSearchCoverageBar {
		return true
	}
	for _, gap := range report.Gaps {
		if gap.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

func noUsableContext(chunks []models.ScoredChunk) bool {
	if len(chunks) == 0 {
		return true
	}
	for _, c := range chunks {
		if c.FinalScore >= noContextScoreFloor {
			return false
		}
	}
	return true
}

// domainMatches returns the top finalScore and count among chunks whose
// content mentions any lexicon keyword of the domain. The general
// domain matches everything.
func domainMatches(domain models.KnowledgeDomain, chunks []models.ScoredChunk) (float64, int) {
	keywords := domainLexicon[domain]
	topScore := 0.0
	count := 0
	for _, chunk := range chunks {
		matched := domain == models.DomainGeneral
		if !matched {
			lower := strings.ToLower(chunk.Content)
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					matched = true
					break
				}
			}
		}
		if matched {
			count++
			if chunk.FinalScore > topScore {
				topScore = chunk.FinalScore
			}
		}
	}
	return topScore, count
}

func anyCodeIndicator(chunks []models.ScoredChunk) bool {
	for _, chunk := range chunks {
		for _, indicator := range codeIndicators {
			if strings.Contains(chunk.Content, indicator) {
				return true
			}
		}
	}
	return false
}

func anySevereGap(gaps []models.Gap) bool {
	for _, gap := range gaps {
		if gap.Severity == models.SeverityHigh || gap.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

func estimateWithout(report *models.GapReport) float64 {
	critical, high := 0, 0
	for _, gap := range report.Gaps {
		switch gap.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityHigh:
			high++
		}
	}
	return math.Max(0, report.OverallCoverage-0.3*float64(critical)-0.15*float64(high))
}

func estimateWith(report *models.GapReport) float64 {
	boost := math.Min(0.4, 0.1*float64(len(report.Gaps)))
	return math.Min(1, report.EstimatedQualityWithoutFilling+boost)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func firstQuery(analysis *models.TaskAnalysis) string {
	if len(analysis.SuggestedQueries) > 0 {
		return analysis.SuggestedQueries[0]
	}
	return ""
}

func suggestedOrTask(analysis *models.TaskAnalysis) []string {
	if len(analysis.SuggestedQueries) > 0 {
		n := min(3, len(analysis.SuggestedQueries))
		return analysis.SuggestedQueries[:n]
	}
	return nil
}
