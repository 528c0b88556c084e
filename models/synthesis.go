package models

import "time"

type SourceType string

const (
	SourceProjectDoc  SourceType = "project_doc"
	SourceWebSearch   SourceType = "web_search"
	SourceAPIResponse SourceType = "api_response"
	SourceUserInput   SourceType = "user_input"
)

// AuthorityScore returns the fixed authority weight for a source type.
func (t SourceType) AuthorityScore() float64 {
	switch t {
	case SourceUserInput:
		return 1.0
	case SourceProjectDoc:
		return 0.9
	case SourceAPIResponse:
		return 0.7
	case SourceWebSearch:
		return 0.5
	default:
		return 0.5
	}
}

// Canonical section names, in output order.
const (
	SectionCoreImplementation = "Core Implementation"
	SectionExamples           = "Examples"
	SectionBackgroundContext  = "Background Context"
	SectionRelatedResources   = "Related Resources"
)

// SectionOrder is the only permitted section ordering in rendered output;
// empty sections are skipped.
var SectionOrder = []string{
	SectionCoreImplementation,
	SectionExamples,
	SectionBackgroundContext,
	SectionRelatedResources,
}

// SourceRef attributes a synthesized block to where its content came from.
type SourceRef struct {
	SourceType     SourceType `json:"source_type"`
	SourceID       string     `json:"source_id"`
	Title          string     `json:"title"`
	URL            string     `json:"url,omitempty"`
	AuthorityScore float64    `json:"authority_score"`
}

// Contradiction records two chunks asserting different values for the
// same entity.
type Contradiction struct {
	Claim              string      `json:"claim"`
	Sources            []SourceRef `json:"sources"`
	Alternative        string      `json:"alternative"`
	AlternativeSources []SourceRef `json:"alternative_sources"`
}

// SynthesizedBlock is one unit of output text with attributed sources.
// Blocks are constructed fully and never mutated.
type SynthesizedBlock struct {
	Content        string          `json:"content"`
	Sources        []SourceRef     `json:"sources"`
	Section        string          `json:"section"`
	Priority       float64         `json:"priority"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
}

// SynthesizedContext is the synthesizer's full output for one request.
type SynthesizedContext struct {
	Blocks             []SynthesizedBlock `json:"blocks"`
	TotalTokenCount    int                `json:"total_token_count"`
	SourceCount        int                `json:"source_count"`
	ContradictionCount int                `json:"contradiction_count"`
	Sections           []string           `json:"sections"`
}

// QualitySubScores are the four [0,1] components of the overall score.
type QualitySubScores struct {
	Coverage    float64 `json:"coverage"`
	Diversity   float64 `json:"diversity"`
	Relevance   float64 `json:"relevance"`
	Compression float64 `json:"compression"`
}

// QualityReport rates one assembled context. Overall is 0-100; sub-scores
// are [0,1].
type QualityReport struct {
	Overall     int              `json:"overall"`
	SubScores   QualitySubScores `json:"sub_scores"`
	Suggestions []string         `json:"suggestions"`
	ScoredAt    time.Time        `json:"scored_at"`
}
