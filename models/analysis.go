package models

type TaskType string

const (
	TaskTypeCoding    TaskType = "coding"
	TaskTypeDebugging TaskType = "debugging"
	TaskTypeResearch  TaskType = "research"
	TaskTypeAnalysis  TaskType = "analysis"
	TaskTypeOther     TaskType = "other"
)

type TaskComplexity string

const (
	ComplexityLow    TaskComplexity = "low"
	ComplexityMedium TaskComplexity = "medium"
	ComplexityHigh   TaskComplexity = "high"
	ComplexityExpert TaskComplexity = "expert"
)

// KnowledgeDomain is a fixed tag used for coverage reasoning in the gap
// detector.
type KnowledgeDomain string

const (
	DomainFrontend      KnowledgeDomain = "frontend"
	DomainBackend       KnowledgeDomain = "backend"
	DomainDatabase      KnowledgeDomain = "database"
	DomainDevOps        KnowledgeDomain = "devops"
	DomainSecurity      KnowledgeDomain = "security"
	DomainTesting       KnowledgeDomain = "testing"
	DomainDesign        KnowledgeDomain = "design"
	DomainArchitecture  KnowledgeDomain = "architecture"
	DomainDocumentation KnowledgeDomain = "documentation"
	DomainBusiness      KnowledgeDomain = "business"
	DomainDataScience   KnowledgeDomain = "data_science"
	DomainGeneral       KnowledgeDomain = "general"
)

// AllKnowledgeDomains lists every recognized domain tag.
var AllKnowledgeDomains = []KnowledgeDomain{
	DomainFrontend, DomainBackend, DomainDatabase, DomainDevOps,
	DomainSecurity, DomainTesting, DomainDesign, DomainArchitecture,
	DomainDocumentation, DomainBusiness, DomainDataScience, DomainGeneral,
}

// TaskAnalysis is the task analyzer's classification of a free-form task.
type TaskAnalysis struct {
	TaskType              TaskType          `json:"task_type"`
	Complexity            TaskComplexity    `json:"complexity"`
	Domains               []KnowledgeDomain `json:"domains"`
	KeyEntities           []string          `json:"key_entities"`
	SuggestedQueries      []string          `json:"suggested_queries"`
	EstimatedTokenBudget  int               `json:"estimated_token_budget"`
	Confidence            float64           `json:"confidence"`
	UsedFallbackClassifier bool             `json:"used_fallback_classifier,omitempty"`
}
