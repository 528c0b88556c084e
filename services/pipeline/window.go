package pipeline

import (
	"sort"

	"github.com/tas-context-tailor/models"
)

// Budget section names.
const (
	SectionProjectDocs  = "projectDocs"
	SectionWebSearch    = "webSearch"
	SectionTaskAnalysis = "taskAnalysis"
	SectionOverhead     = "overhead"
)

// AllocationStrategy selects how AllocateBudget divides tokens.
type AllocationStrategy string

const (
	StrategyProportional AllocationStrategy = "PROPORTIONAL"
	StrategyPriority     AllocationStrategy = "PRIORITY"
)

// ModelConfig describes one target platform's context window. The
// conversation reserve keeps the artifact small enough to leave room
// for the user's own conversation on top of it.
type ModelConfig struct {
	MaxContextTokens        int
	ReservedForResponse     int
	ReservedForConversation int
}

// Available returns the tokens usable by the assembled context.
func (m ModelConfig) Available() int {
	available := m.MaxContextTokens - m.ReservedForResponse - m.ReservedForConversation
	if available < 0 {
		return 0
	}
	return available
}

// ModelConfigs holds the per-platform window defaults.
var ModelConfigs = map[models.TargetPlatform]ModelConfig{
	models.PlatformChatGPT: {
		MaxContextTokens:        128000,
		ReservedForResponse:     4096,
		ReservedForConversation: 111904,
	},
	models.PlatformClaude: {
		MaxContextTokens:        200000,
		ReservedForResponse:     8192,
		ReservedForConversation: 167808,
	},
}

// ModelConfigsByName overrides the platform default when a request names
// a specific model.
var ModelConfigsByName = map[string]ModelConfig{
	"gpt-4o": {
		MaxContextTokens:        128000,
		ReservedForResponse:     4096,
		ReservedForConversation: 111904,
	},
	"gpt-4o-mini": {
		MaxContextTokens:        128000,
		ReservedForResponse:     4096,
		ReservedForConversation: 111904,
	},
	"gpt-3.5-turbo": {
		MaxContextTokens:        16385,
		ReservedForResponse:     4096,
		ReservedForConversation: 10289,
	},
	"claude-3-5-sonnet": {
		MaxContextTokens:        200000,
		ReservedForResponse:     8192,
		ReservedForConversation: 167808,
	},
	"claude-3-haiku": {
		MaxContextTokens:        200000,
		ReservedForResponse:     4096,
		ReservedForConversation: 171904,
	},
}

// defaultSectionWeights drives the initial allocation.
var defaultSectionWeights = map[string]float64{
	SectionProjectDocs:  0.70,
	SectionWebSearch:    0.15,
	SectionTaskAnalysis: 0.05,
	SectionOverhead:     0.10,
}

// ContextWindowManager creates and transforms token budgets. Budgets
// are immutable values; every operation returns a new one.
type ContextWindowManager struct{}

// NewContextWindowManager creates a ContextWindowManager.
func NewContextWindowManager() *ContextWindowManager {
	return &ContextWindowManager{}
}

// CreateBudget builds the default budget for a platform. An optional
// model name narrows or widens the window when it is a known model;
// unknown names keep the platform default.
func (w *ContextWindowManager) CreateBudget(platform models.TargetPlatform, model ...string) models.TokenBudget {
	cfg, ok := ModelConfigs[platform]
	if !ok {
		cfg = ModelConfigs[models.PlatformChatGPT]
	}
	if len(model) > 0 && model[0] != "" {
		if override, found := ModelConfigsByName[model[0]]; found {
			cfg = override
		}
	}
	total := cfg.Available()
	return models.TokenBudget{
		TotalAvailable: total,
		Allocations:    w.AllocateBudget(total, defaultSectionWeights, StrategyProportional),
		Used:           map[string]int{},
		Remaining:      total,
	}
}

// AllocateBudget divides total across sections by weight.
// PROPORTIONAL gives every section its share; PRIORITY satisfies
// sections in descending weight order until the pool runs dry.
func (w *ContextWindowManager) AllocateBudget(total int, weights map[string]float64, strategy AllocationStrategy) map[string]int {
	sections := make([]string, 0, len(weights))
	for name := range weights {
		sections = append(sections, name)
	}
	sort.Slice(sections, func(i, j int) bool {
		if weights[sections[i]] != weights[sections[j]] {
			return weights[sections[i]] > weights[sections[j]]
		}
		return sections[i] < sections[j]
	})

	allocations := make(map[string]int, len(sections))
	switch strategy {
	case StrategyPriority:
		remaining := total
		for _, name := range sections {
			ask := int(weights[name] * float64(total))
			if ask > remaining {
				ask = remaining
			}
			allocations[name] = ask
			remaining -= ask
		}
		if remaining > 0 && len(sections) > 0 {
			allocations[sections[0]] += remaining
		}
	default:
		weightSum := 0.0
		for _, name := range sections {
			weightSum += weights[name]
		}
		if weightSum == 0 {
			weightSum = 1
		}
		assigned := 0
		for _, name := range sections {
			share := int(weights[name] / weightSum * float64(total))
			allocations[name] = share
			assigned += share
		}
		// Rounding remainder goes to the heaviest section.
		if assigned < total && len(sections) > 0 {
			allocations[sections[0]] += total - assigned
		}
	}
	return allocations
}

// TrackUsage records tokens consumed by a section, returning a new
// budget. The original is untouched.
func (w *ContextWindowManager) TrackUsage(budget models.TokenBudget, section string, tokens int) models.TokenBudget {
	next := cloneBudget(budget)
	next.Used[section] += tokens

	usedTotal := 0
	for _, u := range next.Used {
		usedTotal += u
	}
	next.Remaining = next.TotalAvailable - usedTotal
	return next
}

// IsWithinBudget reports whether every section is inside its allocation
// and the pool is not overdrawn.
func (w *ContextWindowManager) IsWithinBudget(budget models.TokenBudget) bool {
	if budget.Remaining < 0 {
		return false
	}
	for section, used := range budget.Used {
		if used > budget.Allocations[section] {
			return false
		}
	}
	return true
}

// Rebalance moves surplus from under-used sections to over-budget ones,
// proportional to each deficit. TotalAvailable never grows.
func (w *ContextWindowManager) Rebalance(budget models.TokenBudget) models.TokenBudget {
	next := cloneBudget(budget)

	type adjustment struct {
		section string
		amount  int
	}
	var deficits []adjustment
	surplus := 0
	deficitTotal := 0

	sections := make([]string, 0, len(next.Allocations))
	for name := range next.Allocations {
		sections = append(sections, name)
	}
	sort.Strings(sections)

	for _, section := range sections {
		alloc := next.Allocations[section]
		used := next.Used[section]
		if used > alloc {
			deficits = append(deficits, adjustment{section, used - alloc})
			deficitTotal += used - alloc
		} else {
			surplus += alloc - used
		}
	}
	if deficitTotal == 0 || surplus == 0 {
		return next
	}

	granted := 0
	for i, d := range deficits {
		share := surplus * d.amount / deficitTotal
		if share > d.amount {
			share = d.amount
		}
		if i == len(deficits)-1 {
			// Last deficit takes whatever rounding left over, capped.
			left := surplus - granted
			if left < share {
				share = left
			}
			if share > d.amount {
				share = d.amount
			}
		}
		next.Allocations[d.section] += share
		granted += share
	}

	// Shrink under-used sections by what was granted, largest surplus
	// first.
	remainingToTake := granted
	for _, section := range sections {
		if remainingToTake == 0 {
			break
		}
		alloc := next.Allocations[section]
		used := next.Used[section]
		if used >= alloc {
			continue
		}
		take := alloc - used
		if take > remainingToTake {
			take = remainingToTake
		}
		next.Allocations[section] -= take
		remainingToTake -= take
	}

	return next
}

func cloneBudget(budget models.TokenBudget) models.TokenBudget {
	allocations := make(map[string]int, len(budget.Allocations))
	for k, v := range budget.Allocations {
		allocations[k] = v
	}
	used := make(map[string]int, len(budget.Used))
	for k, v := range budget.Used {
		used[k] = v
	}
	return models.TokenBudget{
		TotalAvailable: budget.TotalAvailable,
		Allocations:    allocations,
		Used:           used,
		Remaining:      budget.Remaining,
	}
}
