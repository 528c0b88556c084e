package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tas-context-tailor/models"
)

func TestCreateBudgetPerPlatform(t *testing.T) {
	w := NewContextWindowManager()

	chatgpt := w.CreateBudget(models.PlatformChatGPT)
	assert.Equal(t, 12000, chatgpt.TotalAvailable)
	assert.Equal(t, 12000, chatgpt.Remaining)

	claude := w.CreateBudget(models.PlatformClaude)
	assert.Equal(t, 24000, claude.TotalAvailable)

	// Allocations cover the whole pool.
	sum := 0
	for _, v := range claude.Allocations {
		sum += v
	}
	assert.Equal(t, claude.TotalAvailable, sum)
	assert.Equal(t, 4, len(claude.Allocations))

	// Unknown platforms fall back to the chatgpt window.
	unknown := w.CreateBudget(models.TargetPlatform("mystery"))
	assert.Equal(t, chatgpt.TotalAvailable, unknown.TotalAvailable)
}

func TestAllocateBudgetProportional(t *testing.T) {
	w := NewContextWindowManager()

	allocs := w.AllocateBudget(10000, defaultSectionWeights, StrategyProportional)
	assert.Equal(t, 7000, allocs[SectionProjectDocs])
	assert.Equal(t, 1500, allocs[SectionWebSearch])
	assert.Equal(t, 500, allocs[SectionTaskAnalysis])
	assert.Equal(t, 1000, allocs[SectionOverhead])

	// Rounding remainder lands on the heaviest section.
	odd := w.AllocateBudget(10001, defaultSectionWeights, StrategyProportional)
	sum := 0
	for _, v := range odd {
		sum += v
	}
	assert.Equal(t, 10001, sum)
	assert.GreaterOrEqual(t, odd[SectionProjectDocs], 7000)
}

func TestAllocateBudgetPriority(t *testing.T) {
	w := NewContextWindowManager()

	weights := map[string]float64{"a": 0.9, "b": 0.8}
	allocs := w.AllocateBudget(1000, weights, StrategyPriority)
	// a asks for 900, b gets what is left.
	assert.Equal(t, 900, allocs["a"])
	assert.Equal(t, 100, allocs["b"])
	assert.Equal(t, 1000, allocs["a"]+allocs["b"])
}

func TestTrackUsageImmutable(t *testing.T) {
	w := NewContextWindowManager()
	budget := w.CreateBudget(models.PlatformChatGPT)

	next := w.TrackUsage(budget, SectionProjectDocs, 3000)
	next = w.TrackUsage(next, SectionWebSearch, 500)

	// The original is untouched.
	assert.Equal(t, 0, budget.Used[SectionProjectDocs])
	assert.Equal(t, budget.TotalAvailable, budget.Remaining)

	assert.Equal(t, 3000, next.Used[SectionProjectDocs])
	assert.Equal(t, 500, next.Used[SectionWebSearch])
	assert.Equal(t, budget.TotalAvailable-3500, next.Remaining)

	// Invariant: sum(used) + remaining == total.
	used := 0
	for _, u := range next.Used {
		used += u
	}
	assert.Equal(t, next.TotalAvailable, used+next.Remaining)
}

func TestIsWithinBudget(t *testing.T) {
	w := NewContextWindowManager()
	budget := w.CreateBudget(models.PlatformChatGPT)

	assert.True(t, w.IsWithinBudget(budget))

	over := w.TrackUsage(budget, SectionTaskAnalysis, budget.Allocations[SectionTaskAnalysis]+1)
	assert.False(t, w.IsWithinBudget(over))

	drained := w.TrackUsage(budget, SectionProjectDocs, budget.TotalAvailable+1)
	assert.False(t, w.IsWithinBudget(drained))
}

func TestRebalanceMovesSurplusToDeficit(t *testing.T) {
	w := NewContextWindowManager()
	budget := models.TokenBudget{
		TotalAvailable: 1000,
		Allocations:    map[string]int{"docs": 700, "web": 300},
		Used:           map[string]int{"docs": 800, "web": 100},
		Remaining:      100,
	}

	next := w.Rebalance(budget)

	// The deficit section grew to cover its usage; the donor shrank.
	assert.GreaterOrEqual(t, next.Allocations["docs"], 800)
	assert.Less(t, next.Allocations["web"], 300)

	// Total allocation never grows.
	sumBefore := budget.Allocations["docs"] + budget.Allocations["web"]
	sumAfter := next.Allocations["docs"] + next.Allocations["web"]
	assert.Equal(t, sumBefore, sumAfter)

	// The original budget is untouched.
	assert.Equal(t, 700, budget.Allocations["docs"])
}

func TestRebalanceNoopWithoutDeficit(t *testing.T) {
	w := NewContextWindowManager()
	budget := w.CreateBudget(models.PlatformClaude)
	tracked := w.TrackUsage(budget, SectionProjectDocs, 100)

	next := w.Rebalance(tracked)
	assert.Equal(t, tracked.Allocations, next.Allocations)
}

func TestModelConfigAvailable(t *testing.T) {
	assert.Equal(t, 12000, ModelConfigs[models.PlatformChatGPT].Available())
	assert.Equal(t, 24000, ModelConfigs[models.PlatformClaude].Available())

	negative := ModelConfig{MaxContextTokens: 10, ReservedForResponse: 20}
	assert.Equal(t, 0, negative.Available())
}

func TestCreateBudgetModelOverride(t *testing.T) {
	w := NewContextWindowManager()

	small := w.CreateBudget(models.PlatformChatGPT, "gpt-3.5-turbo")
	assert.Equal(t, 2000, small.TotalAvailable)
	assert.Equal(t, 2000, small.Remaining)

	// Unknown models keep the platform default.
	unknown := w.CreateBudget(models.PlatformChatGPT, "mystery-model")
	assert.Equal(t, 12000, unknown.TotalAvailable)

	// An empty override behaves like no override.
	blank := w.CreateBudget(models.PlatformClaude, "")
	assert.Equal(t, 24000, blank.TotalAvailable)

	haiku := w.CreateBudget(models.PlatformClaude, "claude-3-haiku")
	assert.Equal(t, 24000, haiku.TotalAvailable)
}
