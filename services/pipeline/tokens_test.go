package pipeline

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCounterEstimate(t *testing.T) {
	tc := NewTokenCounter()

	assert.Equal(t, 0, tc.Estimate(""))
	assert.Equal(t, 0, tc.Estimate("   "))
	// 4 words * 1.3 = 5.2 -> 6
	assert.Equal(t, 6, tc.Estimate("one two three four"))
	// 1 word -> ceil(1.3) = 2
	assert.Equal(t, 2, tc.Estimate("hello"))
}

func TestTokenCounterCount(t *testing.T) {
	tc := NewTokenCounter()

	assert.Equal(t, 0, tc.Count(""))

	count := tc.Count("the quick brown fox jumps over the lazy dog")
	require.Greater(t, count, 0)

	// Memoized result is stable.
	assert.Equal(t, count, tc.Count("the quick brown fox jumps over the lazy dog"))

	// Longer text counts more tokens.
	longer := tc.Count("the quick brown fox jumps over the lazy dog and keeps running through the forest")
	assert.Greater(t, longer, count)
}

func TestTokenCounterCacheEviction(t *testing.T) {
	tc := NewTokenCounter()

	for i := 0; i < tokenCacheSize+50; i++ {
		tc.Count(fmt.Sprintf("entry number %d", i))
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	assert.LessOrEqual(t, len(tc.cache), tokenCacheSize)
	assert.Equal(t, len(tc.cache), len(tc.order))
}

func TestTokenCounterConcurrent(t *testing.T) {
	tc := NewTokenCounter()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tc.Count(fmt.Sprintf("worker %d item %d", n, j%20))
				tc.Estimate("some text to estimate")
			}
		}(i)
	}
	wg.Wait()
}
