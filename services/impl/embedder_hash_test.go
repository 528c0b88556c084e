package impl

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	a, err := e.Embed(context.Background(), []string{"redis cache eviction"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"redis cache eviction"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Tokenization is case-insensitive.
	c, err := e.Embed(context.Background(), []string{"Redis Cache EVICTION"})
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestHashEmbedderDimension(t *testing.T) {
	assert.Equal(t, 64, NewHashEmbedder(64).Dimension())
	// Non-positive dimensions fall back to the default.
	assert.Equal(t, 256, NewHashEmbedder(0).Dimension())
	assert.Equal(t, 256, NewHashEmbedder(-3).Dimension())
}

func TestHashEmbedderNormalized(t *testing.T) {
	e := NewHashEmbedder(32)

	vecs, err := e.Embed(context.Background(), []string{
		"the quick brown fox jumps over the lazy dog",
		"",
		"single",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for _, vec := range vecs {
		require.Len(t, vec, 32)
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}
}

func TestHashEmbedderSharedTokensScoreCloser(t *testing.T) {
	e := NewHashEmbedder(128)

	vecs, err := e.Embed(context.Background(), []string{
		"configure redis cache eviction policy",
		"redis cache eviction settings",
		"unrelated words entirely absent elsewhere",
	})
	require.NoError(t, err)

	similar := cosineSimilarity(vecs[0], vecs[1])
	distant := cosineSimilarity(vecs[0], vecs[2])
	assert.Greater(t, similar, distant)
}
