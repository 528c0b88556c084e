package impl

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"github.com/tas-context-tailor/services"
)

// hashEmbedder is a deterministic, offline Embedder. Each token hashes
// into a bucket of the output vector, which is then L2-normalized. Used
// in development and tests; similar texts land near each other because
// they share token buckets.
type hashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a deterministic embedder with the given
// dimension.
func NewHashEmbedder(dimension int) services.Embedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &hashEmbedder{dimension: dimension}
}

func (e *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *hashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(e.dimension)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func (e *hashEmbedder) Dimension() int {
	return e.dimension
}
