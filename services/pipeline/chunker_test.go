package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

func newTestChunker() *Chunker {
	return NewChunker(NewTokenCounter())
}

func TestChunkEmptyInput(t *testing.T) {
	c := newTestChunker()

	_, err := c.Chunk("", models.StructuralHints{})
	assert.ErrorIs(t, err, services.ErrEmptyInput)

	_, err = c.Chunk("   \n\t  ", models.StructuralHints{})
	assert.ErrorIs(t, err, services.ErrEmptyInput)
}

func TestChunkShortText(t *testing.T) {
	c := newTestChunker()

	pieces, err := c.Chunk("A single short paragraph.", models.StructuralHints{})
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, "A single short paragraph.", pieces[0].Content)
	assert.Greater(t, pieces[0].TokenCount, 0)
}

func TestChunkHeadingStrategy(t *testing.T) {
	c := newTestChunker()

	text := "# Setup\n\nInstall the dependencies first.\n\n# Usage\n\nRun the binary with the config flag.\n\n## Flags\n\nThe verbose flag enables request logging."
	pieces, err := c.Chunk(text, models.StructuralHints{HasHeadings: true})
	require.NoError(t, err)
	require.Len(t, pieces, 3)
	assert.True(t, strings.HasPrefix(pieces[0].Content, "# Setup"))
	assert.True(t, strings.HasPrefix(pieces[1].Content, "# Usage"))
	assert.True(t, strings.HasPrefix(pieces[2].Content, "## Flags"))
}

func TestChunkHardCapEnforced(t *testing.T) {
	c := newTestChunker()

	var sb strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&sb, "Sentence number %d describes a small detail of the system. ", i)
	}
	pieces, err := c.Chunk(sb.String(), models.StructuralHints{})
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, p.TokenCount, chunkHardCap)
	}
}

func TestChunkSemanticOverlap(t *testing.T) {
	c := newTestChunker()

	var paras []string
	for i := 0; i < 40; i++ {
		paras = append(paras, fmt.Sprintf("Paragraph %d explains one aspect of the retrieval layer. It repeats the point with a second sentence so the splitter has boundaries. The third sentence closes paragraph %d.", i, i))
	}
	pieces, err := c.Chunk(strings.Join(paras, "\n\n"), models.StructuralHints{})
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	// Each chunk after the first is seeded with the trailing sentences of
	// its predecessor, so its opening block ends exactly where the
	// previous chunk ends.
	for i := 1; i < len(pieces); i++ {
		seed := strings.SplitN(pieces[i].Content, "\n\n", 2)[0]
		idx := strings.LastIndex(seed, "The third sentence")
		require.GreaterOrEqual(t, idx, 0, "chunk %d should open with overlap", i)
		assert.True(t, strings.HasSuffix(pieces[i-1].Content, seed[idx:]),
			"chunk %d overlap should close chunk %d", i, i-1)
	}
}

func TestChunkCodeStrategy(t *testing.T) {
	c := newTestChunker()

	var sb strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, "func handler%d(w http.ResponseWriter, r *http.Request) {\n", i)
		for j := 0; j < 12; j++ {
			fmt.Fprintf(&sb, "\tlog.Printf(\"request %d step %d\")\n", i, j)
		}
		sb.WriteString("}\n\n")
	}
	pieces, err := c.Chunk(sb.String(), models.StructuralHints{CodeLanguage: "go"})
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, p.TokenCount, chunkHardCap)
		// Splits land on declaration boundaries.
		assert.True(t, strings.HasPrefix(p.Content, "func "))
	}
}

func TestChunkUnsplittableWord(t *testing.T) {
	c := newTestChunker()
	if c.tokens.encoding == nil {
		t.Skip("tokenizer data unavailable")
	}

	_, err := c.Chunk(strings.Repeat("x", 40000), models.StructuralHints{})
	assert.ErrorIs(t, err, services.ErrChunkLimitExceeded)
}

func TestTrailingSentences(t *testing.T) {
	tokens := NewTokenCounter()

	text := "First sentence here. Second sentence follows. Third sentence ends it."
	got := trailingSentences(text, 10, tokens)
	assert.NotEmpty(t, got)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), got) || strings.Contains(text, got))

	assert.Empty(t, trailingSentences(text, 0, tokens))
}
