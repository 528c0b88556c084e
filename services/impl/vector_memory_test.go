package impl

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-context-tailor/services"
)

func seedIndex(t *testing.T, idx services.VectorIndex, projectID uuid.UUID, entries []services.VectorEntry) {
	t.Helper()
	require.NoError(t, idx.Upsert(context.Background(), projectID, entries))
}

func TestMemoryIndexQueryOrdering(t *testing.T) {
	idx := NewMemoryVectorIndex()
	projectID := uuid.New()
	docID := uuid.New()

	near := services.VectorEntry{ID: uuid.New(), DocumentID: docID, Vector: []float32{1, 0, 0}}
	mid := services.VectorEntry{ID: uuid.New(), DocumentID: docID, Vector: []float32{1, 1, 0}}
	far := services.VectorEntry{ID: uuid.New(), DocumentID: docID, Vector: []float32{0, 0, 1}}
	seedIndex(t, idx, projectID, []services.VectorEntry{far, mid, near})

	matches, err := idx.Query(context.Background(), projectID, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, near.ID, matches[0].ID)
	assert.Equal(t, mid.ID, matches[1].ID)
	assert.Equal(t, far.ID, matches[2].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-6)

	// topK caps the result set.
	capped, err := idx.Query(context.Background(), projectID, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, capped, 2)

	none, err := idx.Query(context.Background(), projectID, []float32{1, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryIndexUpsertOverwrites(t *testing.T) {
	idx := NewMemoryVectorIndex()
	projectID := uuid.New()
	id := uuid.New()

	seedIndex(t, idx, projectID, []services.VectorEntry{
		{ID: id, DocumentID: uuid.New(), Vector: []float32{1, 0}},
	})
	seedIndex(t, idx, projectID, []services.VectorEntry{
		{ID: id, DocumentID: uuid.New(), Vector: []float32{0, 1}},
	})

	matches, err := idx.Query(context.Background(), projectID, []float32{0, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestMemoryIndexDocumentFilter(t *testing.T) {
	idx := NewMemoryVectorIndex()
	projectID := uuid.New()
	docA := uuid.New()
	docB := uuid.New()

	seedIndex(t, idx, projectID, []services.VectorEntry{
		{ID: uuid.New(), DocumentID: docA, Vector: []float32{1, 0}},
		{ID: uuid.New(), DocumentID: docB, Vector: []float32{1, 0}},
	})

	matches, err := idx.Query(context.Background(), projectID, []float32{1, 0}, 10,
		services.VectorFilter{"document_id": docA.String()})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, docA, matches[0].DocumentID)

	// IN-style filters accept a candidate list.
	both, err := idx.Query(context.Background(), projectID, []float32{1, 0}, 10,
		services.VectorFilter{"document_id": []interface{}{docA.String(), docB.String()}})
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestMemoryIndexMetadataFilter(t *testing.T) {
	idx := NewMemoryVectorIndex()
	projectID := uuid.New()

	seedIndex(t, idx, projectID, []services.VectorEntry{
		{ID: uuid.New(), DocumentID: uuid.New(), Vector: []float32{1, 0},
			Metadata: map[string]interface{}{"lang": "go"}},
		{ID: uuid.New(), DocumentID: uuid.New(), Vector: []float32{1, 0},
			Metadata: map[string]interface{}{"lang": "python"}},
	})

	matches, err := idx.Query(context.Background(), projectID, []float32{1, 0}, 10,
		services.VectorFilter{"lang": "go"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "go", matches[0].Metadata["lang"])
}

func TestMemoryIndexDeleteByDocument(t *testing.T) {
	idx := NewMemoryVectorIndex()
	projectID := uuid.New()
	docA := uuid.New()
	docB := uuid.New()

	seedIndex(t, idx, projectID, []services.VectorEntry{
		{ID: uuid.New(), DocumentID: docA, Vector: []float32{1, 0}},
		{ID: uuid.New(), DocumentID: docA, Vector: []float32{0, 1}},
		{ID: uuid.New(), DocumentID: docB, Vector: []float32{1, 1}},
	})

	require.NoError(t, idx.DeleteByDocument(context.Background(), projectID, docA))

	matches, err := idx.Query(context.Background(), projectID, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, docB, matches[0].DocumentID)
}

func TestMemoryIndexDeleteProject(t *testing.T) {
	idx := NewMemoryVectorIndex()
	projectID := uuid.New()
	other := uuid.New()

	seedIndex(t, idx, projectID, []services.VectorEntry{
		{ID: uuid.New(), DocumentID: uuid.New(), Vector: []float32{1, 0}},
	})
	seedIndex(t, idx, other, []services.VectorEntry{
		{ID: uuid.New(), DocumentID: uuid.New(), Vector: []float32{1, 0}},
	})

	require.NoError(t, idx.DeleteProject(context.Background(), projectID))

	gone, err := idx.Query(context.Background(), projectID, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := idx.Query(context.Background(), other, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Degenerate inputs score zero instead of dividing by it.
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
