package impl

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tas-context-tailor/services"
)

// memoryVectorIndex implements VectorIndex with in-process storage. Used
// in development and tests; the pgvector backend is the production path.
type memoryVectorIndex struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]map[uuid.UUID]services.VectorEntry
}

// NewMemoryVectorIndex creates an empty in-memory vector index.
func NewMemoryVectorIndex() services.VectorIndex {
	return &memoryVectorIndex{
		projects: make(map[uuid.UUID]map[uuid.UUID]services.VectorEntry),
	}
}

func (m *memoryVectorIndex) Upsert(_ context.Context, projectID uuid.UUID, entries []services.VectorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.projects[projectID]
	if !ok {
		bucket = make(map[uuid.UUID]services.VectorEntry)
		m.projects[projectID] = bucket
	}
	for _, entry := range entries {
		bucket[entry.ID] = entry
	}
	return nil
}

func (m *memoryVectorIndex) Query(_ context.Context, projectID uuid.UUID, vector []float32, topK int, filter services.VectorFilter) ([]services.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket := m.projects[projectID]
	matches := make([]services.VectorMatch, 0, len(bucket))
	for _, entry := range bucket {
		if !matchesFilter(entry, filter) {
			continue
		}
		matches = append(matches, services.VectorMatch{
			ID:         entry.ID,
			DocumentID: entry.DocumentID,
			Score:      cosineSimilarity(vector, entry.Vector),
			Metadata:   entry.Metadata,
		})
	}

	// Stable ordering: score desc, then ID for deterministic ties.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID.String() < matches[j].ID.String()
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *memoryVectorIndex) DeleteByDocument(_ context.Context, projectID, documentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, entry := range m.projects[projectID] {
		if entry.DocumentID == documentID {
			delete(m.projects[projectID], id)
		}
	}
	return nil
}

func (m *memoryVectorIndex) DeleteProject(_ context.Context, projectID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.projects, projectID)
	return nil
}

func matchesFilter(entry services.VectorEntry, filter services.VectorFilter) bool {
	for key, want := range filter {
		var got interface{}
		switch key {
		case "document_id":
			got = entry.DocumentID.String()
		default:
			got = entry.Metadata[key]
		}

		if in, ok := want.([]interface{}); ok {
			found := false
			for _, candidate := range in {
				if got == candidate {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
