package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

// fakeStore is an in-memory MetadataStore for pipeline tests.
type fakeStore struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
	docs     map[uuid.UUID]*models.Document
	chunks   []models.Chunk
	sessions []models.TailorSession

	failCreateSession bool
	failListChunks    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: make(map[uuid.UUID]*models.Project),
		docs:     make(map[uuid.UUID]*models.Document),
	}
}

func (s *fakeStore) addProject(ownerID string) *models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &models.Project{ID: uuid.New(), Name: "test project", OwnerID: ownerID}
	s.projects[p.ID] = p
	return p
}

func (s *fakeStore) addDocument(projectID uuid.UUID, filename string) *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &models.Document{ID: uuid.New(), ProjectID: projectID, Filename: filename, Status: models.DocumentStatusReady}
	s.docs[d.ID] = d
	return d
}

func (s *fakeStore) addChunk(projectID, documentID uuid.UUID, position int, content string) models.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := models.Chunk{ID: uuid.New(), ProjectID: projectID, DocumentID: documentID, Position: position, Content: content}
	s.chunks = append(s.chunks, c)
	return c
}

func (s *fakeStore) CreateProject(_ context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	s.projects[project.ID] = project
	return nil
}

func (s *fakeStore) GetProject(_ context.Context, ownerID string, projectID uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, services.ErrNotFound
	}
	if p.OwnerID != ownerID {
		return nil, services.ErrForbidden
	}
	return p, nil
}

func (s *fakeStore) ListProjects(_ context.Context, ownerID string) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Project
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateProject(ctx context.Context, ownerID string, projectID uuid.UUID, req *models.UpdateProjectRequest) (*models.Project, error) {
	p, err := s.GetProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	return p, nil
}

func (s *fakeStore) DeleteProject(ctx context.Context, ownerID string, projectID uuid.UUID) error {
	if _, err := s.GetProject(ctx, ownerID, projectID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
	return nil
}

func (s *fakeStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *fakeStore) GetDocument(_ context.Context, ownerID string, projectID, documentID uuid.UUID) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[documentID]
	if !ok || d.ProjectID != projectID {
		return nil, services.ErrNotFound
	}
	return d, nil
}

func (s *fakeStore) ListDocuments(_ context.Context, _ string, projectID uuid.UUID) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, d := range s.docs {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *fakeStore) DeleteDocument(_ context.Context, _ string, _, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	return nil
}

func (s *fakeStore) CreateChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *fakeStore) GetChunksByIDs(_ context.Context, projectID uuid.UUID, chunkIDs []uuid.UUID) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		wanted[id] = true
	}
	var out []models.Chunk
	for _, c := range s.chunks {
		if c.ProjectID == projectID && wanted[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) ListChunks(_ context.Context, projectID uuid.UUID, limit int) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failListChunks {
		return nil, errors.New("store down")
	}
	var out []models.Chunk
	for _, c := range s.chunks {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteChunksByDocument(_ context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	s.chunks = kept
	return nil
}

func (s *fakeStore) CountChunks(_ context.Context, projectID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.chunks {
		if c.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CreateSession(_ context.Context, session *models.TailorSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateSession {
		return errors.New("session insert failed")
	}
	s.sessions = append(s.sessions, *session)
	return nil
}

func (s *fakeStore) GetSession(_ context.Context, userID string, sessionID uuid.UUID) (*models.TailorSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].ID == sessionID {
			if s.sessions[i].UserID != userID {
				return nil, services.ErrForbidden
			}
			return &s.sessions[i], nil
		}
	}
	return nil, services.ErrNotFound
}

func (s *fakeStore) ListSessions(_ context.Context, userID string, projectID uuid.UUID, limit, offset int) ([]models.TailorSession, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TailorSession
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ProjectID == projectID {
			out = append(out, sess)
		}
	}
	return out, int64(len(out)), nil
}

// fakeEmbedder fails every call with ErrEmbedderUnavailable.
type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, services.ErrEmbedderUnavailable
}

func (downEmbedder) Dimension() int { return 8 }

// fakeIndex returns canned matches regardless of the query vector.
type fakeIndex struct {
	matches []services.VectorMatch
	err     error
}

func (f *fakeIndex) Upsert(context.Context, uuid.UUID, []services.VectorEntry) error { return nil }

func (f *fakeIndex) Query(context.Context, uuid.UUID, []float32, int, services.VectorFilter) ([]services.VectorMatch, error) {
	return f.matches, f.err
}

func (f *fakeIndex) DeleteByDocument(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (f *fakeIndex) DeleteProject(context.Context, uuid.UUID) error               { return nil }

// unitEmbedder returns the same unit vector for every text, so every
// stored chunk matches every query with similarity 1.
type unitEmbedder struct{}

func (unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (unitEmbedder) Dimension() int { return 4 }

// fakeEncoder returns fixed scores, or an error.
type fakeEncoder struct {
	scores []float64
	err    error
	calls  int
}

func (f *fakeEncoder) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.scores) >= len(passages) {
		return f.scores[:len(passages)], nil
	}
	return f.scores, nil
}

// fakeSearcher returns canned web results and counts calls.
type fakeSearcher struct {
	mu       sync.Mutex
	results  []models.WebResult
	err      error
	calls    int
	lastOpts services.WebSearchOptions
}

func (f *fakeSearcher) Search(_ context.Context, _ string, opts services.WebSearchOptions) ([]models.WebResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSearcher) lastOptions() services.WebSearchOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

// memoryCache is a map-backed CacheService for tests.
type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string][]byte)}
}

func (c *memoryCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = raw
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memoryCache) Health(context.Context) error { return nil }
