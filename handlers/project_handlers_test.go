package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
	"github.com/tas-context-tailor/services/pipeline"
)

// handlerStore is an in-memory MetadataStore for handler tests.
type handlerStore struct {
	projects map[uuid.UUID]*models.Project
	docs     map[uuid.UUID]*models.Document
	chunks   []models.Chunk
}

func newHandlerStore() *handlerStore {
	return &handlerStore{
		projects: make(map[uuid.UUID]*models.Project),
		docs:     make(map[uuid.UUID]*models.Document),
	}
}

func (s *handlerStore) addProject(ownerID string) *models.Project {
	p := &models.Project{ID: uuid.New(), Name: "p", OwnerID: ownerID}
	s.projects[p.ID] = p
	return p
}

func (s *handlerStore) addDocument(projectID uuid.UUID) *models.Document {
	d := &models.Document{ID: uuid.New(), ProjectID: projectID, Filename: "doc.md", Status: models.DocumentStatusReady}
	s.docs[d.ID] = d
	s.chunks = append(s.chunks, models.Chunk{ID: uuid.New(), ProjectID: projectID, DocumentID: d.ID})
	return d
}

func (s *handlerStore) CreateProject(_ context.Context, project *models.Project) error {
	s.projects[project.ID] = project
	return nil
}

func (s *handlerStore) GetProject(_ context.Context, ownerID string, projectID uuid.UUID) (*models.Project, error) {
	p, ok := s.projects[projectID]
	if !ok {
		return nil, services.ErrNotFound
	}
	if p.OwnerID != ownerID {
		return nil, services.ErrForbidden
	}
	return p, nil
}

func (s *handlerStore) ListProjects(_ context.Context, _ string) ([]models.Project, error) {
	return nil, nil
}

func (s *handlerStore) UpdateProject(_ context.Context, _ string, _ uuid.UUID, _ *models.UpdateProjectRequest) (*models.Project, error) {
	return nil, nil
}

func (s *handlerStore) DeleteProject(_ context.Context, ownerID string, projectID uuid.UUID) error {
	if _, err := s.GetProject(context.Background(), ownerID, projectID); err != nil {
		return err
	}
	delete(s.projects, projectID)
	return nil
}

func (s *handlerStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.docs[doc.ID] = doc
	return nil
}

func (s *handlerStore) GetDocument(_ context.Context, ownerID string, projectID, documentID uuid.UUID) (*models.Document, error) {
	if _, err := s.GetProject(context.Background(), ownerID, projectID); err != nil {
		return nil, err
	}
	d, ok := s.docs[documentID]
	if !ok || d.ProjectID != projectID {
		return nil, services.ErrNotFound
	}
	return d, nil
}

func (s *handlerStore) ListDocuments(_ context.Context, _ string, _ uuid.UUID) ([]models.Document, error) {
	return nil, nil
}

func (s *handlerStore) UpdateDocument(_ context.Context, _ *models.Document) error { return nil }

func (s *handlerStore) DeleteDocument(ctx context.Context, ownerID string, projectID, documentID uuid.UUID) error {
	if _, err := s.GetDocument(ctx, ownerID, projectID, documentID); err != nil {
		return err
	}
	delete(s.docs, documentID)
	return s.DeleteChunksByDocument(ctx, documentID)
}

func (s *handlerStore) CreateChunks(_ context.Context, chunks []models.Chunk) error {
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *handlerStore) GetChunksByIDs(_ context.Context, _ uuid.UUID, _ []uuid.UUID) ([]models.Chunk, error) {
	return nil, nil
}

func (s *handlerStore) ListChunks(_ context.Context, _ uuid.UUID, _ int) ([]models.Chunk, error) {
	return nil, nil
}

func (s *handlerStore) DeleteChunksByDocument(_ context.Context, documentID uuid.UUID) error {
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	s.chunks = kept
	return nil
}

func (s *handlerStore) CountChunks(_ context.Context, _ uuid.UUID) (int64, error) {
	return int64(len(s.chunks)), nil
}

func (s *handlerStore) CreateSession(_ context.Context, _ *models.TailorSession) error { return nil }

func (s *handlerStore) GetSession(_ context.Context, _ string, _ uuid.UUID) (*models.TailorSession, error) {
	return nil, services.ErrNotFound
}

func (s *handlerStore) ListSessions(_ context.Context, _ string, _ uuid.UUID, _, _ int) ([]models.TailorSession, int64, error) {
	return nil, 0, nil
}

// recordingIndex tracks vector deletions.
type recordingIndex struct {
	deletedDocs []uuid.UUID
	err         error
}

func (r *recordingIndex) Upsert(_ context.Context, _ uuid.UUID, _ []services.VectorEntry) error {
	return nil
}

func (r *recordingIndex) Query(_ context.Context, _ uuid.UUID, _ []float32, _ int, _ services.VectorFilter) ([]services.VectorMatch, error) {
	return nil, nil
}

func (r *recordingIndex) DeleteByDocument(_ context.Context, _, documentID uuid.UUID) error {
	if r.err != nil {
		return r.err
	}
	r.deletedDocs = append(r.deletedDocs, documentID)
	return nil
}

func (r *recordingIndex) DeleteProject(_ context.Context, _ uuid.UUID) error { return nil }

func newDocHandlers(store *handlerStore, index *recordingIndex) *ProjectHandlers {
	ingest := pipeline.NewIngestService(store, nil, nil, nil, index, 1, 1)
	return NewProjectHandlers(store, ingest, nil, index, 0)
}

func deleteDocumentRequest(h *ProjectHandlers, userID string, projectID, documentID uuid.UUID) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/", nil)
	c.Set("user_id", userID)
	c.Params = gin.Params{
		{Key: "id", Value: projectID.String()},
		{Key: "docId", Value: documentID.String()},
	}
	h.DeleteDocument(c)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestDeleteDocumentForbiddenKeepsData(t *testing.T) {
	store := newHandlerStore()
	project := store.addProject("owner-user")
	doc := store.addDocument(project.ID)
	index := &recordingIndex{}
	h := newDocHandlers(store, index)

	w := deleteDocumentRequest(h, "other-user", project.ID, doc.ID)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeForbidden, errorCode(t, w))

	// Nothing was destroyed for the rejected caller.
	assert.Contains(t, store.docs, doc.ID)
	assert.Len(t, store.chunks, 1)
	assert.Empty(t, index.deletedDocs)
}

func TestDeleteDocumentUnknownDocument(t *testing.T) {
	store := newHandlerStore()
	project := store.addProject("owner-user")
	index := &recordingIndex{}
	h := newDocHandlers(store, index)

	w := deleteDocumentRequest(h, "owner-user", project.ID, uuid.New())

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, index.deletedDocs)
}

func TestDeleteDocumentRemovesChunksAndVectors(t *testing.T) {
	store := newHandlerStore()
	project := store.addProject("owner-user")
	doc := store.addDocument(project.ID)
	index := &recordingIndex{}
	h := newDocHandlers(store, index)

	w := deleteDocumentRequest(h, "owner-user", project.ID, doc.ID)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, store.docs, doc.ID)
	assert.Empty(t, store.chunks)
	assert.Equal(t, []uuid.UUID{doc.ID}, index.deletedDocs)
}

func TestDeleteDocumentCleanupFailureKeepsRow(t *testing.T) {
	store := newHandlerStore()
	project := store.addProject("owner-user")
	doc := store.addDocument(project.ID)
	index := &recordingIndex{err: errors.New("index down")}
	h := newDocHandlers(store, index)

	w := deleteDocumentRequest(h, "owner-user", project.ID, doc.ID)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, CodeInternal, errorCode(t, w))

	// The row survives so the delete can be retried.
	assert.Contains(t, store.docs, doc.ID)
	assert.Len(t, store.chunks, 1)
}
