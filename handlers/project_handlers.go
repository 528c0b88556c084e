package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
	"github.com/tas-context-tailor/services/pipeline"
)

// ProjectHandlers serves project CRUD, document upload and direct doc
// search.
type ProjectHandlers struct {
	store          services.MetadataStore
	ingest         *pipeline.IngestService
	orchestrator   *pipeline.Orchestrator
	vectorIndex    services.VectorIndex
	maxUploadBytes int64
}

// NewProjectHandlers creates ProjectHandlers.
func NewProjectHandlers(store services.MetadataStore, ingest *pipeline.IngestService, orchestrator *pipeline.Orchestrator, vectorIndex services.VectorIndex, maxUploadBytes int64) *ProjectHandlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 * 1024 * 1024
	}
	return &ProjectHandlers{
		store:          store,
		ingest:         ingest,
		orchestrator:   orchestrator,
		vectorIndex:    vectorIndex,
		maxUploadBytes: maxUploadBytes,
	}
}

// CreateProject handles POST /api/projects
func (h *ProjectHandlers) CreateProject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "invalid request body: "+err.Error())
		return
	}

	project := &models.Project{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     userID,
	}
	if err := h.store.CreateProject(c.Request.Context(), project); err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusCreated, project)
}

// ListProjects handles GET /api/projects
func (h *ProjectHandlers) ListProjects(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	projects, err := h.store.ListProjects(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, projects)
}

// GetProject handles GET /api/projects/:id
func (h *ProjectHandlers) GetProject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	project, err := h.store.GetProject(c.Request.Context(), userID, projectID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, project)
}

// UpdateProject handles PUT /api/projects/:id
func (h *ProjectHandlers) UpdateProject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "invalid request body: "+err.Error())
		return
	}

	project, err := h.store.UpdateProject(c.Request.Context(), userID, projectID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, project)
}

// DeleteProject handles DELETE /api/projects/:id
func (h *ProjectHandlers) DeleteProject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteProject(c.Request.Context(), userID, projectID); err != nil {
		respondServiceError(c, err)
		return
	}
	// Vectors are reconstructable; a failed cleanup is logged, not
	// surfaced.
	if err := h.vectorIndex.DeleteProject(c.Request.Context(), projectID); err != nil {
		log.Printf("failed to delete vectors for project %s: %v", projectID, err)
	}

	respondData(c, http.StatusOK, gin.H{"deleted": true})
}

// UploadDocument handles POST /api/projects/:id/documents. The document
// row is returned in status processing; ingestion continues in the
// background.
func (h *ProjectHandlers) UploadDocument(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if _, err := h.store.GetProject(c.Request.Context(), userID, projectID); err != nil {
		respondServiceError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "multipart field 'file' is required")
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge, CodeQuotaExceeded, "file exceeds the upload size limit")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "failed to read uploaded file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "failed to read uploaded file")
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge, CodeQuotaExceeded, "file exceeds the upload size limit")
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	doc := &models.Document{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Filename:    fileHeader.Filename,
		MimeType:    mimeType,
		SizeBytes:   int64(len(data)),
		ContentHash: contentHash(data),
		Status:      models.DocumentStatusProcessing,
	}
	if err := h.store.CreateDocument(c.Request.Context(), doc); err != nil {
		respondServiceError(c, err)
		return
	}

	// Ingestion outlives the HTTP request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := h.ingest.Ingest(ctx, doc, data); err != nil {
			log.Printf("ingestion failed for document %s: %v", doc.ID, err)
		}
	}()

	respondData(c, http.StatusAccepted, doc)
}

// ListDocuments handles GET /api/projects/:id/documents
func (h *ProjectHandlers) ListDocuments(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	docs, err := h.store.ListDocuments(c.Request.Context(), userID, projectID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, docs)
}

// DeleteDocument handles DELETE /api/projects/:id/documents/:docId
func (h *ProjectHandlers) DeleteDocument(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	documentID, ok := pathUUID(c, "docId")
	if !ok {
		return
	}

	// Ownership resolves before anything is destroyed.
	if _, err := h.store.GetDocument(c.Request.Context(), userID, projectID, documentID); err != nil {
		respondServiceError(c, err)
		return
	}

	// Chunks and vectors go first. On failure the document row stays so
	// the delete can be retried without orphaning index entries.
	if err := h.ingest.RemoveDocument(c.Request.Context(), projectID, documentID); err != nil {
		log.Printf("failed to remove data for document %s: %v", documentID, err)
		respondError(c, http.StatusInternalServerError, CodeInternal, "document data cleanup failed; retry the delete")
		return
	}
	if err := h.store.DeleteDocument(c.Request.Context(), userID, projectID, documentID); err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, gin.H{"deleted": true})
}

// SearchDocs handles POST /api/search/docs
func (h *ProjectHandlers) SearchDocs(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.SearchDocsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "invalid request body: "+err.Error())
		return
	}

	results, err := h.orchestrator.SearchDocs(c.Request.Context(), userID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, gin.H{"results": results})
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
