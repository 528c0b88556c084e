package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
	"github.com/tas-context-tailor/services/pipeline"
)

// TailorHandlers serves the tailoring endpoints and session history.
type TailorHandlers struct {
	orchestrator *pipeline.Orchestrator
	store        services.MetadataStore
}

// NewTailorHandlers creates TailorHandlers.
func NewTailorHandlers(orchestrator *pipeline.Orchestrator, store services.MetadataStore) *TailorHandlers {
	return &TailorHandlers{orchestrator: orchestrator, store: store}
}

// Tailor handles POST /api/tailor
func (h *TailorHandlers) Tailor(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.TailorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.orchestrator.Tailor(c.Request.Context(), userID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, resp)
}

// Preview handles POST /api/tailor/preview
func (h *TailorHandlers) Preview(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.TailorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.orchestrator.Preview(c.Request.Context(), userID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, resp)
}

// ListSessions handles GET /api/tailor/sessions?projectId=&limit=&offset=
func (h *TailorHandlers) ListSessions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	projectID, err := uuid.Parse(c.Query("projectId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationFailed, "query parameter projectId is required")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, total, err := h.store.ListSessions(c.Request.Context(), userID, projectID, limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    total,
	})
}

// GetSession handles GET /api/tailor/sessions/:id
func (h *TailorHandlers) GetSession(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	session, err := h.store.GetSession(c.Request.Context(), userID, sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, session)
}
