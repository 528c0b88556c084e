package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tas-context-tailor/services"
)

// Error codes surfaced to clients.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondData writes the success envelope.
func respondData(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, gin.H{"data": payload})
}

// respondError writes the error envelope.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// respondServiceError maps service-layer sentinel errors to stable codes.
// Internal details never reach the client.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, "resource not found")
	case errors.Is(err, services.ErrForbidden):
		respondError(c, http.StatusForbidden, CodeForbidden, "you do not have access to this resource")
	case errors.Is(err, services.ErrEmbedderUnavailable), errors.Is(err, services.ErrNoProviderAvailable):
		respondError(c, http.StatusBadGateway, CodeUpstreamUnavailable, "an upstream dependency is unavailable")
	case errors.Is(err, services.ErrEmptyInput), errors.Is(err, services.ErrEmptyExtract), errors.Is(err, services.ErrChunkLimitExceeded):
		respondError(c, http.StatusUnprocessableEntity, CodeValidationFailed, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// currentUserID pulls the authenticated user from the gin context. The
// auth middleware sets it; a miss means the route is misconfigured.
func currentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		respondError(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return "", false
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		respondError(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return "", false
	}
	return id, true
}
