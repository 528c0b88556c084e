package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/tas-context-tailor/models"
)

// MetadataStore is the relational persistence layer for projects,
// documents, chunks and tailor sessions. All reads enforce ownership:
// requesting an entity under a project the caller does not own returns
// ErrForbidden, a missing entity returns ErrNotFound.
type MetadataStore interface {
	// Projects
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, ownerID string, projectID uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]models.Project, error)
	UpdateProject(ctx context.Context, ownerID string, projectID uuid.UUID, req *models.UpdateProjectRequest) (*models.Project, error)
	// DeleteProject removes the project and cascades to its documents,
	// chunks and sessions. Vector cleanup is the caller's job.
	DeleteProject(ctx context.Context, ownerID string, projectID uuid.UUID) error

	// Documents
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, ownerID string, projectID, documentID uuid.UUID) (*models.Document, error)
	ListDocuments(ctx context.Context, ownerID string, projectID uuid.UUID) ([]models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, ownerID string, projectID, documentID uuid.UUID) error

	// Chunks
	CreateChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunksByIDs(ctx context.Context, projectID uuid.UUID, chunkIDs []uuid.UUID) ([]models.Chunk, error)
	// ListChunks pages a project's chunks in (document_id, position)
	// order. Used by keyword-only retrieval when the embedder is down.
	ListChunks(ctx context.Context, projectID uuid.UUID, limit int) ([]models.Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) error
	CountChunks(ctx context.Context, projectID uuid.UUID) (int64, error)

	// Sessions
	CreateSession(ctx context.Context, session *models.TailorSession) error
	GetSession(ctx context.Context, userID string, sessionID uuid.UUID) (*models.TailorSession, error)
	ListSessions(ctx context.Context, userID string, projectID uuid.UUID, limit, offset int) ([]models.TailorSession, int64, error)
}
