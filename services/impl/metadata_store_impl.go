package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

// metadataStoreImpl implements MetadataStore on gorm/Postgres.
type metadataStoreImpl struct {
	db *gorm.DB
}

// NewMetadataStore creates a new MetadataStore instance
func NewMetadataStore(db *gorm.DB) services.MetadataStore {
	return &metadataStoreImpl{db: db}
}

// CreateProject creates a new project
func (s *metadataStoreImpl) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	project.CreatedAt = time.Now()
	project.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject fetches one project and enforces ownership.
func (s *metadataStoreImpl) GetProject(ctx context.Context, ownerID string, projectID uuid.UUID) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if project.OwnerID != ownerID {
		return nil, services.ErrForbidden
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("project_id = ?", project.ID).Count(&count).Error; err == nil {
		project.DocumentCount = int(count)
	}

	return &project, nil
}

// ListProjects returns the caller's projects, newest first.
func (s *metadataStoreImpl) ListProjects(ctx context.Context, ownerID string) ([]models.Project, error) {
	var projects []models.Project
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	for i := range projects {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Document{}).
			Where("project_id = ?", projects[i].ID).Count(&count).Error; err == nil {
			projects[i].DocumentCount = int(count)
		}
	}

	return projects, nil
}

// UpdateProject applies the non-nil fields of req.
func (s *metadataStoreImpl) UpdateProject(ctx context.Context, ownerID string, projectID uuid.UUID, req *models.UpdateProjectRequest) (*models.Project, error) {
	project, err := s.GetProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	if err := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	return s.GetProject(ctx, ownerID, project.ID)
}

// DeleteProject removes the project and everything under it in one
// transaction. Vector entries are cleaned up by the caller.
func (s *metadataStoreImpl) DeleteProject(ctx context.Context, ownerID string, projectID uuid.UUID) error {
	if _, err := s.GetProject(ctx, ownerID, projectID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Document{}).Error; err != nil {
			return fmt.Errorf("failed to delete documents: %w", err)
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.TailorSession{}).Error; err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
		if err := tx.Delete(&models.Project{}, "id = ?", projectID).Error; err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		return nil
	})
}

// CreateDocument creates a new document row
func (s *metadataStoreImpl) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusProcessing
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument fetches one document under an owned project.
func (s *metadataStoreImpl) GetDocument(ctx context.Context, ownerID string, projectID, documentID uuid.UUID) (*models.Document, error) {
	if _, err := s.GetProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	var doc models.Document
	err := s.db.WithContext(ctx).
		First(&doc, "id = ? AND project_id = ?", documentID, projectID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// ListDocuments returns a project's documents, newest first.
func (s *metadataStoreImpl) ListDocuments(ctx context.Context, ownerID string, projectID uuid.UUID) ([]models.Document, error) {
	if _, err := s.GetProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	var docs []models.Document
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// UpdateDocument saves status, chunk count and hints set by the
// ingestion pipeline. Ownership was checked at upload time.
func (s *metadataStoreImpl) UpdateDocument(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and its chunks.
func (s *metadataStoreImpl) DeleteDocument(ctx context.Context, ownerID string, projectID, documentID uuid.UUID) error {
	if _, err := s.GetDocument(ctx, ownerID, projectID, documentID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if err := tx.Delete(&models.Document{}, "id = ?", documentID).Error; err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return nil
	})
}

// CreateChunks bulk-inserts chunk rows in batches.
func (s *metadataStoreImpl) CreateChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if chunks[i].ID == uuid.Nil {
			chunks[i].ID = uuid.New()
		}
		chunks[i].CreatedAt = time.Now()
	}

	if err := s.db.WithContext(ctx).CreateInBatches(chunks, 100).Error; err != nil {
		return fmt.Errorf("failed to create chunks: %w", err)
	}
	return nil
}

// GetChunksByIDs hydrates chunk content for retrieval hits. Results are
// restricted to the project to keep tenant isolation even on forged IDs.
func (s *metadataStoreImpl) GetChunksByIDs(ctx context.Context, projectID uuid.UUID, chunkIDs []uuid.UUID) ([]models.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	var chunks []models.Chunk
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND id IN ?", projectID, chunkIDs).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	return chunks, nil
}

// ListChunks pages a project's chunks in stable order.
func (s *metadataStoreImpl) ListChunks(ctx context.Context, projectID uuid.UUID, limit int) ([]models.Chunk, error) {
	if limit <= 0 {
		limit = 500
	}

	var chunks []models.Chunk
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("document_id, position").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

// DeleteChunksByDocument removes every chunk of one document.
func (s *metadataStoreImpl) DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) error {
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).Delete(&models.Chunk{}).Error; err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// CountChunks counts chunks under a project.
func (s *metadataStoreImpl) CountChunks(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("project_id = ?", projectID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// CreateSession persists one completed tailor run.
func (s *metadataStoreImpl) CreateSession(ctx context.Context, session *models.TailorSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.CreatedAt = time.Now()

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession fetches one session owned by userID.
func (s *metadataStoreImpl) GetSession(ctx context.Context, userID string, sessionID uuid.UUID) (*models.TailorSession, error) {
	var session models.TailorSession
	err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.UserID != userID {
		return nil, services.ErrForbidden
	}

	return &session, nil
}

// ListSessions pages a project's sessions for one user, newest first.
func (s *metadataStoreImpl) ListSessions(ctx context.Context, userID string, projectID uuid.UUID, limit, offset int) ([]models.TailorSession, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&models.TailorSession{}).
		Where("user_id = ? AND project_id = ?", userID, projectID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	var sessions []models.TailorSession
	err := query.Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, total, nil
}
