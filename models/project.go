package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is the unit of ownership for uploaded documents. Deleting a
// project cascades to its documents, chunks, vector entries and sessions.
type Project struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id" gorm:"not null;index"`

	DocumentCount int `json:"document_count" gorm:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// CreateProjectRequest is the payload for POST /api/projects
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=255"`
	Description string `json:"description" binding:"max=2000"`
}

// UpdateProjectRequest is the payload for PUT /api/projects/{id}
type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}
