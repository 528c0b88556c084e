package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DocumentStatus string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusError      DocumentStatus = "error"
)

// StructuralHints are reported by the text extractor and drive the
// chunking strategy for a document.
type StructuralHints struct {
	HasHeadings  bool   `json:"has_headings,omitempty"`
	CodeLanguage string `json:"code_language,omitempty"`
	PageCount    int    `json:"page_count,omitempty"`
}

func (h StructuralHints) Value() (driver.Value, error) {
	return json.Marshal(h)
}

func (h *StructuralHints) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), h)
	}

	return json.Unmarshal(bytes, h)
}

// Document is an uploaded file belonging to one project. It is created on
// upload in status processing and mutated only by the ingestion pipeline.
type Document struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primary_key"`
	ProjectID   uuid.UUID       `json:"project_id" gorm:"type:uuid;not null;index"`
	Filename    string          `json:"filename" gorm:"not null"`
	MimeType    string          `json:"mime_type"`
	SizeBytes   int64           `json:"size_bytes"`
	ContentHash string          `json:"content_hash" gorm:"index"`
	Status      DocumentStatus  `json:"status" gorm:"not null;default:'processing'"`
	StatusError string          `json:"status_error,omitempty"`
	ChunkCount  int             `json:"chunk_count"`
	Hints       StructuralHints `json:"hints" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

// Chunk is a positioned slice of a document's extracted text. Chunks are
// immutable once their document reaches status ready.
type Chunk struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	DocumentID uuid.UUID      `json:"document_id" gorm:"type:uuid;not null;index"`
	ProjectID  uuid.UUID      `json:"project_id" gorm:"type:uuid;not null;index"`
	Content    string         `json:"content" gorm:"not null"`
	Position   int            `json:"position" gorm:"not null"`
	TokenCount int            `json:"token_count"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Chunk) TableName() string {
	return "chunks"
}
