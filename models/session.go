package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TargetPlatform string

const (
	PlatformChatGPT TargetPlatform = "chatgpt"
	PlatformClaude  TargetPlatform = "claude"
)

// TailorSession snapshots one completed tailor request. Sessions are
// append-only; no field is updated after creation.
type TailorSession struct {
	ID               uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	UserID           string         `json:"user_id" gorm:"not null;index"`
	ProjectID        uuid.UUID      `json:"project_id" gorm:"type:uuid;not null;index"`
	TaskInput        string         `json:"task_input" gorm:"not null"`
	AssembledContext string         `json:"assembled_context"`
	TargetPlatform   TargetPlatform `json:"target_platform" gorm:"not null"`
	TokenCount       int            `json:"token_count"`
	// QualityScore is stored in [0,1]; the 0-100 overall lives inside
	// the metadata quality report.
	QualityScore float64        `json:"quality_score"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (TailorSession) TableName() string {
	return "tailor_sessions"
}
