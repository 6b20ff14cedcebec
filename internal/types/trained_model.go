package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TrainedModelStatusTraining  = "training"
	TrainedModelStatusPublished = "published"
	TrainedModelStatusFailed    = "failed"
)

// TrainedModel is the persisted application record of a trained model,
// written by the publish flow and read during status reconciliation.
type TrainedModel struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID           string         `gorm:"column:run_id;not null;uniqueIndex" json:"run_id"`
	ModelName       string         `gorm:"column:model_name;not null;index" json:"model_name"`
	TriggerWord     string         `gorm:"column:trigger_word" json:"trigger_word"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	PublishedRepoID string         `gorm:"column:published_repo_id" json:"published_repo_id"`
	IsPublishReady  bool           `gorm:"column:is_publish_ready;not null;default:false" json:"is_publish_ready"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (TrainedModel) TableName() string { return "trained_model" }
