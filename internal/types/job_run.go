package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job record statuses, kept aligned with the resolved canonical status:
// starting|training map to running, publishing|completed to succeeded.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// JobRun is the internal ledger row for one training run, keyed by the
// provider-assigned run id.
type JobRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID        string         `gorm:"column:run_id;not null;uniqueIndex" json:"run_id"`
	ModelName    string         `gorm:"column:model_name;not null;index" json:"model_name"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata     datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }
