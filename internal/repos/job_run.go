package repos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/types"
)

type JobRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.JobRun) (*types.JobRun, error)
	GetByRunID(ctx context.Context, tx *gorm.DB, runID string) (*types.JobRun, error)
	UpdateFieldsByRunID(ctx context.Context, tx *gorm.DB, runID string, updates map[string]interface{}) error
	MarkCompleted(ctx context.Context, tx *gorm.DB, runID string, status string, errorMessage string) error
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.JobRun) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run == nil {
		return nil, nil
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *jobRunRepo) GetByRunID(ctx context.Context, tx *gorm.DB, runID string) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if strings.TrimSpace(runID) == "" {
		return nil, nil
	}
	var run types.JobRun
	err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *jobRunRepo) UpdateFieldsByRunID(ctx context.Context, tx *gorm.DB, runID string, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if strings.TrimSpace(runID) == "" || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("run_id = ?", runID).
		Updates(updates).Error
}

func (r *jobRunRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, runID string, status string, errorMessage string) error {
	now := time.Now().UTC()
	return r.UpdateFieldsByRunID(ctx, tx, runID, map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"completed_at":  &now,
	})
}
