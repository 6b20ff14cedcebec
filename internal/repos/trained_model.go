package repos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/types"
)

type TrainedModelRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, model *types.TrainedModel) (*types.TrainedModel, error)
	GetByRunID(ctx context.Context, tx *gorm.DB, runID string) (*types.TrainedModel, error)
	UpdateFieldsByRunID(ctx context.Context, tx *gorm.DB, runID string, updates map[string]interface{}) error
}

type trainedModelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTrainedModelRepo(db *gorm.DB, baseLog *logger.Logger) TrainedModelRepo {
	return &trainedModelRepo{
		db:  db,
		log: baseLog.With("repo", "TrainedModelRepo"),
	}
}

func (r *trainedModelRepo) Upsert(ctx context.Context, tx *gorm.DB, model *types.TrainedModel) (*types.TrainedModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if model == nil {
		return nil, nil
	}
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"model_name", "trigger_word", "status", "published_repo_id",
				"is_publish_ready", "completed_at", "metadata", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return nil, err
	}
	return model, nil
}

func (r *trainedModelRepo) GetByRunID(ctx context.Context, tx *gorm.DB, runID string) (*types.TrainedModel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if strings.TrimSpace(runID) == "" {
		return nil, nil
	}
	var model types.TrainedModel
	err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &model, nil
}

func (r *trainedModelRepo) UpdateFieldsByRunID(ctx context.Context, tx *gorm.DB, runID string, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if strings.TrimSpace(runID) == "" || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&types.TrainedModel{}).
		Where("run_id = ?", runID).
		Updates(updates).Error
}
