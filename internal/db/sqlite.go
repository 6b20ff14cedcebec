package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/types"
	"github.com/lumapix/lumapix-backend/internal/utils"
)

// SQLiteService is the local-development database. Selected with
// DB_DRIVER=sqlite; production runs on Postgres.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(log *logger.Logger) (*SQLiteService, error) {
	serviceLog := log.With("service", "SQLiteService")

	path := utils.GetEnv("SQLITE_PATH", "lumapix.db", log)
	serviceLog.Info("Opening SQLite database...", "path", path)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		serviceLog.Error("Failed to open SQLite database", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &SQLiteService{db: db, log: serviceLog}, nil
}

func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	return s.db.AutoMigrate(
		&types.JobRun{},
		&types.TrainedModel{},
	)
}

func (s *SQLiteService) DB() *gorm.DB {
	return s.db
}
