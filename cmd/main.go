package main

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/lumapix/lumapix-backend/internal/clients/huggingface"
	redisbus "github.com/lumapix/lumapix-backend/internal/clients/redis"
	"github.com/lumapix/lumapix-backend/internal/clients/replicate"
	"github.com/lumapix/lumapix-backend/internal/db"
	"github.com/lumapix/lumapix-backend/internal/handlers"
	"github.com/lumapix/lumapix-backend/internal/observability"
	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
	"github.com/lumapix/lumapix-backend/internal/platform/gcs"
	"github.com/lumapix/lumapix-backend/internal/repos"
	"github.com/lumapix/lumapix-backend/internal/server"
	"github.com/lumapix/lumapix-backend/internal/services"
	"github.com/lumapix/lumapix-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOtel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "lumapix-backend",
		Environment: utils.GetEnv("DEPLOY_ENV", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	if shutdownOtel != nil {
		defer func() { _ = shutdownOtel(context.Background()) }()
	}

	// Database
	var thePG *gorm.DB
	if utils.GetEnv("DB_DRIVER", "postgres", log) == "sqlite" {
		sqliteService, err := db.NewSQLiteService(log)
		if err != nil {
			log.Fatal("SQLite init failed", "error", err)
		}
		if err = sqliteService.AutoMigrateAll(); err != nil {
			log.Fatal("SQLite auto migration failed", "error", err)
		}
		thePG = sqliteService.DB()
	} else {
		postgresService, err := db.NewPostgresService(log)
		if err != nil {
			log.Fatal("Postgres init failed", "error", err)
		}
		if err = postgresService.AutoMigrateAll(); err != nil {
			log.Fatal("Postgres auto migration failed", "error", err)
		}
		thePG = postgresService.DB()
	}

	// Repos
	log.Info("Setting up repos...")
	jobRunRepo := repos.NewJobRunRepo(thePG, log)
	trainedModelRepo := repos.NewTrainedModelRepo(thePG, log)

	// Clients
	log.Info("Setting up clients...")
	bucketService, err := gcs.NewBucketService(log)
	if err != nil {
		log.Fatal("Bucket service init failed", "error", err)
	}
	trainerClient, err := replicate.NewClient(log)
	if err != nil {
		log.Fatal("Training provider client init failed", "error", err)
	}
	publisherClient, err := huggingface.NewClient(log)
	if err != nil {
		log.Fatal("Model publisher client init failed", "error", err)
	}

	var statusBus redisbus.StatusBus
	if os.Getenv("REDIS_ADDR") != "" {
		statusBus, err = redisbus.NewStatusBus(log)
		if err != nil {
			log.Warn("Status bus init failed, progress events disabled", "error", err)
			statusBus = nil
		}
	}

	// Services
	log.Info("Setting up services...")
	packagerService := services.NewPackagerService(log, bucketService)
	publishGuard := services.NewMemoryPublishGuard()
	pipelineService := services.NewTrainingPipelineService(
		thePG,
		log,
		packagerService,
		trainerClient,
		publisherClient,
		jobRunRepo,
		trainedModelRepo,
		publishGuard,
		statusBus,
	)

	// Router
	trainingHandler := handlers.NewTrainingHandler(pipelineService)
	router := server.NewRouter(server.RouterConfig{
		TrainingHandler: trainingHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
