package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/lumapix/lumapix-backend/internal/handlers"
)

type RouterConfig struct {
	TrainingHandler *handlers.TrainingHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/trainings", cfg.TrainingHandler.Start)
		api.GET("/trainings/:id", cfg.TrainingHandler.GetStatus)
		api.POST("/trainings/:id/publish", cfg.TrainingHandler.TriggerPublish)
		api.POST("/trainings/:id/cancel", cfg.TrainingHandler.Cancel)
		api.GET("/trainings/:id/diagnostics", cfg.TrainingHandler.Diagnostics)
	}

	return router
}
