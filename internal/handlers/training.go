package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumapix/lumapix-backend/internal/services"
	"github.com/lumapix/lumapix-backend/internal/types"
)

const (
	minTrainingImages = 3
	maxTrainingImages = 20
)

type TrainingHandler struct {
	pipeline services.TrainingPipelineService
}

func NewTrainingHandler(pipeline services.TrainingPipelineService) *TrainingHandler {
	return &TrainingHandler{pipeline: pipeline}
}

func (th *TrainingHandler) Start(c *gin.Context) {
	var req struct {
		ModelName   string               `json:"model_name"`
		TriggerWord string               `json:"trigger_word"`
		Images      []types.ImageRef     `json:"images"`
		Preset      string               `json:"preset"`
		Params      types.TrainingParams `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.ModelName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_name is required"})
		return
	}
	if len(req.Images) < minTrainingImages || len(req.Images) > maxTrainingImages {
		c.JSON(http.StatusBadRequest, gin.H{"error": "between 3 and 20 images are required"})
		return
	}
	status := th.pipeline.Start(c.Request.Context(), services.StartSpec{
		ModelName:   req.ModelName,
		TriggerWord: req.TriggerWord,
		Images:      req.Images,
		Preset:      req.Preset,
		Params:      req.Params,
	})
	c.JSON(http.StatusOK, status)
}

func (th *TrainingHandler) GetStatus(c *gin.Context) {
	id := c.Param("id")
	modelName := c.Query("model_name")
	allowPublish := c.Query("allow_publish") == "true"
	status := th.pipeline.GetStatus(c.Request.Context(), id, modelName, allowPublish)
	c.JSON(http.StatusOK, status)
}

func (th *TrainingHandler) TriggerPublish(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		ModelName string `json:"model_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status := th.pipeline.TriggerPublish(c.Request.Context(), id, req.ModelName)
	c.JSON(http.StatusOK, status)
}

func (th *TrainingHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	ok := th.pipeline.Cancel(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"canceled": ok})
}

func (th *TrainingHandler) Diagnostics(c *gin.Context) {
	id := c.Param("id")
	summary := th.pipeline.Diagnostics(id)
	if summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no diagnostics for this run"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
