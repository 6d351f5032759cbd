package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"stock-watchlist-backend/models"
	"stock-watchlist-backend/services/ingest"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// IngestController exposes pipeline runs and their history
type IngestController struct {
	db       *gorm.DB
	pipeline *ingest.Pipeline
}

// NewIngestController creates a new ingest controller
func NewIngestController(db *gorm.DB, pipeline *ingest.Pipeline) *IngestController {
	return &IngestController{db: db, pipeline: pipeline}
}

// RunIngestion triggers a full ingestion pass and waits for it to finish.
// Cron callers pass ?cron=1 so the run is recorded as scheduled.
// POST /api/v1/ingest/run
func (ic *IngestController) RunIngestion(c *gin.Context) {
	trigger := models.RunTriggerManual
	if c.Query("cron") == "1" {
		trigger = models.RunTriggerScheduled
	}

	result, err := ic.pipeline.Run(trigger)
	if err != nil {
		if errors.Is(err, ingest.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Printf("Ingestion run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingestion run failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GetLastRun returns the most recent ingestion run record
// GET /api/v1/ingest/last
func (ic *IngestController) GetLastRun(c *gin.Context) {
	var run models.IngestionRun
	err := ic.db.Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No ingestion runs yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}

// GetRuns returns recent ingestion runs, newest first
// GET /api/v1/ingest/runs
func (ic *IngestController) GetRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 200 {
		limit = 20
	}

	var runs []models.IngestionRun
	if err := ic.db.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}
