package scheduler

import (
	"log"
	"time"

	"stock-watchlist-backend/config"
	"stock-watchlist-backend/models"
	"stock-watchlist-backend/services/ingest"

	"github.com/go-co-op/gocron"
)

// Scheduler manages the daily scheduled ingestion run
type Scheduler struct {
	cron     *gocron.Scheduler
	pipeline *ingest.Pipeline
}

// NewScheduler creates a new scheduler instance
func NewScheduler(pipeline *ingest.Pipeline) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		pipeline: pipeline,
	}
}

// Start registers and starts the scheduled jobs
func (s *Scheduler) Start() {
	at := config.AppConfig.IngestScheduleAt

	// Daily ingestion after US market close
	if _, err := s.cron.Every(1).Day().At(at).Do(s.runIngestion); err != nil {
		log.Printf("Failed to schedule daily ingestion: %v", err)
		return
	}

	// Weekly cleanup of old run records, Sunday night
	if _, err := s.cron.Every(1).Week().Sunday().At("01:00").Do(s.cleanupOldRuns); err != nil {
		log.Printf("Failed to schedule run cleanup: %v", err)
	}

	s.cron.StartAsync()
	log.Printf("Scheduler started: daily ingestion at %s UTC", at)
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runIngestion executes one scheduled pipeline pass
func (s *Scheduler) runIngestion() {
	result, err := s.pipeline.Run(models.RunTriggerScheduled)
	if err != nil {
		log.Printf("Scheduled ingestion failed: %v", err)
		return
	}
	log.Printf("Scheduled ingestion run %d finished with status %s", result.RunID, result.Status)
}

// cleanupOldRuns deletes run records older than 90 days
func (s *Scheduler) cleanupOldRuns() {
	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	result := config.DB.Where("started_at < ?", cutoff).Delete(&models.IngestionRun{})
	if result.Error != nil {
		log.Printf("Error cleaning up old ingestion runs: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("Cleaned up %d old ingestion runs", result.RowsAffected)
	}
}
