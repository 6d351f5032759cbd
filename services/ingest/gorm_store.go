package ingest

import (
	"errors"
	"time"

	"stock-watchlist-backend/models"
	"stock-watchlist-backend/services/alerts"
	"stock-watchlist-backend/services/watchlist"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements the pipeline and alert store contracts on Postgres
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by the given database handle
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// ListSubscriptions loads every watchlist row as a flat subscription list,
// oldest first so aggregation order is stable.
func (s *GormStore) ListSubscriptions() ([]watchlist.Subscription, error) {
	var items []models.WatchlistItem
	if err := s.db.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}

	subs := make([]watchlist.Subscription, len(items))
	for i, item := range items {
		target, _ := item.TargetPrice.Float64()
		subs[i] = watchlist.Subscription{
			UserID:      item.UserID,
			Symbol:      item.Symbol,
			TargetPrice: target,
			Priority:    item.Priority,
		}
	}
	return subs, nil
}

// CreateRun inserts a new run record in the running state
func (s *GormStore) CreateRun(trigger string) (*models.IngestionRun, error) {
	run := &models.IngestionRun{
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// FinalizeRun writes the terminal state and counters of a run
func (s *GormStore) FinalizeRun(runID uint, status string, summary Summary, errMsg string) error {
	now := time.Now().UTC()
	return s.db.Model(&models.IngestionRun{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":           status,
		"finished_at":      &now,
		"processed":        summary.Processed,
		"updated":          summary.Updated,
		"history_upserts":  summary.HistoryUpserts,
		"chart_upserts":    summary.ChartUpserts,
		"alerts_triggered": summary.AlertsTriggered,
		"error":            errMsg,
	}).Error
}

// UpsertMetricSnapshot overwrites the single live snapshot row per instrument
func (s *GormStore) UpsertMetricSnapshot(snap *models.MetricSnapshot) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "current_quote", "sma200", "delta_to_sma", "fetched_at"}),
	}).Create(snap).Error
}

// UpsertHistoryPoint writes or refreshes the observation for one trading day
func (s *GormStore) UpsertHistoryPoint(point *models.HistoryPoint) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "current_quote", "sma200", "delta_to_sma"}),
	}).Create(point).Error
}

// UpsertChartPoints writes daily closes in batches keyed on (uid, date)
func (s *GormStore) UpsertChartPoints(points []models.ChartPoint, batchSize int) error {
	if len(points) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "close"}),
	}).CreateInBatches(points, batchSize).Error
}

// UpdateSubscriberDelta refreshes the stored delta for one watchlist row
func (s *GormStore) UpdateSubscriberDelta(userID, symbol string, delta float64) error {
	return s.db.Model(&models.WatchlistItem{}).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		Update("delta_to_quote", delta).Error
}

// RecentHistory returns up to n most recent history observations, ascending
// by date. Stored history never carries a target-price delta; that metric is
// per-subscriber while history rows are per-instrument.
func (s *GormStore) RecentHistory(uid string, n int) ([]alerts.HistoryObservation, error) {
	var points []models.HistoryPoint
	if err := s.db.Where("uid = ?", uid).Order("date DESC").Limit(n).Find(&points).Error; err != nil {
		return nil, err
	}

	observations := make([]alerts.HistoryObservation, len(points))
	for i, point := range points {
		observations[len(points)-1-i] = alerts.HistoryObservation{
			Date:       point.Date,
			DeltaToSMA: point.DeltaToSMA,
		}
	}
	return observations, nil
}

// RecentCloses returns up to n most recent chart closes, descending by date
func (s *GormStore) RecentCloses(uid string, n int) ([]alerts.ChartObservation, error) {
	var points []models.ChartPoint
	if err := s.db.Where("uid = ?", uid).Order("date DESC").Limit(n).Find(&points).Error; err != nil {
		return nil, err
	}

	closes := make([]alerts.ChartObservation, len(points))
	for i, point := range points {
		closes[i] = alerts.ChartObservation{Date: point.Date, Close: point.Close}
	}
	return closes, nil
}

// LastAlertEvent returns the newest alert for the exact tuple, or nil
func (s *GormStore) LastAlertEvent(uid, userID, ruleKey string) (*models.AlertEvent, error) {
	var event models.AlertEvent
	err := s.db.Where("uid = ? AND user_id = ? AND rule_key = ?", uid, userID, ruleKey).
		Order("created_at DESC").First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// CountHistoryPointsAfter counts trading days recorded strictly after a date
func (s *GormStore) CountHistoryPointsAfter(uid string, date time.Time) (int, error) {
	var count int64
	err := s.db.Model(&models.HistoryPoint{}).
		Where("uid = ? AND date > ?", uid, date).Count(&count).Error
	return int(count), err
}

// InsertAlertEvent persists one triggered alert
func (s *GormStore) InsertAlertEvent(event *models.AlertEvent) error {
	return s.db.Create(event).Error
}
