package models

import (
	"time"

	"gorm.io/gorm"
)

// Alert event statuses. Only "triggered" is written by the ingestion core;
// the other transitions are performed from the API layer.
const (
	AlertStatusTriggered    = "triggered"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusCleared      = "cleared"
)

// AlertEvent is a persisted alert raised by the rule engine for one
// (instrument, subscriber, rule) tuple.
type AlertEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UID            string    `gorm:"index:idx_alert_lookup" json:"uid"`
	Symbol         string    `gorm:"index" json:"symbol"`
	UserID         string    `gorm:"index:idx_alert_lookup" json:"user_id"`
	RuleKey        string    `gorm:"index:idx_alert_lookup" json:"rule_key"`
	Status         string    `gorm:"default:'triggered'" json:"status"`
	Message        string    `json:"message"`
	ActualValue    *float64  `json:"actual_value"`
	ThresholdValue *float64  `json:"threshold_value"`
	Details        string    `gorm:"type:jsonb" json:"details"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Ingestion run triggers and statuses
const (
	RunTriggerManual    = "manual"
	RunTriggerScheduled = "scheduled"

	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// IngestionRun is the execution record of one pipeline run. Created as
// "running" at the start and finalized exactly once to a terminal status.
type IngestionRun struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Trigger         string     `json:"trigger"`
	Status          string     `gorm:"index" json:"status"`
	StartedAt       time.Time  `gorm:"index" json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	Processed       int        `json:"processed"`
	Updated         int        `json:"updated"`
	HistoryUpserts  int        `json:"history_upserts"`
	ChartUpserts    int        `json:"chart_upserts"`
	AlertsTriggered int        `json:"alerts_triggered"`
	Error           string     `json:"error"`
}

// MigrateAlertModels runs database migrations for alert-related models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&AlertEvent{},
		&IngestionRun{},
	)
}
