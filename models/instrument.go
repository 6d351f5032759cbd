package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Instrument represents a tracked symbol, shared across all subscribers.
// Created on first subscription and kept while any watchlist row references it.
type Instrument struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UID       string    `gorm:"uniqueIndex;not null" json:"uid"`
	Symbol    string    `gorm:"uniqueIndex;not null" json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Watchlist priorities
const (
	PriorityNone   = "none"
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ValidPriorities returns the accepted priority values
func ValidPriorities() []string {
	return []string{PriorityNone, PriorityLow, PriorityMedium, PriorityHigh}
}

// IsValidPriority checks if the priority is valid
func IsValidPriority(priority string) bool {
	for _, valid := range ValidPriorities() {
		if priority == valid {
			return true
		}
	}
	return false
}

// WatchlistItem represents one user's subscription to an instrument with
// their own target price. Unique per (user, symbol). DeltaToQuote is refreshed
// by the ingestion pipeline on each successful run.
type WatchlistItem struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       string          `gorm:"index:idx_user_symbol,unique;not null" json:"user_id"`
	Symbol       string          `gorm:"index:idx_user_symbol,unique;not null" json:"symbol"`
	TargetPrice  decimal.Decimal `gorm:"type:decimal(15,4)" json:"target_price"`
	Priority     string          `gorm:"default:'none'" json:"priority"`
	DeltaToQuote *float64        `json:"delta_to_quote"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MetricSnapshot holds the latest fetched state per instrument. Exactly one
// live row per instrument, overwritten on each successful refresh.
type MetricSnapshot struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UID          string          `gorm:"uniqueIndex;not null" json:"uid"`
	Symbol       string          `gorm:"index" json:"symbol"`
	CurrentQuote decimal.Decimal `gorm:"type:decimal(15,4)" json:"current_quote"`
	SMA200       decimal.Decimal `gorm:"type:decimal(15,4)" json:"sma200"`
	DeltaToSMA   float64         `json:"delta_to_sma"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// HistoryPoint records one trading day's observation per instrument. The
// presence of a row for a date is what makes that date count as a trading day
// for cooldown arithmetic. Unique key (uid, date); upsert, never deleted.
type HistoryPoint struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UID          string          `gorm:"index:idx_history_uid_date,unique;not null" json:"uid"`
	Date         time.Time       `gorm:"index:idx_history_uid_date,unique;type:date" json:"date"`
	Symbol       string          `json:"symbol"`
	CurrentQuote decimal.Decimal `gorm:"type:decimal(15,4)" json:"current_quote"`
	SMA200       decimal.Decimal `gorm:"type:decimal(15,4)" json:"sma200"`
	DeltaToSMA   *float64        `json:"delta_to_sma"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ChartPoint is one daily close in the multi-year chart window.
// Unique key (uid, date); upserted in batches during ingestion.
type ChartPoint struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UID       string          `gorm:"index:idx_chart_uid_date,unique;not null" json:"uid"`
	Date      time.Time       `gorm:"index:idx_chart_uid_date,unique;type:date" json:"date"`
	Symbol    string          `json:"symbol"`
	Close     decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	CreatedAt time.Time       `json:"created_at"`
}

// InstrumentUID derives the stable instrument identifier from a symbol.
// The mapping is deterministic so every component can compute it locally.
func InstrumentUID(symbol string) string {
	return "wca_" + strings.ToLower(strings.TrimSpace(symbol))
}

// NormalizeSymbol case-normalizes a raw symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// MigrateMarketModels runs database migrations for instrument-related models
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Instrument{},
		&WatchlistItem{},
		&MetricSnapshot{},
		&HistoryPoint{},
		&ChartPoint{},
	)
}
