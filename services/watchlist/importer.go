package watchlist

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"stock-watchlist-backend/models"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportRow is one spreadsheet row of a watchlist export
type ImportRow struct {
	Symbol      string  `csv:"symbol"`
	TargetPrice float64 `csv:"target_price"`
	Priority    string  `csv:"priority"`
}

// ImportResult summarizes a one-shot watchlist import
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

var spreadsheetIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`),
	regexp.MustCompile(`/spreadsheets/u/\d+/d/([a-zA-Z0-9-_]+)`),
	regexp.MustCompile(`key=([a-zA-Z0-9-_]+)`),
}

// Importer loads watchlist rows from Google Sheets CSV exports
type Importer struct {
	db         *gorm.DB
	httpClient *http.Client
}

// NewImporter creates a watchlist importer
func NewImporter(db *gorm.DB) *Importer {
	return &Importer{
		db:         db,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ExtractSpreadsheetID pulls the spreadsheet ID out of the various Google
// Sheets URL formats.
func ExtractSpreadsheetID(sheetURL string) (string, error) {
	for _, pattern := range spreadsheetIDPatterns {
		if match := pattern.FindStringSubmatch(sheetURL); len(match) > 1 {
			return match[1], nil
		}
	}
	return "", fmt.Errorf("could not extract spreadsheet ID from URL")
}

// fetchSheetCSV downloads the sheet as CSV, trying the known export URL shapes
func (im *Importer) fetchSheetCSV(spreadsheetID string) ([]byte, error) {
	urls := []string{
		fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/export?format=csv&gid=0", spreadsheetID),
		fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/gviz/tq?tqx=out:csv&gid=0", spreadsheetID),
		fmt.Sprintf("https://docs.google.com/spreadsheets/u/0/d/%s/export?format=csv&gid=0", spreadsheetID),
	}

	var lastErr error
	for _, url := range urls {
		resp, err := im.httpClient.Get(url)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK && len(body) > 0 && !strings.Contains(string(body), "<!DOCTYPE html>") {
			return body, nil
		}
		lastErr = fmt.Errorf("sheet export returned status %d", resp.StatusCode)
	}

	return nil, fmt.Errorf("failed to download sheet CSV: %w", lastErr)
}

// ParseWatchlistCSV parses CSV bytes into import rows
func ParseWatchlistCSV(data []byte) ([]ImportRow, error) {
	var rows []ImportRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return rows, nil
}

// ImportFromSheet downloads a Google Sheet and upserts its rows into the
// user's watchlist. Invalid rows are skipped and reported, not fatal.
func (im *Importer) ImportFromSheet(userID, sheetURL string) (*ImportResult, error) {
	spreadsheetID, err := ExtractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, err
	}

	data, err := im.fetchSheetCSV(spreadsheetID)
	if err != nil {
		return nil, err
	}

	rows, err := ParseWatchlistCSV(data)
	if err != nil {
		return nil, err
	}

	return im.importRows(userID, rows)
}

func (im *Importer) importRows(userID string, rows []ImportRow) (*ImportResult, error) {
	result := &ImportResult{Errors: []string{}}

	for i, row := range rows {
		symbol := models.NormalizeSymbol(row.Symbol)
		if symbol == "" {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: empty symbol", i+1))
			continue
		}
		if row.TargetPrice <= 0 {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d (%s): target price must be positive", i+1, symbol))
			continue
		}

		priority := strings.ToLower(strings.TrimSpace(row.Priority))
		if priority == "" {
			priority = models.PriorityNone
		}
		if !models.IsValidPriority(priority) {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d (%s): invalid priority %q", i+1, symbol, row.Priority))
			continue
		}

		instrument := models.Instrument{UID: models.InstrumentUID(symbol), Symbol: symbol}
		if err := im.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoNothing: true,
		}).Create(&instrument).Error; err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d (%s): %v", i+1, symbol, err))
			continue
		}

		item := models.WatchlistItem{
			UserID:      userID,
			Symbol:      symbol,
			TargetPrice: decimal.NewFromFloat(row.TargetPrice),
			Priority:    priority,
		}
		if err := im.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"target_price", "priority", "updated_at"}),
		}).Create(&item).Error; err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d (%s): %v", i+1, symbol, err))
			continue
		}

		result.Imported++
	}

	log.Printf("Watchlist import for user %s: imported=%d skipped=%d", userID, result.Imported, result.Skipped)
	return result, nil
}
