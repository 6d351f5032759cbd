package controllers

import (
	"net/http"
	"strconv"

	"stock-watchlist-backend/middleware"
	"stock-watchlist-backend/models"
	"stock-watchlist-backend/services/watchlist"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WatchlistController handles watchlist CRUD and spreadsheet imports
type WatchlistController struct {
	db       *gorm.DB
	importer *watchlist.Importer
}

// NewWatchlistController creates a new watchlist controller
func NewWatchlistController(db *gorm.DB) *WatchlistController {
	return &WatchlistController{
		db:       db,
		importer: watchlist.NewImporter(db),
	}
}

type watchlistItemView struct {
	models.WatchlistItem
	Snapshot *models.MetricSnapshot `json:"snapshot,omitempty"`
}

// GetWatchlist returns the caller's watchlist with the latest metric snapshot
// per instrument.
// GET /api/v1/watchlist
func (wc *WatchlistController) GetWatchlist(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var items []models.WatchlistItem
	if err := wc.db.Where("user_id = ?", userID).Order("id ASC").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watchlist"})
		return
	}

	uids := make([]string, len(items))
	for i, item := range items {
		uids[i] = models.InstrumentUID(item.Symbol)
	}

	snapshots := map[string]*models.MetricSnapshot{}
	if len(uids) > 0 {
		var rows []models.MetricSnapshot
		if err := wc.db.Where("uid IN ?", uids).Find(&rows).Error; err == nil {
			for i := range rows {
				snapshots[rows[i].UID] = &rows[i]
			}
		}
	}

	views := make([]watchlistItemView, len(items))
	for i, item := range items {
		views[i] = watchlistItemView{
			WatchlistItem: item,
			Snapshot:      snapshots[models.InstrumentUID(item.Symbol)],
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

type createWatchlistRequest struct {
	Symbol      string  `json:"symbol" binding:"required"`
	TargetPrice float64 `json:"target_price" binding:"required"`
	Priority    string  `json:"priority"`
}

// CreateWatchlistItem adds a symbol to the caller's watchlist
// POST /api/v1/watchlist
func (wc *WatchlistController) CreateWatchlistItem(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createWatchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and target_price are required"})
		return
	}

	symbol := models.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol must not be empty"})
		return
	}
	if req.TargetPrice <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_price must be positive"})
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNone
	}
	if !models.IsValidPriority(req.Priority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
		return
	}

	instrument := models.Instrument{UID: models.InstrumentUID(symbol), Symbol: symbol}
	if err := wc.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoNothing: true,
	}).Create(&instrument).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register instrument"})
		return
	}

	item := models.WatchlistItem{
		UserID:      userID,
		Symbol:      symbol,
		TargetPrice: decimal.NewFromFloat(req.TargetPrice),
		Priority:    req.Priority,
	}
	if err := wc.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_price", "priority", "updated_at"}),
	}).Create(&item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save watchlist item"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

type updateWatchlistRequest struct {
	TargetPrice *float64 `json:"target_price"`
	Priority    *string  `json:"priority"`
}

// UpdateWatchlistItem changes the target price or priority of one item
// PATCH /api/v1/watchlist/:id
func (wc *WatchlistController) UpdateWatchlistItem(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req updateWatchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.TargetPrice == nil && req.Priority == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	updates := map[string]interface{}{}
	if req.TargetPrice != nil {
		if *req.TargetPrice <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target_price must be positive"})
			return
		}
		updates["target_price"] = decimal.NewFromFloat(*req.TargetPrice)
	}
	if req.Priority != nil {
		if !models.IsValidPriority(*req.Priority) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
			return
		}
		updates["priority"] = *req.Priority
	}

	result := wc.db.Model(&models.WatchlistItem{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update watchlist item"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Watchlist item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// DeleteWatchlistItem removes one item from the caller's watchlist
// DELETE /api/v1/watchlist/:id
func (wc *WatchlistController) DeleteWatchlistItem(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	result := wc.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.WatchlistItem{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete watchlist item"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Watchlist item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type importRequest struct {
	SheetURL string `json:"sheet_url" binding:"required"`
}

// ImportWatchlist imports watchlist rows from a published Google Sheet
// POST /api/v1/watchlist/import
func (wc *WatchlistController) ImportWatchlist(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sheet_url is required"})
		return
	}

	result, err := wc.importer.ImportFromSheet(userID, req.SheetURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
