package controllers

import (
	"net/http"
	"strconv"
	"time"

	"stock-watchlist-backend/middleware"
	"stock-watchlist-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AlertController serves the alert log and instrument chart data
type AlertController struct {
	db *gorm.DB
}

// NewAlertController creates a new alert controller
func NewAlertController(db *gorm.DB) *AlertController {
	return &AlertController{db: db}
}

// GetAlerts returns the caller's alerts, newest first, optionally filtered by
// status or symbol.
// GET /api/v1/alerts
func (ac *AlertController) GetAlerts(c *gin.Context) {
	userID, err := middleware.GetUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := ac.db.Model(&models.AlertEvent{}).Where("user_id = ?", userID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if symbol := c.Query("symbol"); symbol != "" {
		query = query.Where("symbol = ?", models.NormalizeSymbol(symbol))
	}

	var total int64
	query.Count(&total)

	var alerts []models.AlertEvent
	if err := query.Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&alerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": alerts,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

type updateAlertRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateAlertStatus acknowledges or clears one of the caller's alerts
// PATCH /api/v1/alerts/:id
func (ac *AlertController) UpdateAlertStatus(c *gin.Context) {
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

	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	if req.Status != models.AlertStatusAcknowledged && req.Status != models.AlertStatusCleared {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be acknowledged or cleared"})
		return
	}

	result := ac.db.Model(&models.AlertEvent{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("status", req.Status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update alert"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// GetChart returns daily closes for one instrument over a trailing window
// GET /api/v1/instruments/:symbol/chart
func (ac *AlertController) GetChart(c *gin.Context) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "365"))
	if days < 1 || days > 3650 {
		days = 365
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var points []models.ChartPoint
	err := ac.db.Where("uid = ? AND date >= ?", models.InstrumentUID(symbol), cutoff).
		Order("date ASC").Find(&points).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch chart data"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": points, "symbol": symbol})
}

// GetHistory returns recent metric history for one instrument
// GET /api/v1/instruments/:symbol/history
func (ac *AlertController) GetHistory(c *gin.Context) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "90"))
	if limit < 1 || limit > 1000 {
		limit = 90
	}

	var points []models.HistoryPoint
	err := ac.db.Where("uid = ?", models.InstrumentUID(symbol)).
		Order("date DESC").Limit(limit).Find(&points).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": points, "symbol": symbol})
}
