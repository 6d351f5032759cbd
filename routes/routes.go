package routes

import (
	"stock-watchlist-backend/controllers"
	"stock-watchlist-backend/middleware"
	"stock-watchlist-backend/services/ingest"
	"stock-watchlist-backend/services/stream"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, pipeline *ingest.Pipeline, hub *stream.Hub) {
	watchlistController := controllers.NewWatchlistController(db)
	alertController := controllers.NewAlertController(db)
	ingestController := controllers.NewIngestController(db, pipeline)

	// API v1 group, everything behind authentication
	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware())
	{
		// Watchlist routes
		watchlist := api.Group("/watchlist")
		{
			watchlist.GET("", watchlistController.GetWatchlist)
			watchlist.POST("", watchlistController.CreateWatchlistItem)
			watchlist.PATCH("/:id", watchlistController.UpdateWatchlistItem)
			watchlist.DELETE("/:id", watchlistController.DeleteWatchlistItem)
			watchlist.POST("/import", watchlistController.ImportWatchlist)
		}

		// Alert routes
		alerts := api.Group("/alerts")
		{
			alerts.GET("", alertController.GetAlerts)
			alerts.PATCH("/:id", alertController.UpdateAlertStatus)
		}

		// Instrument data routes
		instruments := api.Group("/instruments")
		{
			instruments.GET("/:symbol/chart", alertController.GetChart)
			instruments.GET("/:symbol/history", alertController.GetHistory)
		}

		// Ingestion routes
		ingestGroup := api.Group("/ingest")
		{
			ingestGroup.POST("/run", ingestController.RunIngestion)
			ingestGroup.GET("/last", ingestController.GetLastRun)
			ingestGroup.GET("/runs", ingestController.GetRuns)
		}

		// Realtime alert stream
		api.GET("/ws", func(c *gin.Context) {
			userID, err := middleware.GetUserFromContext(c)
			if err != nil {
				c.AbortWithStatus(401)
				return
			}
			hub.HandleWebSocket(c.Writer, c.Request, userID)
		})
	}
}
