package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with CORS for allowedOrigins
func NewRouter(handler *Handler, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.Health)

	api := router.Group("/api")
	{
		api.POST("/listings", handler.IngestListing)
		api.POST("/passes", handler.PushPass)
		api.GET("/passes", handler.ListPasses)
		api.GET("/passes/:id/errors", handler.GetPassErrors)
		api.GET("/properties/:id", handler.GetProperty)
		api.GET("/properties/:id/timeline", handler.GetTimeline)
		api.GET("/duplicates", handler.GetDuplicates)
		api.GET("/market-gaps", handler.GetMarketGaps)
		api.GET("/districts/geojson", handler.GetDistrictGeoJSON)
		api.POST("/sources/:source/run", handler.RunSource)
		api.POST("/geocode/backfill", handler.BackfillCoordinates)
		api.POST("/telegram/test", handler.TestTelegram)
	}
}
