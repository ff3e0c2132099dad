package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/duplicates"
	"github.com/kikokaraba/srei-sub000/internal/geocoding"
	"github.com/kikokaraba/srei-sub000/internal/geometry"
	"github.com/kikokaraba/srei-sub000/internal/models"
	"github.com/kikokaraba/srei-sub000/internal/processor"
	"github.com/kikokaraba/srei-sub000/internal/queue"
	"github.com/kikokaraba/srei-sub000/internal/scheduler"
	"github.com/kikokaraba/srei-sub000/internal/telegram"
	"github.com/kikokaraba/srei-sub000/internal/timeline"
)

// Dependencies are the services the handlers expose. Scheduler, Geocoding
// and Telegram may be nil.
type Dependencies struct {
	DB              *gorm.DB
	Ingestor        *processor.Ingestor
	Queue           *queue.PassQueue
	Timeline        *timeline.Service
	Grouper         *duplicates.Grouper
	DistrictManager *geometry.DistrictManager
	Scheduler       *scheduler.Scheduler
	Geocoding       *geocoding.Backfiller
	Telegram        *telegram.Service
}

type Handler struct {
	db              *gorm.DB
	logger          *logrus.Logger
	ingestor        *processor.Ingestor
	queue           *queue.PassQueue
	timeline        *timeline.Service
	grouper         *duplicates.Grouper
	districtManager *geometry.DistrictManager
	scheduler       *scheduler.Scheduler
	backfiller      *geocoding.Backfiller
	telegramService *telegram.Service
}

// GapQuery is the market gap filter of GET /api/market-gaps
type GapQuery struct {
	City       string  `form:"city"`
	District   string  `form:"district"`
	Street     string  `form:"street"`
	Confidence string  `form:"confidence"`
	Since      string  `form:"since"`
	Limit      int     `form:"limit"`
	Lat        float64 `form:"lat"`
	Lng        float64 `form:"lng"`
	RadiusM    float64 `form:"radius_m"`
}

func NewHandler(deps Dependencies, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		db:              deps.DB,
		logger:          logger,
		ingestor:        deps.Ingestor,
		queue:           deps.Queue,
		timeline:        deps.Timeline,
		grouper:         deps.Grouper,
		districtManager: deps.DistrictManager,
		scheduler:       deps.Scheduler,
		backfiller:      deps.Geocoding,
		telegramService: deps.Telegram,
	}
}

func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.WithError(err).Error("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) IngestListing(c *gin.Context) {
	var raw models.RawListing
	if err := c.ShouldBindJSON(&raw); err != nil {
		h.logger.WithError(err).Error("Failed to parse listing")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, issues, err := h.ingestor.IngestRaw(c.Request.Context(), raw)
	if err != nil {
		var lerr *models.ListingError
		if errors.As(err, &lerr) && errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     lerr.Error(),
				"kind":      models.KindOf(err),
				"field":     lerr.Field,
				"raw_value": lerr.RawValue,
			})
			return
		}
		h.logger.WithError(err).Error("Failed to ingest listing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest listing"})
		return
	}

	warnings := make([]gin.H, 0, len(issues))
	for _, issue := range issues {
		warnings = append(warnings, gin.H{
			"kind":      models.KindOf(issue),
			"field":     issue.Field,
			"raw_value": issue.RawValue,
			"message":   issue.Message,
		})
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"result": result, "warnings": warnings})
}

func (h *Handler) PushPass(c *gin.Context) {
	var input models.PassInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.logger.WithError(err).Error("Failed to parse pass")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if input.StartedAt.IsZero() {
		input.StartedAt = time.Now().UTC()
	}

	if err := h.queue.Push(&input); err != nil {
		h.logger.WithError(err).WithField("source", input.Source).Warn("Pass rejected by queue")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "queued",
		"source":   input.Source,
		"listings": len(input.Listings),
	})
}

func (h *Handler) ListPasses(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	passes, err := database.ListPasses(h.db.WithContext(c.Request.Context()), c.Query("source"), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list passes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list passes"})
		return
	}
	c.JSON(http.StatusOK, passes)
}

func (h *Handler) GetPassErrors(c *gin.Context) {
	records, err := database.IngestErrors(h.db.WithContext(c.Request.Context()), c.Param("id"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list ingest errors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list ingest errors"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) GetProperty(c *gin.Context) {
	id, ok := propertyID(c)
	if !ok {
		return
	}

	db := h.db.WithContext(c.Request.Context())
	property, err := database.FindPropertyByID(db, id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get property")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get property"})
		return
	}
	if property == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}

	links, err := database.ActiveLinks(db, id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get property links")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get property"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"property": property, "links": links})
}

func (h *Handler) GetTimeline(c *gin.Context) {
	id, ok := propertyID(c)
	if !ok {
		return
	}

	tl, err := h.timeline.Get(c.Request.Context(), id)
	if errors.Is(err, timeline.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get timeline")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get timeline"})
		return
	}
	c.JSON(http.StatusOK, tl)
}

func (h *Handler) GetDuplicates(c *gin.Context) {
	groups, err := h.grouper.Groups(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get duplicate groups")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get duplicate groups"})
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *Handler) GetMarketGaps(c *gin.Context) {
	var q GapQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	filter := database.GapFilter{
		City:       q.City,
		District:   q.District,
		Street:     q.Street,
		Confidence: models.Confidence(q.Confidence),
		Limit:      q.Limit,
	}
	if q.Since != "" {
		since, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		filter.Since = since
	}

	radius := q.RadiusM > 0
	if radius {
		if q.Lat == 0 && q.Lng == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required with radius_m"})
			return
		}
		// Trimmed after the radius filter
		filter.Limit = 0
	}

	db := h.db.WithContext(c.Request.Context())
	gaps, err := database.ListMarketGaps(db, filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get market gaps")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get market gaps"})
		return
	}

	if radius {
		ids := make([]uint64, 0, len(gaps))
		for _, gap := range gaps {
			ids = append(ids, gap.PropertyID)
		}
		properties, err := database.FindPropertiesByIDs(db, ids)
		if err != nil {
			h.logger.WithError(err).Error("Failed to load gap properties")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get market gaps"})
			return
		}
		gaps = geometry.NearbyGaps(gaps, properties, orb.Point{q.Lng, q.Lat}, q.RadiusM)
		if q.Limit > 0 && len(gaps) > q.Limit {
			gaps = gaps[:q.Limit]
		}
	}

	c.JSON(http.StatusOK, gaps)
}

func (h *Handler) GetDistrictGeoJSON(c *gin.Context) {
	fc, err := h.districtManager.DistrictHulls(c.Request.Context(), c.Query("city"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to build district hulls")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build district hulls"})
		return
	}
	c.JSON(http.StatusOK, fc)
}

// RunSource starts a scheduled-style pass of one source in the background
func (h *Handler) RunSource(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scraping is not configured"})
		return
	}
	source := c.Param("source")
	go h.scheduler.RunNow(source)

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "success",
		"message": "Spider started for " + source,
	})
}

// BackfillCoordinates geocodes one batch of properties without coordinates
func (h *Handler) BackfillCoordinates(c *gin.Context) {
	if h.backfiller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is not enabled"})
		return
	}
	result, err := h.backfiller.Run(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Geocoding backfill failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update coordinates"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// TestTelegram sends a sample market gap alert
func (h *Handler) TestTelegram(c *gin.Context) {
	if h.telegramService == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Telegram is not configured or is disabled"})
		return
	}

	sample := &models.Property{
		ID: 1, Title: "3-izbový byt, Hlavná", City: "Košice", District: "Staré Mesto", Street: "Hlavná",
		Price: 165000, Area: 72, Rooms: 3,
	}
	gap := &models.MarketGapRecord{
		PropertyID: 1, GapPercentage: 21.4, PricePerArea: 2291.67, ComparableMean: 2916.0,
		ComparableLevel: models.LevelStreet, SampleCount: 14,
		PotentialProfit: decimal.NewFromInt(44952), Confidence: models.ConfidenceMedium,
	}

	if err := h.telegramService.SendMessage(c.Request.Context(), "🔔 Test notification\n\n"+telegram.FormatMarketGap(sample, gap)); err != nil {
		h.logger.WithError(err).Error("Failed to send test notification")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test notification sent successfully"})
}

func propertyID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property id"})
		return 0, false
	}
	return id, true
}
