package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/aggregator"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/fingerprint"
	"github.com/kikokaraba/srei-sub000/internal/marketgap"
	"github.com/kikokaraba/srei-sub000/internal/models"
	"github.com/kikokaraba/srei-sub000/internal/normalizer"
	"github.com/kikokaraba/srei-sub000/internal/resolver"
)

// GapNotifier is told about every market gap once its transaction committed
type GapNotifier interface {
	NotifyMarketGap(ctx context.Context, property *models.Property, gap *models.MarketGapRecord) error
}

// Ingestor creates or updates the canonical property of one listing per
// transaction
type Ingestor struct {
	db         *gorm.DB
	normalizer *normalizer.Normalizer
	resolver   *resolver.Resolver
	aggregator *aggregator.Aggregator
	detector   *marketgap.Detector
	notifier   GapNotifier
	logger     *logrus.Logger
	maxRetries int
	now        func() time.Time
}

func NewIngestor(db *gorm.DB, cfg *config.Config, locations *config.LocationTable, logger *logrus.Logger) *Ingestor {
	if logger == nil {
		logger = logrus.New()
	}
	maxRetries := cfg.BatchProcessing.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Ingestor{
		db:         db,
		normalizer: normalizer.NewNormalizer(normalizer.OptionsFromConfig(cfg), locations, logger),
		resolver:   resolver.NewResolver(resolver.OptionsFromConfig(cfg), logger),
		aggregator: aggregator.NewAggregator(logger),
		detector:   marketgap.NewDetector(marketgap.OptionsFromConfig(cfg), logger),
		logger:     logger,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier registers the receiver of market gap alerts
func (i *Ingestor) SetNotifier(n GapNotifier) {
	i.notifier = n
}

// IngestRaw normalizes and ingests one raw listing. Field issues are
// returned even on success; a rejected listing returns a *models.ListingError.
func (i *Ingestor) IngestRaw(ctx context.Context, raw models.RawListing) (*models.IngestResult, []*models.FieldError, error) {
	listing, issues := i.normalizer.Normalize(raw)
	if listing == nil {
		lerr := &models.ListingError{Source: raw.Source, ExternalID: raw.ExternalID, URL: raw.URL, Err: models.ErrValidation}
		for _, issue := range issues {
			if errors.Is(issue, models.ErrValidation) {
				lerr.Field, lerr.RawValue, lerr.Err = issue.Field, issue.RawValue, issue
				break
			}
		}
		return nil, issues, lerr
	}

	result, err := i.Ingest(ctx, listing)
	return result, issues, err
}

// Ingest resolves the listing and writes the outcome atomically. A create
// that loses a race on a unique key is retried and then resolves as a match.
func (i *Ingestor) Ingest(ctx context.Context, listing *models.StructuredListing) (*models.IngestResult, error) {
	fp := fingerprint.Build(listing)

	var (
		result   *models.IngestResult
		property *models.Property
		err      error
	)
	for attempt := 1; attempt <= i.maxRetries; attempt++ {
		err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, property, txErr = i.ingestTx(tx, listing, fp)
			return txErr
		})
		if err == nil {
			break
		}
		if !errors.Is(err, database.ErrDuplicate) || ctx.Err() != nil {
			return nil, &models.ListingError{Source: listing.Source, ExternalID: listing.ExternalID, URL: listing.URL, Err: err}
		}
		i.logger.WithFields(logrus.Fields{
			"source":      listing.Source,
			"external_id": listing.ExternalID,
			"attempt":     attempt,
		}).Info("Lost a create race, retrying as match")
	}
	if err != nil {
		return nil, &models.ListingError{
			Source: listing.Source, ExternalID: listing.ExternalID, URL: listing.URL,
			Err: fmt.Errorf("failed to ingest after %d attempts: %w", i.maxRetries, err),
		}
	}

	if result.Gap != nil {
		i.notify(ctx, property, result.Gap)
	}
	return result, nil
}

func (i *Ingestor) ingestTx(tx *gorm.DB, listing *models.StructuredListing, fp fingerprint.Fingerprint) (*models.IngestResult, *models.Property, error) {
	now := i.now()

	match, err := i.resolver.Resolve(tx, listing, fp)
	if err != nil {
		return nil, nil, err
	}

	result := &models.IngestResult{MatchMethod: match.Method, Confidence: match.Confidence}
	var property *models.Property
	if match.Found() {
		property = match.Property
		if err := i.update(tx, property, listing, now, result); err != nil {
			return nil, nil, err
		}
	} else {
		property = newProperty(listing, fp, now)
		if err := i.create(tx, property, listing, now); err != nil {
			return nil, nil, err
		}
		result.IsNew = true
	}
	result.PropertyID = property.ID

	// Only price observations feed the statistics. The gap is measured
	// before the property's own sample joins its comparables.
	if (result.IsNew || result.Relisted || result.PriceChanged) && property.HasPrice() {
		gap, err := i.detector.Detect(tx, property, now)
		if err != nil {
			return nil, nil, err
		}
		result.Gap = gap
		if property.IsPriceAnomaly != (gap != nil) {
			property.IsPriceAnomaly = gap != nil
			if err := database.SetPriceAnomaly(tx, property.ID, property.IsPriceAnomaly); err != nil {
				return nil, nil, err
			}
		}
		if err := i.aggregator.Observe(tx, property, now); err != nil {
			return nil, nil, err
		}
	}

	i.logger.WithFields(logrus.Fields{
		"source":        listing.Source,
		"external_id":   listing.ExternalID,
		"property_id":   property.ID,
		"match":         match.Method,
		"is_new":        result.IsNew,
		"price_changed": result.PriceChanged,
		"relisted":      result.Relisted,
	}).Debug("Listing ingested")
	return result, property, nil
}

func (i *Ingestor) create(tx *gorm.DB, property *models.Property, listing *models.StructuredListing, now time.Time) error {
	if err := database.CreateProperty(tx, property); err != nil {
		return err
	}
	if _, err := upsertLink(tx, property.ID, listing, now); err != nil {
		return err
	}
	if err := database.AppendPriceHistory(tx, &models.PriceHistoryEntry{
		PropertyID:   property.ID,
		Price:        property.Price,
		PricePerArea: property.PricePerArea,
		Source:       listing.Source,
		RecordedAt:   now,
	}); err != nil {
		return err
	}
	return database.AppendEvent(tx, &models.PropertyEvent{
		PropertyID: property.ID,
		Type:       models.EventListed,
		Source:     listing.Source,
		Price:      property.Price,
		OccurredAt: now,
	})
}

func (i *Ingestor) update(tx *gorm.DB, property *models.Property, listing *models.StructuredListing, now time.Time, result *models.IngestResult) error {
	if _, err := upsertLink(tx, property.ID, listing, now); err != nil {
		return err
	}

	mergeAttributes(property, listing)
	property.LastSeenAt = now
	if property.AreaEstimated && !listing.AreaEstimated && listing.Area > 0 {
		property.Area = listing.Area
		property.AreaEstimated = false
	}

	if property.Status == models.StatusRemoved {
		daysOff := 0
		if property.RemovedAt != nil {
			daysOff = wholeDays(now.Sub(*property.RemovedAt))
		}
		property.Status = models.StatusActive
		property.FirstListedAt = now
		property.DaysOnMarket = 0
		property.RemovedAt = nil
		property.RelistCount++
		result.Relisted = true

		if err := database.AppendEvent(tx, &models.PropertyEvent{
			PropertyID:    property.ID,
			Type:          models.EventRelisted,
			Source:        listing.Source,
			Price:         listing.Price,
			DaysOffMarket: daysOff,
			OccurredAt:    now,
		}); err != nil {
			return err
		}
	} else {
		property.DaysOnMarket = wholeDays(now.Sub(property.FirstListedAt))
	}

	price, err := database.LowestActivePrice(tx, property.ID)
	if err != nil {
		return err
	}
	property.PricePerArea = propertyPricePerArea(property.Price, property)
	if price != property.Price {
		property.Price = price
		property.PricePerArea = propertyPricePerArea(price, property)
		result.PriceChanged = true

		recordedAt := now
		latest, err := database.LatestPriceEntry(tx, property.ID)
		if err != nil {
			return err
		}
		if latest != nil && latest.RecordedAt.After(recordedAt) {
			recordedAt = latest.RecordedAt
		}
		if err := database.AppendPriceHistory(tx, &models.PriceHistoryEntry{
			PropertyID:   property.ID,
			Price:        price,
			PricePerArea: property.PricePerArea,
			Source:       listing.Source,
			RecordedAt:   recordedAt,
		}); err != nil {
			return err
		}
	}

	return database.SaveProperty(tx, property)
}

// upsertLink registers or refreshes the link of the listing and attaches it
// to propertyID
func upsertLink(tx *gorm.DB, propertyID uint64, listing *models.StructuredListing, now time.Time) (*models.SourceListingLink, error) {
	link, err := database.FindLink(tx, listing.Source, listing.ExternalID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		link = &models.SourceListingLink{
			PropertyID:    propertyID,
			Source:        listing.Source,
			ExternalID:    listing.ExternalID,
			URL:           listing.URL,
			Price:         listing.Price,
			SellerContact: listing.SellerContact,
			Active:        true,
			FirstSeenAt:   now,
			LastSeenAt:    now,
		}
		return link, database.CreateLink(tx, link)
	}

	link.PropertyID = propertyID
	link.URL = listing.URL
	link.Price = listing.Price
	link.SellerContact = listing.SellerContact
	link.Active = true
	link.MissedPasses = 0
	link.LastSeenAt = now
	return link, database.SaveLink(tx, link)
}

func newProperty(listing *models.StructuredListing, fp fingerprint.Fingerprint, now time.Time) *models.Property {
	p := &models.Property{
		Slug:              slug(listing, fp),
		Fingerprint:       fp.Hash,
		Price:             listing.Price,
		City:              listing.City,
		District:          listing.District,
		Street:            listing.Street,
		PostalCode:        listing.PostalCode,
		Area:              listing.Area,
		AreaEstimated:     listing.AreaEstimated,
		Rooms:             listing.Rooms,
		Floor:             listing.Floor,
		Condition:         listing.Condition,
		EnergyCertificate: listing.Energy,
		Heating:           listing.Heating,
		Amenities:         amenitiesJSON(listing.Amenities),
		Title:             listing.Title,
		Latitude:          listing.Latitude,
		Longitude:         listing.Longitude,
		Status:            models.StatusActive,
		FirstListedAt:     now,
		LastSeenAt:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	p.PricePerArea = propertyPricePerArea(p.Price, p)
	return p
}

// mergeAttributes copies what the listing knows onto the property without
// overwriting known values with unknown ones
func mergeAttributes(p *models.Property, l *models.StructuredListing) {
	if l.Title != "" {
		p.Title = l.Title
	}
	if p.District == "" {
		p.District = l.District
	}
	if p.Street == "" {
		p.Street = l.Street
	}
	if p.PostalCode == "" {
		p.PostalCode = l.PostalCode
	}
	if p.Floor == nil {
		p.Floor = l.Floor
	}
	if l.Condition != "" && l.Condition != models.ConditionUnknown {
		p.Condition = l.Condition
	}
	if l.Energy != "" && l.Energy != models.EnergyUnknown {
		p.EnergyCertificate = l.Energy
	}
	if l.Heating != "" && l.Heating != models.HeatingUnknown {
		p.Heating = l.Heating
	}
	if l.Latitude != nil && l.Longitude != nil {
		p.Latitude, p.Longitude = l.Latitude, l.Longitude
	}
	p.Amenities = amenitiesJSON(mergeAmenities(decodeAmenities(p.Amenities), l.Amenities))
}

func mergeAmenities(a, b models.Amenities) models.Amenities {
	return models.Amenities{
		Balcony:  a.Balcony || b.Balcony,
		Terrace:  a.Terrace || b.Terrace,
		Elevator: a.Elevator || b.Elevator,
		Parking:  a.Parking || b.Parking,
		Garage:   a.Garage || b.Garage,
		Cellar:   a.Cellar || b.Cellar,
		Garden:   a.Garden || b.Garden,
	}
}

func amenitiesJSON(a models.Amenities) datatypes.JSON {
	data, _ := json.Marshal(a)
	return datatypes.JSON(data)
}

func decodeAmenities(data datatypes.JSON) models.Amenities {
	var a models.Amenities
	if len(data) > 0 {
		_ = json.Unmarshal(data, &a)
	}
	return a
}

func slug(l *models.StructuredListing, fp fingerprint.Fingerprint) string {
	base := config.NormalizeName(fmt.Sprintf("%s %s %d izb %.0f m2", l.City, l.District, l.Rooms, l.Area))
	return base + "-" + fp.Hash[:8]
}

// propertyPricePerArea is zero while the area of the property is a default
func propertyPricePerArea(price int64, p *models.Property) float64 {
	if price <= 0 || p.Area <= 0 || p.AreaEstimated {
		return 0
	}
	return float64(price) / p.Area
}

func wholeDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

func (i *Ingestor) notify(ctx context.Context, property *models.Property, gap *models.MarketGapRecord) {
	if i.notifier == nil {
		return
	}
	entry := i.logger.WithFields(logrus.Fields{"property_id": property.ID, "gap_id": gap.ID})
	if err := i.notifier.NotifyMarketGap(ctx, property, gap); err != nil {
		entry.WithError(err).Warn("Failed to send market gap alert")
		return
	}
	if err := database.MarkGapNotified(i.db.WithContext(ctx), gap.ID); err != nil {
		entry.WithError(err).Warn("Failed to mark market gap notified")
		return
	}
	gap.Notified = true
}
