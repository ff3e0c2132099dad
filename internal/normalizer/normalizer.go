// Package normalizer turns raw scraped listing text into structured
// attributes. A bad field never aborts a listing on its own: it degrades to
// "unknown" and is reported as a parse error. Only values out of a
// plausible range reject the listing.
package normalizer

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

// Options are the plausibility ranges applied while parsing
type Options struct {
	MinPrice    int64
	MaxPrice    int64
	MinArea     float64
	MaxArea     float64
	DefaultArea float64
}

// OptionsFromConfig copies the normalizer block of the service config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinPrice:    cfg.Normalizer.MinPrice,
		MaxPrice:    cfg.Normalizer.MaxPrice,
		MinArea:     cfg.Normalizer.MinArea,
		MaxArea:     cfg.Normalizer.MaxArea,
		DefaultArea: cfg.Normalizer.DefaultArea,
	}
}

type Normalizer struct {
	opts      Options
	locations *config.LocationTable
	logger    *logrus.Logger
	now       func() time.Time
}

func NewNormalizer(opts Options, locations *config.LocationTable, logger *logrus.Logger) *Normalizer {
	if locations == nil {
		locations = config.GetLocations()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Normalizer{
		opts:      opts,
		locations: locations,
		logger:    logger,
		now:       time.Now,
	}
}

// Normalize parses one raw listing. The returned listing is nil when any
// field error is a validation error; parse errors come back alongside a
// usable listing.
func (n *Normalizer) Normalize(raw models.RawListing) (*models.StructuredListing, []*models.FieldError) {
	var issues []*models.FieldError

	title := StripHTML(raw.Title)
	description := StripHTML(raw.Description)

	listing := &models.StructuredListing{
		Source:        strings.TrimSpace(raw.Source),
		ExternalID:    strings.TrimSpace(raw.ExternalID),
		URL:           strings.TrimSpace(raw.URL),
		Title:         title,
		Description:   description,
		SellerContact: strings.TrimSpace(raw.SellerContact),
		Latitude:      raw.Latitude,
		Longitude:     raw.Longitude,
		FirstSeenAt:   raw.ScrapedAt,
	}
	if listing.FirstSeenAt.IsZero() {
		listing.FirstSeenAt = n.now()
	}

	if listing.Source == "" {
		issues = append(issues, validationError("source", raw.Source, "source identifier is required"))
	}
	if listing.ExternalID == "" {
		issues = append(issues, validationError("external_id", raw.ExternalID, "external id is required"))
	}

	price, err := ParsePrice(raw.Price, n.opts.MinPrice, n.opts.MaxPrice)
	if err != nil {
		issues = append(issues, err)
		if errors.Is(err, models.ErrParse) {
			listing.Price = models.PriceOnRequest
			listing.Degraded = true
		}
	} else {
		listing.Price = price
	}

	areaText := raw.Area
	if strings.TrimSpace(areaText) == "" {
		areaText = title + " " + description
	}
	area, err := ParseArea(areaText, n.opts.MinArea, n.opts.MaxArea)
	if err != nil {
		issues = append(issues, err)
		if errors.Is(err, models.ErrParse) {
			listing.Area = n.opts.DefaultArea
			listing.AreaEstimated = true
			listing.Degraded = true
		}
	} else {
		listing.Area = area
	}

	loc, err := ParseLocation(raw.Location, title, n.locations)
	if err != nil {
		issues = append(issues, err)
	} else {
		listing.City = loc.City
		listing.District = loc.District
		listing.Street = loc.Street
		listing.PostalCode = loc.PostalCode
		if loc.Tier != TierName {
			listing.Degraded = true
		}
	}

	text := title + " " + description
	rooms, err := ParseRooms(raw.Rooms, text)
	if err != nil {
		issues = append(issues, err)
		listing.Degraded = true
	}
	listing.Rooms = rooms

	floor, err := ParseFloor(raw.Floor, text)
	if err != nil {
		issues = append(issues, err)
	}
	listing.Floor = floor

	listing.Condition = ClassifyCondition(text)
	listing.Energy = ClassifyEnergy(text)
	listing.Heating = ClassifyHeating(text)
	listing.Amenities = DetectAmenities(text)

	if listing.HasPrice() && listing.Area > 0 && !listing.AreaEstimated {
		listing.PricePerArea = float64(listing.Price) / listing.Area
	}

	n.logIssues(raw, issues)

	for _, issue := range issues {
		if errors.Is(issue, models.ErrValidation) {
			return nil, issues
		}
	}
	return listing, issues
}

func (n *Normalizer) logIssues(raw models.RawListing, issues []*models.FieldError) {
	for _, issue := range issues {
		entry := n.logger.WithFields(logrus.Fields{
			"source":      raw.Source,
			"external_id": raw.ExternalID,
			"url":         raw.URL,
			"field":       issue.Field,
			"raw_value":   issue.RawValue,
			"kind":        issue.Kind.Error(),
		})
		if errors.Is(issue, models.ErrValidation) {
			entry.Warn("Rejecting listing: " + issue.Message)
		} else {
			entry.Warn("Degraded field: " + issue.Message)
		}
	}
}

func parseError(field, raw, msg string) *models.FieldError {
	return &models.FieldError{Kind: models.ErrParse, Field: field, RawValue: raw, Message: msg}
}

func validationError(field, raw, msg string) *models.FieldError {
	return &models.FieldError{Kind: models.ErrValidation, Field: field, RawValue: raw, Message: msg}
}
