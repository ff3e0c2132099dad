// Package marketgap flags properties priced well below their comparables.
package marketgap

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/aggregator"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

type Options struct {
	// A street needs this many samples before it is used over the district
	MinStreetSamples int64
	MinGapPercent    float64
	HighGapPercent   float64
	HighMinSamples   int64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinStreetSamples: cfg.MarketGap.MinStreetSamples,
		MinGapPercent:    cfg.MarketGap.MinGapPercent,
		HighGapPercent:   cfg.MarketGap.HighGapPercent,
		HighMinSamples:   cfg.MarketGap.HighMinSamples,
	}
}

// Comparable is the aggregate a property is measured against
type Comparable struct {
	Level       models.ComparableLevel
	Mean        float64
	SampleCount int64
}

type Detector struct {
	opts   Options
	logger *logrus.Logger
}

func NewDetector(opts Options, logger *logrus.Logger) *Detector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Detector{opts: opts, logger: logger}
}

// Comparable picks the street aggregate when it has enough samples and the
// district aggregate otherwise. It returns nil when neither exists.
func (d *Detector) Comparable(street *models.StreetAggregate, district *models.DistrictAggregate) *Comparable {
	if street != nil && street.SampleCount >= d.opts.MinStreetSamples && street.Mean > 0 {
		return &Comparable{Level: models.LevelStreet, Mean: street.Mean, SampleCount: street.SampleCount}
	}
	if district != nil && district.SampleCount > 0 && district.Mean > 0 {
		return &Comparable{Level: models.LevelDistrict, Mean: district.Mean, SampleCount: district.SampleCount}
	}
	return nil
}

// Evaluate measures the property against a comparable. It returns nil when
// the property is not underpriced by at least the minimum gap.
func (d *Detector) Evaluate(property *models.Property, comparable *Comparable, now time.Time) *models.MarketGapRecord {
	if comparable == nil || !property.HasPrice() || property.PricePerArea <= 0 {
		return nil
	}

	gap := (comparable.Mean - property.PricePerArea) / comparable.Mean * 100
	if gap < d.opts.MinGapPercent {
		return nil
	}

	confidence := models.ConfidenceMedium
	if gap >= d.opts.HighGapPercent && comparable.SampleCount >= d.opts.HighMinSamples {
		confidence = models.ConfidenceHigh
	}

	profit := decimal.NewFromFloat(comparable.Mean).
		Sub(decimal.NewFromFloat(property.PricePerArea)).
		Mul(decimal.NewFromFloat(property.Area)).
		Round(2)

	return &models.MarketGapRecord{
		PropertyID:      property.ID,
		GapPercentage:   gap,
		PricePerArea:    property.PricePerArea,
		ComparableMean:  comparable.Mean,
		ComparableLevel: comparable.Level,
		SampleCount:     comparable.SampleCount,
		PotentialProfit: profit,
		Confidence:      confidence,
		DetectedAt:      now,
	}
}

// Detect loads the comparables of the property, evaluates it and stores a
// fresh record when it is underpriced
func (d *Detector) Detect(tx *gorm.DB, property *models.Property, now time.Time) (*models.MarketGapRecord, error) {
	if !property.HasPrice() {
		return nil, nil
	}

	var street *models.StreetAggregate
	if key := aggregator.StreetKey(property.City, property.Street); key != "" {
		var err error
		if street, err = database.GetStreetAggregate(tx, key); err != nil {
			return nil, err
		}
	}
	district, err := database.GetDistrictAggregate(tx, aggregator.DistrictKey(property.City, property.District))
	if err != nil {
		return nil, err
	}

	record := d.Evaluate(property, d.Comparable(street, district), now)
	if record == nil {
		return nil, nil
	}
	if err := database.CreateMarketGap(tx, record); err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"property_id":      property.ID,
		"gap_percentage":   record.GapPercentage,
		"comparable_level": record.ComparableLevel,
		"comparable_mean":  record.ComparableMean,
		"confidence":       record.Confidence,
	}).Info("Market gap detected")
	return record, nil
}
