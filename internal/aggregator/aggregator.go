// Package aggregator maintains running price-per-area means per street and
// per district. Every update is a single atomic upsert, so concurrent
// ingest workers need no shared lock.
package aggregator

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

// wholeCity is the district key segment used when the district is unknown
const wholeCity = "*"

// StreetKey identifies a street inside its city. It is empty when the
// street is unknown.
func StreetKey(city, street string) string {
	c, s := config.NormalizeName(city), config.NormalizeName(street)
	if c == "" || s == "" {
		return ""
	}
	return c + "|" + s
}

// DistrictKey identifies a district. Listings without a district share a
// city-wide bucket.
func DistrictKey(city, district string) string {
	c := config.NormalizeName(city)
	if c == "" {
		return ""
	}
	d := config.NormalizeName(district)
	if d == "" {
		d = wholeCity
	}
	return c + "|" + d
}

// CityPrefix is the key prefix shared by every district of a city
func CityPrefix(city string) string {
	return config.NormalizeName(city) + "|"
}

type Aggregator struct {
	logger *logrus.Logger
}

func NewAggregator(logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Aggregator{logger: logger}
}

// Observe folds the property's current price per area into its street and
// district means. Properties without a price are ignored.
func (a *Aggregator) Observe(tx *gorm.DB, property *models.Property, now time.Time) error {
	if !property.HasPrice() || property.PricePerArea <= 0 {
		return nil
	}

	if key := StreetKey(property.City, property.Street); key != "" {
		if err := database.IncrementStreetAggregate(tx, key, property.PricePerArea, now); err != nil {
			return err
		}
	}
	if key := DistrictKey(property.City, property.District); key != "" {
		if err := database.IncrementDistrictAggregate(tx, key, property.PricePerArea, now); err != nil {
			return err
		}
	}

	a.logger.WithFields(logrus.Fields{
		"property_id":    property.ID,
		"city":           property.City,
		"district":       property.District,
		"street":         property.Street,
		"price_per_area": property.PricePerArea,
	}).Debug("Aggregates updated")
	return nil
}
