package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

// runningMean folds the inserted value (excluded.*) into the stored mean in
// one statement, so concurrent writers never lose an update
func runningMean(table string) clause.OnConflict {
	mean := fmt.Sprintf("%[1]s.mean_price_per_area + (excluded.mean_price_per_area - %[1]s.mean_price_per_area) / (%[1]s.sample_count + 1)", table)
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "location_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"mean_price_per_area": gorm.Expr(mean),
			"sample_count":        gorm.Expr(table + ".sample_count + 1"),
			"updated_at":          gorm.Expr("excluded.updated_at"),
		}),
	}
}

// IncrementStreetAggregate adds one price-per-area sample to a street
func IncrementStreetAggregate(tx *gorm.DB, key string, value float64, now time.Time) error {
	row := &models.StreetAggregate{LocationKey: key, SampleCount: 1, Mean: value, UpdatedAt: now}
	err := tx.Clauses(runningMean(models.StreetAggregate{}.TableName())).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to update street aggregate %s: %w", key, err)
	}
	return nil
}

// IncrementDistrictAggregate adds one price-per-area sample to a district
func IncrementDistrictAggregate(tx *gorm.DB, key string, value float64, now time.Time) error {
	row := &models.DistrictAggregate{LocationKey: key, SampleCount: 1, Mean: value, UpdatedAt: now}
	err := tx.Clauses(runningMean(models.DistrictAggregate{}.TableName())).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to update district aggregate %s: %w", key, err)
	}
	return nil
}

// GetStreetAggregate returns nil for a street without samples
func GetStreetAggregate(tx *gorm.DB, key string) (*models.StreetAggregate, error) {
	var agg models.StreetAggregate
	err := tx.Where("location_key = ?", key).Take(&agg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load street aggregate: %w", err)
	}
	return &agg, nil
}

// GetDistrictAggregate returns nil for a district without samples
func GetDistrictAggregate(tx *gorm.DB, key string) (*models.DistrictAggregate, error) {
	var agg models.DistrictAggregate
	err := tx.Where("location_key = ?", key).Take(&agg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load district aggregate: %w", err)
	}
	return &agg, nil
}

// DistrictAggregatesWithPrefix returns every district aggregate whose key
// starts with prefix
func DistrictAggregatesWithPrefix(tx *gorm.DB, prefix string) ([]models.DistrictAggregate, error) {
	var aggs []models.DistrictAggregate
	err := tx.Where("location_key LIKE ?", prefix+"%").Order("location_key ASC").Find(&aggs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load district aggregates: %w", err)
	}
	return aggs, nil
}

// GapFilter narrows a market gap listing. Empty fields do not filter.
type GapFilter struct {
	City       string
	District   string
	Street     string
	Confidence models.Confidence
	Since      time.Time
	Limit      int
}

// CreateMarketGap inserts a fresh detection
func CreateMarketGap(tx *gorm.DB, record *models.MarketGapRecord) error {
	return translate(tx.Create(record).Error, "create market gap")
}

// MarkGapNotified sets the notified flag, the only mutation a gap record sees
func MarkGapNotified(tx *gorm.DB, id uint64) error {
	err := tx.Model(&models.MarketGapRecord{}).Where("id = ?", id).Update("notified", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark gap %d notified: %w", id, err)
	}
	return nil
}

// ListMarketGaps returns gap records newest first
func ListMarketGaps(tx *gorm.DB, f GapFilter) ([]models.MarketGapRecord, error) {
	query := tx.Model(&models.MarketGapRecord{})

	if f.City != "" || f.District != "" || f.Street != "" {
		located := tx.Model(&models.Property{}).Select("id")
		if f.City != "" {
			located = located.Where("LOWER(city) = LOWER(?)", f.City)
		}
		if f.District != "" {
			located = located.Where("LOWER(district) = LOWER(?)", f.District)
		}
		if f.Street != "" {
			located = located.Where("LOWER(street) = LOWER(?)", f.Street)
		}
		query = query.Where("property_id IN (?)", located)
	}
	if f.Confidence != "" {
		query = query.Where("confidence = ?", f.Confidence)
	}
	if !f.Since.IsZero() {
		query = query.Where("detected_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var records []models.MarketGapRecord
	if err := query.Order("detected_at DESC, id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list market gaps: %w", err)
	}
	return records, nil
}
