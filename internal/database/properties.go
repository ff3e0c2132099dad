package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

// CandidateQuery bounds the fuzzy search for an existing property
type CandidateQuery struct {
	City            string
	District        string
	Rooms           int
	MinArea         float64
	MaxArea         float64
	MinPricePerArea float64
	MaxPricePerArea float64
	// TargetArea orders candidates by distance before Limit applies
	TargetArea float64
	// ExcludeSource drops properties that already hold an active link of
	// this source
	ExcludeSource string
	Limit         int
}

// FindPropertyByID returns nil when no property has the id
func FindPropertyByID(tx *gorm.DB, id uint64) (*models.Property, error) {
	var property models.Property
	err := tx.Where("id = ?", id).Take(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load property %d: %w", id, err)
	}
	return &property, nil
}

// FindPropertiesByIDs returns the properties keyed by id
func FindPropertiesByIDs(tx *gorm.DB, ids []uint64) (map[uint64]*models.Property, error) {
	result := make(map[uint64]*models.Property, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var properties []models.Property
	if err := tx.Where("id IN ?", ids).Find(&properties).Error; err != nil {
		return nil, fmt.Errorf("failed to load properties: %w", err)
	}
	for i := range properties {
		result[properties[i].ID] = &properties[i]
	}
	return result, nil
}

// FindPropertyByFingerprint returns nil when the fingerprint is unknown
func FindPropertyByFingerprint(tx *gorm.DB, fingerprint string) (*models.Property, error) {
	var property models.Property
	err := tx.Where("fingerprint = ?", fingerprint).Take(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	return &property, nil
}

// FindCandidates returns properties inside the tolerance windows of q,
// closest area first. Properties without a district, and queries without
// one, match any district. Properties without a price or with an estimated
// area are never candidates.
func FindCandidates(tx *gorm.DB, q CandidateQuery) ([]models.Property, error) {
	query := tx.Model(&models.Property{}).
		Where("city = ? AND rooms = ?", q.City, q.Rooms).
		Where("area_estimated = ?", false).
		Where("area BETWEEN ? AND ?", q.MinArea, q.MaxArea).
		Where("price > 0 AND price_per_area BETWEEN ? AND ?", q.MinPricePerArea, q.MaxPricePerArea)
	if q.District != "" {
		query = query.Where("(district = ? OR district = '')", q.District)
	}
	if q.ExcludeSource != "" {
		query = query.Where("NOT EXISTS (SELECT 1 FROM source_listing_links l "+
			"WHERE l.property_id = properties.id AND l.source = ? AND l.active = ?)", q.ExcludeSource, true)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	query = query.Clauses(clause.OrderBy{Expression: clause.Expr{
		SQL:                "ABS(area - ?) ASC, updated_at DESC, id DESC",
		Vars:               []interface{}{q.TargetArea},
		WithoutParentheses: true,
	}})

	var candidates []models.Property
	if err := query.Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to search candidates: %w", err)
	}
	return candidates, nil
}

// CreateProperty inserts a new property. A lost race on the fingerprint or
// slug returns ErrDuplicate.
func CreateProperty(tx *gorm.DB, property *models.Property) error {
	return translate(tx.Create(property).Error, "create property")
}

// SaveProperty writes every column of an existing property
func SaveProperty(tx *gorm.DB, property *models.Property) error {
	return translate(tx.Save(property).Error, "save property")
}

// MarkPropertyRemoved flips an active property to REMOVED. It reports false
// when the property was not active any more.
func MarkPropertyRemoved(tx *gorm.DB, id uint64, removedAt time.Time, daysOnMarket int) (bool, error) {
	result := tx.Model(&models.Property{}).
		Where("id = ? AND status = ?", id, models.StatusActive).
		Updates(map[string]interface{}{
			"status":         models.StatusRemoved,
			"removed_at":     removedAt,
			"days_on_market": daysOnMarket,
			"updated_at":     removedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark property %d removed: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// SetPriceAnomaly sets the anomaly flag of a property
func SetPriceAnomaly(tx *gorm.DB, id uint64, anomaly bool) error {
	err := tx.Model(&models.Property{}).Where("id = ?", id).Update("is_price_anomaly", anomaly).Error
	if err != nil {
		return fmt.Errorf("failed to update anomaly flag: %w", err)
	}
	return nil
}

// PropertiesWithCoordinates returns every located active property, limited
// to one city unless city is empty
func PropertiesWithCoordinates(tx *gorm.DB, city string) ([]models.Property, error) {
	var properties []models.Property
	q := tx.Where("status = ? AND latitude IS NOT NULL AND longitude IS NOT NULL", models.StatusActive)
	if city != "" {
		q = q.Where("city = ?", city)
	}
	err := q.Order("id ASC").Find(&properties).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load located properties: %w", err)
	}
	return properties, nil
}

// PropertiesMissingCoordinates returns up to limit active properties with
// a street but no coordinates, in id order after afterID
func PropertiesMissingCoordinates(tx *gorm.DB, afterID uint64, limit int) ([]models.Property, error) {
	var properties []models.Property
	err := tx.Where("status = ? AND (latitude IS NULL OR longitude IS NULL) AND street <> '' AND id > ?",
		models.StatusActive, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&properties).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load properties without coordinates: %w", err)
	}
	return properties, nil
}

func SetPropertyCoordinates(tx *gorm.DB, id uint64, lat, lng float64) error {
	err := tx.Model(&models.Property{}).Where("id = ?", id).
		Updates(map[string]interface{}{"latitude": lat, "longitude": lng}).Error
	if err != nil {
		return fmt.Errorf("failed to update coordinates of property %d: %w", id, err)
	}
	return nil
}

// AppendPriceHistory inserts one history entry
func AppendPriceHistory(tx *gorm.DB, entry *models.PriceHistoryEntry) error {
	return translate(tx.Create(entry).Error, "append price history")
}

// LatestPriceEntry returns nil when the property has no history yet
func LatestPriceEntry(tx *gorm.DB, propertyID uint64) (*models.PriceHistoryEntry, error) {
	var entry models.PriceHistoryEntry
	err := tx.Where("property_id = ?", propertyID).
		Order("recorded_at DESC, id DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest price: %w", err)
	}
	return &entry, nil
}

// PriceHistory returns the entries of a property oldest first
func PriceHistory(tx *gorm.DB, propertyID uint64) ([]models.PriceHistoryEntry, error) {
	var entries []models.PriceHistoryEntry
	err := tx.Where("property_id = ?", propertyID).
		Order("recorded_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}
	return entries, nil
}

// AppendEvent records a lifecycle event
func AppendEvent(tx *gorm.DB, event *models.PropertyEvent) error {
	return translate(tx.Create(event).Error, "append property event")
}

// Events returns the lifecycle events of a property oldest first
func Events(tx *gorm.DB, propertyID uint64) ([]models.PropertyEvent, error) {
	var events []models.PropertyEvent
	err := tx.Where("property_id = ?", propertyID).
		Order("occurred_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}
