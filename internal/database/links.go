package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

// FindLink returns the link of a source listing, or nil
func FindLink(tx *gorm.DB, source, externalID string) (*models.SourceListingLink, error) {
	var link models.SourceListingLink
	err := tx.Where("source = ? AND external_id = ?", source, externalID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up link %s/%s: %w", source, externalID, err)
	}
	return &link, nil
}

// CreateLink inserts a link. A concurrent insert of the same (source,
// external id) returns ErrDuplicate.
func CreateLink(tx *gorm.DB, link *models.SourceListingLink) error {
	return translate(tx.Create(link).Error, "create link")
}

// SaveLink writes every column of an existing link
func SaveLink(tx *gorm.DB, link *models.SourceListingLink) error {
	return translate(tx.Save(link).Error, "save link")
}

// ActiveLinks returns the active links of a property
func ActiveLinks(tx *gorm.DB, propertyID uint64) ([]models.SourceListingLink, error) {
	var links []models.SourceListingLink
	err := tx.Where("property_id = ? AND active = ?", propertyID, true).
		Order("id ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load links of property %d: %w", propertyID, err)
	}
	return links, nil
}

// LowestActivePrice is the lowest asking price among the active links of a
// property, or PriceOnRequest when none of them carries a price
func LowestActivePrice(tx *gorm.DB, propertyID uint64) (int64, error) {
	var lowest sql.NullInt64
	err := tx.Model(&models.SourceListingLink{}).
		Select("MIN(price)").
		Where("property_id = ? AND active = ? AND price > 0", propertyID, true).
		Row().Scan(&lowest)
	if err != nil {
		return 0, fmt.Errorf("failed to load lowest price of property %d: %w", propertyID, err)
	}
	if !lowest.Valid {
		return models.PriceOnRequest, nil
	}
	return lowest.Int64, nil
}

// CountActiveLinks counts the active links of a property other than exclude
func CountActiveLinks(tx *gorm.DB, propertyID, exclude uint64) (int64, error) {
	var count int64
	err := tx.Model(&models.SourceListingLink{}).
		Where("property_id = ? AND active = ? AND id <> ?", propertyID, true, exclude).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return count, nil
}

// StaleActiveLinks returns the active links of a source not seen since before
func StaleActiveLinks(tx *gorm.DB, source string, before time.Time) ([]models.SourceListingLink, error) {
	var links []models.SourceListingLink
	err := tx.Where("source = ? AND active = ? AND last_seen_at < ?", source, true, before).
		Order("id ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load stale links of %s: %w", source, err)
	}
	return links, nil
}

// RecordMissedPass bumps the miss counter of a link that is still active and
// unseen since before. It deactivates the link once the counter reaches
// threshold and returns the updated link, or nil when a concurrent ingest
// refreshed it first.
func RecordMissedPass(tx *gorm.DB, linkID uint64, before time.Time, threshold int) (*models.SourceListingLink, error) {
	result := tx.Model(&models.SourceListingLink{}).
		Where("id = ? AND active = ? AND last_seen_at < ?", linkID, true, before).
		Update("missed_passes", gorm.Expr("missed_passes + 1"))
	if result.Error != nil {
		return nil, fmt.Errorf("failed to record missed pass: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	err := tx.Model(&models.SourceListingLink{}).
		Where("id = ? AND missed_passes >= ?", linkID, threshold).
		Update("active", false).Error
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate link: %w", err)
	}

	var link models.SourceListingLink
	if err := tx.Where("id = ?", linkID).Take(&link).Error; err != nil {
		return nil, fmt.Errorf("failed to reload link: %w", err)
	}
	return &link, nil
}

// DuplicateLinks returns the active links of every property advertised by
// more than one active link, ordered by property
func DuplicateLinks(tx *gorm.DB) ([]models.SourceListingLink, error) {
	shared := tx.Model(&models.SourceListingLink{}).
		Select("property_id").
		Where("active = ?", true).
		Group("property_id").
		Having("COUNT(*) > 1")

	var links []models.SourceListingLink
	err := tx.Where("active = ? AND property_id IN (?)", true, shared).
		Order("property_id ASC, id ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load duplicate links: %w", err)
	}
	return links, nil
}
