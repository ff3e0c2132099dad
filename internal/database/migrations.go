package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

// MigrateSchema creates or updates every table and index
func MigrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Property{},
		&models.SourceListingLink{},
		&models.PriceHistoryEntry{},
		&models.PropertyEvent{},
		&models.StreetAggregate{},
		&models.DistrictAggregate{},
		&models.MarketGapRecord{},
		&models.ScrapePass{},
		&models.IngestError{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Coordinates are only used for radius and hull queries
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_properties_coordinates
		ON properties(latitude, longitude)
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
	`).Error; err != nil {
		return fmt.Errorf("failed to create coordinates index: %w", err)
	}
	return nil
}

// RunMigrations migrates the schema of an opened database
func (d *Database) RunMigrations() error {
	return MigrateSchema(d.db)
}
