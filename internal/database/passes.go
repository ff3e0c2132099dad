package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

func CreatePass(tx *gorm.DB, pass *models.ScrapePass) error {
	return translate(tx.Create(pass).Error, "create scrape pass")
}

func SavePass(tx *gorm.DB, pass *models.ScrapePass) error {
	return translate(tx.Save(pass).Error, "save scrape pass")
}

// ListPasses returns the most recent passes, optionally of one source
func ListPasses(tx *gorm.DB, source string, limit int) ([]models.ScrapePass, error) {
	query := tx.Model(&models.ScrapePass{})
	if source != "" {
		query = query.Where("source = ?", source)
	}
	if limit <= 0 {
		limit = 50
	}

	var passes []models.ScrapePass
	if err := query.Order("started_at DESC").Limit(limit).Find(&passes).Error; err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	return passes, nil
}

// RecordIngestErrors stores the errors of a pass in one insert
func RecordIngestErrors(tx *gorm.DB, records []*models.IngestError) error {
	if len(records) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(records, 100).Error; err != nil {
		return fmt.Errorf("failed to record %d ingest errors: %w", len(records), err)
	}
	return nil
}

// IngestErrors returns the recorded errors of a pass
func IngestErrors(tx *gorm.DB, passID string) ([]models.IngestError, error) {
	var records []models.IngestError
	if err := tx.Where("pass_id = ?", passID).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load ingest errors: %w", err)
	}
	return records, nil
}
