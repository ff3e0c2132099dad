package geocoding

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/internal/database"
)

// Lookup resolves one address
type Lookup interface {
	GeocodeAddress(ctx context.Context, street, postalCode, city string) (float64, float64, error)
}

type BackfillResult struct {
	Checked int `json:"checked"`
	Located int `json:"located"`
	Failed  int `json:"failed"`
}

// Backfiller fills in coordinates of active properties whose listings
// carried none. Each run continues after the last property the previous
// run looked at, so addresses that never resolve do not starve the rest.
type Backfiller struct {
	db        *gorm.DB
	lookup    Lookup
	logger    *logrus.Logger
	batchSize int

	mu     sync.Mutex
	lastID uint64
}

func NewBackfiller(db *gorm.DB, lookup Lookup, batchSize int, logger *logrus.Logger) *Backfiller {
	if logger == nil {
		logger = logrus.New()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Backfiller{
		db:        db,
		lookup:    lookup,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run geocodes up to one batch of properties. Runs are serialized.
func (b *Backfiller) Run(ctx context.Context) (BackfillResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result BackfillResult
	db := b.db.WithContext(ctx)

	properties, err := database.PropertiesMissingCoordinates(db, b.lastID, b.batchSize)
	if err != nil {
		return result, err
	}
	if len(properties) == 0 && b.lastID > 0 {
		// wrap around
		b.lastID = 0
		properties, err = database.PropertiesMissingCoordinates(db, 0, b.batchSize)
		if err != nil {
			return result, err
		}
	}

	for _, p := range properties {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		b.lastID = p.ID
		result.Checked++

		lat, lng, err := b.lookup.GeocodeAddress(ctx, p.Street, p.PostalCode, p.City)
		if err != nil {
			result.Failed++
			b.logger.WithError(err).WithFields(logrus.Fields{
				"property_id": p.ID,
				"street":      p.Street,
				"city":        p.City,
			}).Warn("Failed to geocode property")
			continue
		}
		if err := database.SetPropertyCoordinates(db, p.ID, lat, lng); err != nil {
			return result, err
		}
		result.Located++
	}

	if result.Checked > 0 {
		b.logger.WithFields(logrus.Fields{
			"checked": result.Checked,
			"located": result.Located,
			"failed":  result.Failed,
		}).Info("Geocoding backfill finished")
	}
	return result, nil
}
