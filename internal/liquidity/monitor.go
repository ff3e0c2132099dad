// Package liquidity detects properties that disappeared from their sources.
// It works on the full set of listings observed by one complete pass, never
// on a single page, and only touches links last seen before the pass
// started so listings ingested while it runs are left alone.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

// ErrEmptyObservation refuses a diff against nothing, which would remove
// every listing of the source
var ErrEmptyObservation = fmt.Errorf("%w: pass observed no listings", models.ErrStructureChange)

type Monitor struct {
	db           *gorm.DB
	missedPasses int
	logger       *logrus.Logger
	now          func() time.Time
}

func NewMonitor(db *gorm.DB, cfg *config.Config, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	missed := cfg.Liquidity.MissedPasses
	if missed < 1 {
		missed = 1
	}
	return &Monitor{
		db:           db,
		missedPasses: missed,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile diffs the external ids observed by a complete pass of source
// against the store and returns how many properties it moved to REMOVED.
// Each link is handled in its own short transaction.
func (m *Monitor) Reconcile(ctx context.Context, source string, observed []string, passStartedAt time.Time) (int, error) {
	if len(observed) == 0 {
		return 0, ErrEmptyObservation
	}
	seen := make(map[string]struct{}, len(observed))
	for _, id := range observed {
		seen[id] = struct{}{}
	}

	stale, err := database.StaleActiveLinks(m.db.WithContext(ctx), source, passStartedAt)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, link := range stale {
		if _, ok := seen[link.ExternalID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		var didRemove bool
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			didRemove, txErr = m.missed(tx, link, passStartedAt)
			return txErr
		})
		if err != nil {
			return removed, fmt.Errorf("failed to reconcile link %s/%s: %w", link.Source, link.ExternalID, err)
		}
		if didRemove {
			removed++
		}
	}

	m.logger.WithFields(logrus.Fields{
		"source":   source,
		"observed": len(seen),
		"stale":    len(stale),
		"removed":  removed,
	}).Info("Liquidity reconciled")
	return removed, nil
}

// missed records one absence of link. It reports whether the property went
// off the market because of it.
func (m *Monitor) missed(tx *gorm.DB, link models.SourceListingLink, passStartedAt time.Time) (bool, error) {
	updated, err := database.RecordMissedPass(tx, link.ID, passStartedAt, m.missedPasses)
	if err != nil || updated == nil || updated.Active {
		return false, err
	}

	property, err := database.FindPropertyByID(tx, link.PropertyID)
	if err != nil {
		return false, err
	}
	if property == nil {
		return false, errors.New("link points to a missing property")
	}

	now := m.now()
	others, err := database.CountActiveLinks(tx, property.ID, link.ID)
	if err != nil {
		return false, err
	}
	if others > 0 {
		// Still advertised elsewhere, only the price may move
		return false, m.refreshPrice(tx, property, link.Source, now)
	}

	days := 0
	if d := now.Sub(property.FirstListedAt); d > 0 {
		days = int(d.Hours() / 24)
	}
	changed, err := database.MarkPropertyRemoved(tx, property.ID, now, days)
	if err != nil || !changed {
		return false, err
	}

	m.logger.WithFields(logrus.Fields{
		"property_id":    property.ID,
		"source":         link.Source,
		"external_id":    link.ExternalID,
		"days_on_market": days,
	}).Info("Property removed from market")

	return true, database.AppendEvent(tx, &models.PropertyEvent{
		PropertyID:   property.ID,
		Type:         models.EventRemoved,
		Source:       link.Source,
		Price:        property.Price,
		DaysOnMarket: days,
		OccurredAt:   now,
	})
}

func (m *Monitor) refreshPrice(tx *gorm.DB, property *models.Property, source string, now time.Time) error {
	price, err := database.LowestActivePrice(tx, property.ID)
	if err != nil || price == property.Price {
		return err
	}

	property.Price = price
	property.PricePerArea = 0
	if price > 0 && property.Area > 0 {
		property.PricePerArea = float64(price) / property.Area
	}
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
		Source:       source,
		RecordedAt:   recordedAt,
	}); err != nil {
		return err
	}
	return database.SaveProperty(tx, property)
}
