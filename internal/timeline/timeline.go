// Package timeline assembles the history of one property: its price
// entries, lifecycle events and price moves derived from consecutive
// entries.
package timeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

var ErrNotFound = errors.New("property not found")

// Event is one entry of the timeline
type Event struct {
	Type          models.EventType `json:"type"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Source        string           `json:"source,omitempty"`
	Price         int64            `json:"price,omitempty"`
	PreviousPrice int64            `json:"previous_price,omitempty"`
	Change        int64            `json:"change,omitempty"`
	ChangePercent float64          `json:"change_percent,omitempty"`
	DaysOnMarket  int              `json:"days_on_market,omitempty"`
	DaysOffMarket int              `json:"days_off_market,omitempty"`
}

type Summary struct {
	InitialPrice       int64                 `json:"initial_price"`
	CurrentPrice       int64                 `json:"current_price"`
	TotalChange        int64                 `json:"total_change"`
	TotalChangePercent float64               `json:"total_change_percent"`
	DropCount          int                   `json:"drop_count"`
	IncreaseCount      int                   `json:"increase_count"`
	RelistCount        int                   `json:"relist_count"`
	DaysOnMarket       int                   `json:"days_on_market"`
	Status             models.PropertyStatus `json:"status"`
}

type Timeline struct {
	Property     *models.Property           `json:"property"`
	PriceHistory []models.PriceHistoryEntry `json:"price_history"`
	Events       []Event                    `json:"events"`
	Summary      Summary                    `json:"summary"`
}

type Service struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Get loads the timeline of a property, ErrNotFound when it does not exist
func (s *Service) Get(ctx context.Context, propertyID uint64) (*Timeline, error) {
	db := s.db.WithContext(ctx)
	property, err := database.FindPropertyByID(db, propertyID)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, ErrNotFound
	}

	history, err := database.PriceHistory(db, propertyID)
	if err != nil {
		return nil, err
	}
	stored, err := database.Events(db, propertyID)
	if err != nil {
		return nil, err
	}

	t := Build(property, history, stored, s.now())
	return &t, nil
}

// Build merges stored lifecycle events with price moves derived from the
// history. Moves to or from a withheld price are not price events.
func Build(property *models.Property, history []models.PriceHistoryEntry, stored []models.PropertyEvent, now time.Time) Timeline {
	events := make([]Event, 0, len(stored)+len(history))
	for _, e := range stored {
		events = append(events, Event{
			Type:          e.Type,
			OccurredAt:    e.OccurredAt,
			Source:        e.Source,
			Price:         e.Price,
			DaysOnMarket:  e.DaysOnMarket,
			DaysOffMarket: e.DaysOffMarket,
		})
	}

	summary := Summary{
		RelistCount: property.RelistCount,
		Status:      property.Status,
	}

	var previous int64
	for _, entry := range history {
		if entry.Price <= 0 {
			continue
		}
		if summary.InitialPrice == 0 {
			summary.InitialPrice = entry.Price
		}
		summary.CurrentPrice = entry.Price

		if previous > 0 && entry.Price != previous {
			move := Event{
				Type:          models.EventPriceDrop,
				OccurredAt:    entry.RecordedAt,
				Source:        entry.Source,
				Price:         entry.Price,
				PreviousPrice: previous,
				Change:        entry.Price - previous,
				ChangePercent: percent(entry.Price-previous, previous),
			}
			if entry.Price > previous {
				move.Type = models.EventPriceIncrease
				summary.IncreaseCount++
			} else {
				summary.DropCount++
			}
			events = append(events, move)
		}
		previous = entry.Price
	}

	// Lifecycle events come first at equal timestamps
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})

	if summary.InitialPrice > 0 {
		summary.TotalChange = summary.CurrentPrice - summary.InitialPrice
		summary.TotalChangePercent = percent(summary.TotalChange, summary.InitialPrice)
	}

	summary.DaysOnMarket = property.DaysOnMarket
	if property.Status == models.StatusActive {
		if d := now.Sub(property.FirstListedAt); d > 0 {
			summary.DaysOnMarket = int(d.Hours() / 24)
		}
	}

	if history == nil {
		history = []models.PriceHistoryEntry{}
	}
	return Timeline{
		Property:     property,
		PriceHistory: history,
		Events:       events,
		Summary:      summary,
	}
}

func percent(change, base int64) float64 {
	if base == 0 {
		return 0
	}
	p := decimal.NewFromInt(change).Div(decimal.NewFromInt(base)).Mul(decimal.NewFromInt(100))
	return p.Round(2).InexactFloat64()
}
