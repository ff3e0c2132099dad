package timeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

var day0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func at(days int) time.Time {
	return day0.Add(time.Duration(days) * 24 * time.Hour)
}

func TestBuild(t *testing.T) {
	property := &models.Property{
		ID: 1, Status: models.StatusActive, FirstListedAt: at(40), RelistCount: 1,
	}
	history := []models.PriceHistoryEntry{
		{Price: 200000, RecordedAt: at(0), Source: "a"},
		{Price: 190000, RecordedAt: at(10), Source: "a"},
		{Price: models.PriceOnRequest, RecordedAt: at(15), Source: "a"},
		{Price: 185000, RecordedAt: at(20), Source: "b"},
		{Price: 195000, RecordedAt: at(40), Source: "b"},
	}
	stored := []models.PropertyEvent{
		{Type: models.EventListed, OccurredAt: at(0), Source: "a", Price: 200000},
		{Type: models.EventRemoved, OccurredAt: at(30), DaysOnMarket: 30, Price: 185000},
		{Type: models.EventRelisted, OccurredAt: at(40), DaysOffMarket: 10, Source: "b", Price: 195000},
	}

	tl := Build(property, history, stored, at(45))

	var types []models.EventType
	for _, e := range tl.Events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventListed,
		models.EventPriceDrop,
		models.EventPriceDrop,
		models.EventRemoved,
		models.EventRelisted,
		models.EventPriceIncrease,
	}, types)

	drop := tl.Events[1]
	assert.Equal(t, int64(190000), drop.Price)
	assert.Equal(t, int64(200000), drop.PreviousPrice)
	assert.Equal(t, int64(-10000), drop.Change)
	assert.InDelta(t, -5.0, drop.ChangePercent, 0.001)

	// The withheld price is skipped, the next drop is measured from 190000
	assert.Equal(t, int64(190000), tl.Events[2].PreviousPrice)

	s := tl.Summary
	assert.Equal(t, int64(200000), s.InitialPrice)
	assert.Equal(t, int64(195000), s.CurrentPrice)
	assert.Equal(t, int64(-5000), s.TotalChange)
	assert.InDelta(t, -2.5, s.TotalChangePercent, 0.001)
	assert.Equal(t, 2, s.DropCount)
	assert.Equal(t, 1, s.IncreaseCount)
	assert.Equal(t, 1, s.RelistCount)
	assert.Equal(t, 5, s.DaysOnMarket)
	assert.Len(t, tl.PriceHistory, 5)
}

func TestBuildSummaryDaysOnMarket(t *testing.T) {
	tests := []struct {
		name     string
		property models.Property
		want     int
	}{
		{
			name:     "active counts up to now",
			property: models.Property{Status: models.StatusActive, FirstListedAt: at(0)},
			want:     12,
		},
		{
			name:     "removed stays frozen",
			property: models.Property{Status: models.StatusRemoved, FirstListedAt: at(0), DaysOnMarket: 7},
			want:     7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := Build(&tt.property, nil, nil, at(12))
			assert.Equal(t, tt.want, tl.Summary.DaysOnMarket)
			assert.NotNil(t, tl.PriceHistory)
			assert.Empty(t, tl.Events)
		})
	}
}

func TestServiceGet(t *testing.T) {
	d, err := database.NewTestDB()
	require.NoError(t, err)
	defer d.Close()
	db := d.GetDB()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	service := NewService(db, logger)
	service.now = func() time.Time { return at(3) }

	_, err = service.Get(context.Background(), 42)
	assert.True(t, errors.Is(err, ErrNotFound))

	p := &models.Property{
		Slug: "byt", Fingerprint: "fp", City: "Žilina", Area: 55, Rooms: 2, Price: 150000,
		Status: models.StatusActive, FirstListedAt: at(0), LastSeenAt: at(2),
	}
	require.NoError(t, database.CreateProperty(db, p))
	require.NoError(t, database.AppendPriceHistory(db, &models.PriceHistoryEntry{PropertyID: p.ID, Price: 160000, RecordedAt: at(0)}))
	require.NoError(t, database.AppendPriceHistory(db, &models.PriceHistoryEntry{PropertyID: p.ID, Price: 150000, RecordedAt: at(2)}))
	require.NoError(t, database.AppendEvent(db, &models.PropertyEvent{PropertyID: p.ID, Type: models.EventListed, OccurredAt: at(0), Price: 160000}))

	tl, err := service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, tl.Events, 2)
	assert.Equal(t, models.EventListed, tl.Events[0].Type)
	assert.Equal(t, models.EventPriceDrop, tl.Events[1].Type)
	assert.Equal(t, 1, tl.Summary.DropCount)
	assert.Equal(t, 3, tl.Summary.DaysOnMarket)
	assert.Equal(t, p.ID, tl.Property.ID)
}
