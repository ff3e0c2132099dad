package duplicates

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	failGet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet {
		return nil, false, errors.New("connection refused")
	}
	b, ok := c.entries[key]
	return b, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	d, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d.GetDB()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func seed(t *testing.T, db *gorm.DB, fp string, prices map[string]int64) *models.Property {
	t.Helper()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	p := &models.Property{
		Slug: "slug-" + fp, Fingerprint: fp, City: "Bratislava", District: "Petržalka",
		Area: 64, Rooms: 3, Price: 165000, Status: models.StatusActive,
		FirstListedAt: now, LastSeenAt: now,
	}
	require.NoError(t, database.CreateProperty(db, p))
	for source, price := range prices {
		require.NoError(t, database.CreateLink(db, &models.SourceListingLink{
			PropertyID: p.ID, Source: source, ExternalID: fp + "-" + source,
			URL: "https://" + source + ".example/" + fp, Price: price,
			Active: true, FirstSeenAt: now, LastSeenAt: now,
		}))
	}
	return p
}

func TestBuild(t *testing.T) {
	property := &models.Property{ID: 7, Slug: "byt", City: "Bratislava", Rooms: 3, Area: 64}

	tests := []struct {
		name     string
		prices   map[string]int64
		best     int64
		worst    int64
		savings  float64
		cheapest string
		order    []string
	}{
		{
			name:     "two sources",
			prices:   map[string]int64{"a": 180000, "b": 165000},
			best:     165000,
			worst:    180000,
			savings:  8.33,
			cheapest: "b",
			order:    []string{"b", "a"},
		},
		{
			name:     "price on request goes last",
			prices:   map[string]int64{"a": models.PriceOnRequest, "b": 200000, "c": 150000},
			best:     150000,
			worst:    200000,
			savings:  25,
			cheapest: "c",
			order:    []string{"c", "b", "a"},
		},
		{
			name:   "no prices",
			prices: map[string]int64{"a": models.PriceOnRequest, "b": models.PriceOnRequest},
			order:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var links []models.SourceListingLink
			for source, price := range tt.prices {
				links = append(links, models.SourceListingLink{PropertyID: 7, Source: source, ExternalID: source + "-1", Price: price})
			}

			group := Build(property, links)
			assert.Equal(t, tt.best, group.BestPrice)
			assert.Equal(t, tt.worst, group.WorstPrice)
			assert.InDelta(t, tt.savings, group.SavingsPercent, 0.001)
			assert.Equal(t, tt.cheapest, group.CheapestSource)

			var order []string
			for _, m := range group.Members {
				order = append(order, m.Source)
			}
			assert.Equal(t, tt.order, order)
		})
	}
}

func TestGroupsFromStore(t *testing.T) {
	db := setupTestDB(t)
	small := seed(t, db, "small", map[string]int64{"nehnutelnosti": 180000, "reality": 165000})
	large := seed(t, db, "large", map[string]int64{"nehnutelnosti": 200000, "bazos": 150000})
	seed(t, db, "single", map[string]int64{"reality": 120000})

	groups, err := NewGrouper(db, nil, 0, quietLogger()).Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, large.ID, groups[0].PropertyID)
	assert.Equal(t, small.ID, groups[1].PropertyID)
	assert.Len(t, groups[1].Members, 2)
	assert.Equal(t, int64(165000), groups[1].BestPrice)
	assert.Equal(t, "reality", groups[1].CheapestSource)
	assert.InDelta(t, 8.33, groups[1].SavingsPercent, 0.01)
	assert.Equal(t, "Petržalka", groups[1].District)
}

func TestGroupsIgnoreInactiveLinks(t *testing.T) {
	db := setupTestDB(t)
	p := seed(t, db, "p", map[string]int64{"a": 180000, "b": 165000})

	link, err := database.FindLink(db, "b", "p-b")
	require.NoError(t, err)
	link.Active = false
	require.NoError(t, database.SaveLink(db, link))

	groups, err := NewGrouper(db, nil, 0, quietLogger()).Groups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.NotZero(t, p.ID)
}

func TestGroupsUseCache(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "p", map[string]int64{"a": 180000, "b": 165000})
	cache := newMemoryCache()
	grouper := NewGrouper(db, cache, time.Minute, quietLogger())

	first, err := grouper.Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A new group is invisible until the cached entry expires
	seed(t, db, "q", map[string]int64{"a": 100000, "c": 90000})
	second, err := grouper.Groups(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Equal(t, 2, cache.gets)
}

func TestGroupsFallBackWhenCacheFails(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db, "p", map[string]int64{"a": 180000, "b": 165000})
	cache := newMemoryCache()
	cache.failGet = true

	groups, err := NewGrouper(db, cache, time.Minute, quietLogger()).Groups(context.Background())
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}
