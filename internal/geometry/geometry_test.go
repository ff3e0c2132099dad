package geometry

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

func TestConvexHull(t *testing.T) {
	tests := []struct {
		name   string
		points []orb.Point
		want   int // ring length including the closing point, 0 for nil
	}{
		{name: "too few", points: []orb.Point{{0, 0}, {1, 1}}},
		{name: "collinear", points: []orb.Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}}},
		{name: "duplicates only", points: []orb.Point{{1, 1}, {1, 1}, {1, 1}}},
		{name: "triangle", points: []orb.Point{{0, 0}, {2, 0}, {1, 2}}, want: 4},
		{name: "square with inner points", points: []orb.Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {1, 1}, {0.5, 1.5}}, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hull := ConvexHull(tt.points)
			if tt.want == 0 {
				assert.Nil(t, hull)
				return
			}
			require.Len(t, hull, tt.want)
			assert.True(t, hull.Closed())
			assert.Equal(t, orb.CCW, hull.Orientation())
			for _, p := range tt.points {
				assert.True(t, planar.RingContains(Buffer(hull, 0.01), p))
			}
		})
	}
}

func TestWithinRadius(t *testing.T) {
	// Hlavná, Košice
	center := orb.Point{21.2581, 48.7206}
	tests := []struct {
		name  string
		point orb.Point
		want  bool
	}{
		{name: "same spot", point: center, want: true},
		{name: "about 550 m north", point: orb.Point{21.2581, 48.7256}, want: true},
		{name: "about 11 km north", point: orb.Point{21.2581, 48.8206}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinRadius(center, 1000, tt.point))
		})
	}
}

func TestNearbyGaps(t *testing.T) {
	lat, lng := 48.7206, 21.2581
	farLat := 48.9
	properties := map[uint64]*models.Property{
		1: {ID: 1, Latitude: &lat, Longitude: &lng},
		2: {ID: 2, Latitude: &farLat, Longitude: &lng},
		3: {ID: 3},
	}
	gaps := []models.MarketGapRecord{{ID: 10, PropertyID: 1}, {ID: 11, PropertyID: 2}, {ID: 12, PropertyID: 3}, {ID: 13, PropertyID: 4}}

	nearby := NearbyGaps(gaps, properties, orb.Point{lng, lat}, 500)
	require.Len(t, nearby, 1)
	assert.Equal(t, uint64(10), nearby[0].ID)
}

func TestDistrictHulls(t *testing.T) {
	d, err := database.NewTestDB()
	require.NoError(t, err)
	defer d.Close()
	db := d.GetDB()

	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	located := func(fp, city, district string, lat, lng float64) {
		require.NoError(t, database.CreateProperty(db, &models.Property{
			Slug: fp, Fingerprint: fp, City: city, District: district, Area: 50, Rooms: 2,
			Price: 100000, Status: models.StatusActive, FirstListedAt: now, LastSeenAt: now,
			Latitude: &lat, Longitude: &lng,
		}))
	}
	located("a", "Košice", "Staré Mesto", 48.720, 21.250)
	located("b", "Košice", "Staré Mesto", 48.725, 21.262)
	located("c", "Košice", "Staré Mesto", 48.716, 21.266)
	located("d", "Košice", "Západ", 48.710, 21.220)
	located("e", "Prešov", "Sekčov", 49.000, 21.240)
	located("f", "Prešov", "Sekčov", 49.004, 21.250)
	located("g", "Prešov", "Sekčov", 48.996, 21.255)
	require.NoError(t, database.IncrementDistrictAggregate(db, "kosice|stare-mesto", 2400, now))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	fc, err := NewDistrictManager(db, logger).DistrictHulls(context.Background(), "kosice")
	require.NoError(t, err)

	// Západ has a single point and gets no hull
	require.Len(t, fc.Features, 1)
	feature := fc.Features[0]
	assert.Equal(t, "Staré Mesto", feature.Properties["district"])
	assert.Equal(t, 3, feature.Properties["point_count"])
	assert.Equal(t, 2400.0, feature.Properties["mean_price_per_area"])
	_, ok := feature.Geometry.(orb.Polygon)
	assert.True(t, ok)

	raw, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"FeatureCollection"`)
	assert.Contains(t, string(raw), `"districts":1`)
}
