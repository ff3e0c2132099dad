package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "kosice|hlavna", StreetKey("Košice", "Hlavná"))
	assert.Equal(t, "", StreetKey("Košice", ""))
	assert.Equal(t, "kosice|stare-mesto", DistrictKey("KOŠICE", "Staré  Mesto"))
	assert.Equal(t, "kosice|*", DistrictKey("Košice", ""))
	assert.Equal(t, "", DistrictKey("", "Juh"))
	assert.Equal(t, "kosice|", CityPrefix("Košice"))
}

func TestObserve(t *testing.T) {
	d, err := database.NewTestDB()
	require.NoError(t, err)
	defer d.Close()
	db := d.GetDB()

	a := NewAggregator(nil)
	now := time.Now().UTC()

	for _, ppa := range []float64{1800, 2200, 2000} {
		require.NoError(t, a.Observe(db, &models.Property{
			City: "Košice", District: "Juh", Street: "Hlavná",
			Price: int64(ppa * 50), PricePerArea: ppa,
		}, now))
	}
	// No price, no sample
	require.NoError(t, a.Observe(db, &models.Property{
		City: "Košice", District: "Juh", Street: "Hlavná", Price: models.PriceOnRequest,
	}, now))
	// Unknown street still counts for the district
	require.NoError(t, a.Observe(db, &models.Property{
		City: "Košice", District: "Juh", Price: 120000, PricePerArea: 3000,
	}, now))

	street, err := database.GetStreetAggregate(db, "kosice|hlavna")
	require.NoError(t, err)
	assert.Equal(t, int64(3), street.SampleCount)
	assert.InDelta(t, 2000.0, street.Mean, 1e-6)

	district, err := database.GetDistrictAggregate(db, "kosice|juh")
	require.NoError(t, err)
	assert.Equal(t, int64(4), district.SampleCount)
	assert.InDelta(t, 2250.0, district.Mean, 1e-6)
}
