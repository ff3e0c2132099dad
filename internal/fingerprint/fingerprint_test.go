package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

func listing() *models.StructuredListing {
	floor := 3
	return &models.StructuredListing{
		Source:        "nehnutelnosti",
		ExternalID:    "1",
		Title:         "3-izbový byt",
		City:          "Košice",
		District:      "Staré Mesto",
		Area:          72.3,
		Rooms:         3,
		Floor:         &floor,
		Price:         180000,
		SellerContact: "+421 900 000 000",
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	first := Build(listing())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Build(listing()))
	}
	assert.Len(t, first.Hash, 32)
	assert.Equal(t, "v1|kosice|stare-mesto|72|3|3", first.Key)
}

func TestBuildIgnoresDriftingAttributes(t *testing.T) {
	base := Build(listing())

	tests := []struct {
		name   string
		mutate func(l *models.StructuredListing)
	}{
		{name: "Other source", mutate: func(l *models.StructuredListing) { l.Source = "reality"; l.ExternalID = "XYZ" }},
		{name: "Reworded title", mutate: func(l *models.StructuredListing) { l.Title = "Predaj bytu v centre" }},
		{name: "Other seller", mutate: func(l *models.StructuredListing) { l.SellerContact = "agentura@example.sk" }},
		{name: "Price drop", mutate: func(l *models.StructuredListing) { l.Price = 165000; l.PricePerArea = 2282 }},
		{name: "Price on request", mutate: func(l *models.StructuredListing) { l.Price = models.PriceOnRequest }},
		{name: "Area extraction noise", mutate: func(l *models.StructuredListing) { l.Area = 71.6 }},
		{name: "Diacritics and case", mutate: func(l *models.StructuredListing) { l.City = "KOSICE"; l.District = "stare mesto" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := listing()
			tt.mutate(l)
			assert.Equal(t, base.Hash, Build(l).Hash)
		})
	}
}

func TestBuildSeparatesDifferentUnits(t *testing.T) {
	base := Build(listing())

	other := listing()
	other.Rooms = 2
	assert.NotEqual(t, base.Hash, Build(other).Hash)

	other = listing()
	other.Area = 80
	assert.NotEqual(t, base.Hash, Build(other).Hash)

	other = listing()
	other.Floor = nil
	assert.NotEqual(t, base.Hash, Build(other).Hash)
	assert.Contains(t, Build(other).Key, "|?")
}

func TestBuildKeepsEstimatedAreasApart(t *testing.T) {
	first := listing()
	first.Source, first.ExternalID, first.Area, first.AreaEstimated = "reality", "R-1", 50, true
	second := listing()
	second.Source, second.ExternalID, second.Area, second.AreaEstimated = "bazos", "B-9", 50, true

	assert.NotEqual(t, Build(first).Hash, Build(second).Hash)
	assert.Equal(t, Build(first).Hash, Build(first).Hash)
	assert.Equal(t, "v1|kosice|stare-mesto|50|3|3|est:reality:R-1", Build(first).Key)

	// a measured 50 m2 unit never collides with a default
	measured := listing()
	measured.Area = 50
	assert.NotEqual(t, Build(measured).Hash, Build(first).Hash)
}

func TestPriceBand(t *testing.T) {
	assert.Equal(t, -1, PriceBand(models.PriceOnRequest))
	assert.Equal(t, PriceBand(150000), PriceBand(151000))
	assert.NotEqual(t, PriceBand(100000), PriceBand(200000))
}
