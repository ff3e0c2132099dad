package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/kikokaraba/srei-sub000/internal/models"
)

// Location returns the point of a located property
func Location(p *models.Property) (orb.Point, bool) {
	if p == nil || p.Latitude == nil || p.Longitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*p.Longitude, *p.Latitude}, true
}

// WithinRadius reports whether p lies within radiusMeters of center
func WithinRadius(center orb.Point, radiusMeters float64, p orb.Point) bool {
	return geo.DistanceHaversine(center, p) <= radiusMeters
}

// NearbyGaps keeps the gaps whose property lies within radiusMeters of
// center. Gaps of unlocated properties are dropped.
func NearbyGaps(gaps []models.MarketGapRecord, properties map[uint64]*models.Property, center orb.Point, radiusMeters float64) []models.MarketGapRecord {
	nearby := make([]models.MarketGapRecord, 0, len(gaps))
	for _, gap := range gaps {
		point, ok := Location(properties[gap.PropertyID])
		if ok && WithinRadius(center, radiusMeters, point) {
			nearby = append(nearby, gap)
		}
	}
	return nearby
}
