package geometry

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/aggregator"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

// hull padding in degrees, roughly 100 m
const bufferDistance = 0.001

type District struct {
	Key    string
	Name   string
	City   string
	Points []orb.Point
	Hull   *geojson.Feature
}

// DistrictManager draws district outlines from the coordinates of the
// properties listed in them
type DistrictManager struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewDistrictManager(db *gorm.DB, logger *logrus.Logger) *DistrictManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &DistrictManager{
		db:     db,
		logger: logger,
	}
}

// DistrictHulls returns one polygon feature per district of city that has
// at least three distinct located properties, annotated with the district's
// running price per m2
func (dm *DistrictManager) DistrictHulls(ctx context.Context, city string) (*geojson.FeatureCollection, error) {
	db := dm.db.WithContext(ctx)
	properties, err := database.PropertiesWithCoordinates(db, "")
	if err != nil {
		return nil, err
	}

	wanted := config.NormalizeName(city)
	districts := make(map[string]*District)
	for _, p := range properties {
		if wanted != "" && config.NormalizeName(p.City) != wanted {
			continue
		}
		key := aggregator.DistrictKey(p.City, p.District)
		d, ok := districts[key]
		if !ok {
			d = &District{Key: key, Name: p.District, City: p.City}
			districts[key] = d
		}
		d.Points = append(d.Points, orb.Point{*p.Longitude, *p.Latitude})
	}

	prefix := ""
	if wanted != "" {
		prefix = aggregator.CityPrefix(city)
	}
	aggregates, err := database.DistrictAggregatesWithPrefix(db, prefix)
	if err != nil {
		return nil, err
	}
	means := make(map[string]models.DistrictAggregate, len(aggregates))
	for _, agg := range aggregates {
		means[agg.LocationKey] = agg
	}

	keys := make([]string, 0, len(districts))
	for key := range districts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fc := geojson.NewFeatureCollection()
	for _, key := range keys {
		d := districts[key]
		hull := ConvexHull(d.Points)
		if hull == nil {
			dm.logger.WithFields(logrus.Fields{
				"district": key,
				"points":   len(d.Points),
			}).Debug("Not enough points for district hull")
			continue
		}

		feature := geojson.NewFeature(orb.Polygon{Buffer(hull, bufferDistance)})
		feature.Properties = geojson.Properties{
			"key":         d.Key,
			"district":    d.Name,
			"city":        d.City,
			"point_count": len(d.Points),
			"hull_type":   "convex",
		}
		if agg, ok := means[key]; ok {
			feature.Properties["mean_price_per_area"] = agg.Mean
			feature.Properties["sample_count"] = agg.SampleCount
		}
		d.Hull = feature
		fc.Append(feature)
	}

	fc.ExtraMembers = geojson.Properties{
		"generated": time.Now().UTC().Format(time.RFC3339),
		"city":      city,
		"districts": len(fc.Features),
	}
	return fc, nil
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// ConvexHull returns the closed counter-clockwise hull of points, or nil
// when fewer than three points are not collinear
func ConvexHull(points []orb.Point) orb.Ring {
	pts := make([]orb.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})

	unique := pts[:0]
	for i, p := range pts {
		if i == 0 || !p.Equal(pts[i-1]) {
			unique = append(unique, p)
		}
	}
	pts = unique
	if len(pts) < 3 {
		return nil
	}

	hull := make([]orb.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// The last point repeats the first, closing the ring
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}

// Buffer pushes every vertex of a closed ring away from its centroid by
// distance
func Buffer(ring orb.Ring, distance float64) orb.Ring {
	if len(ring) < 4 {
		return ring
	}
	var cx, cy float64
	n := len(ring) - 1
	for _, p := range ring[:n] {
		cx += p[0]
		cy += p[1]
	}
	cx /= float64(n)
	cy /= float64(n)

	out := make(orb.Ring, 0, len(ring))
	for _, p := range ring[:n] {
		dx, dy := p[0]-cx, p[1]-cy
		length := dx*dx + dy*dy
		if length == 0 {
			out = append(out, p)
			continue
		}
		scale := distance / math.Sqrt(length)
		out = append(out, orb.Point{p[0] + dx*scale, p[1] + dy*scale})
	}
	return append(out, out[0])
}
