// Package duplicates groups the source listings that resolved to the same
// property so the cheapest source can be shown. It never writes to the store.
package duplicates

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

const cacheKey = "srei:duplicate-groups"

// Cache stores the serialized groups for a short time
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Grouper struct {
	db     *gorm.DB
	cache  Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewGrouper creates a grouper. cache may be nil, groups are then computed
// on every call.
func NewGrouper(db *gorm.DB, cache Cache, ttl time.Duration, logger *logrus.Logger) *Grouper {
	if logger == nil {
		logger = logrus.New()
	}
	return &Grouper{db: db, cache: cache, ttl: ttl, logger: logger}
}

// Groups returns every property advertised by more than one active listing,
// largest savings first. Cache failures fall back to the store.
func (g *Grouper) Groups(ctx context.Context) ([]models.DuplicateGroup, error) {
	if g.cache != nil {
		cached, ok, err := g.cache.Get(ctx, cacheKey)
		if err != nil {
			g.logger.WithError(err).Warn("Duplicate group cache read failed")
		} else if ok {
			var groups []models.DuplicateGroup
			if err := json.Unmarshal(cached, &groups); err == nil {
				return groups, nil
			}
		}
	}

	groups, err := g.compute(ctx)
	if err != nil {
		return nil, err
	}

	if g.cache != nil && g.ttl > 0 {
		if payload, err := json.Marshal(groups); err == nil {
			if err := g.cache.Set(ctx, cacheKey, payload, g.ttl); err != nil {
				g.logger.WithError(err).Warn("Duplicate group cache write failed")
			}
		}
	}
	return groups, nil
}

func (g *Grouper) compute(ctx context.Context) ([]models.DuplicateGroup, error) {
	db := g.db.WithContext(ctx)
	links, err := database.DuplicateLinks(db)
	if err != nil {
		return nil, err
	}

	byProperty := make(map[uint64][]models.SourceListingLink)
	ids := make([]uint64, 0)
	for _, link := range links {
		if _, ok := byProperty[link.PropertyID]; !ok {
			ids = append(ids, link.PropertyID)
		}
		byProperty[link.PropertyID] = append(byProperty[link.PropertyID], link)
	}

	properties, err := database.FindPropertiesByIDs(db, ids)
	if err != nil {
		return nil, err
	}

	groups := make([]models.DuplicateGroup, 0, len(ids))
	for _, id := range ids {
		property, ok := properties[id]
		if !ok {
			continue
		}
		groups = append(groups, Build(property, byProperty[id]))
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].SavingsPercent != groups[j].SavingsPercent {
			return groups[i].SavingsPercent > groups[j].SavingsPercent
		}
		return groups[i].PropertyID < groups[j].PropertyID
	})
	return groups, nil
}

// Build ranks the links of one property by price. Listings without a price
// go last and are ignored for best/worst.
func Build(property *models.Property, links []models.SourceListingLink) models.DuplicateGroup {
	group := models.DuplicateGroup{
		PropertyID: property.ID,
		Slug:       property.Slug,
		City:       property.City,
		District:   property.District,
		Rooms:      property.Rooms,
		Area:       property.Area,
		Members:    make([]models.DuplicateMember, 0, len(links)),
	}

	for _, link := range links {
		group.Members = append(group.Members, models.DuplicateMember{
			Source:     link.Source,
			ExternalID: link.ExternalID,
			URL:        link.URL,
			Price:      link.Price,
			LastSeenAt: link.LastSeenAt,
		})
	}
	sort.SliceStable(group.Members, func(i, j int) bool {
		a, b := group.Members[i], group.Members[j]
		if (a.Price > 0) != (b.Price > 0) {
			return a.Price > 0
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.Source < b.Source
	})

	for _, m := range group.Members {
		if m.Price <= 0 {
			continue
		}
		if group.BestPrice == 0 || m.Price < group.BestPrice {
			group.BestPrice = m.Price
			group.CheapestSource = m.Source
		}
		if m.Price > group.WorstPrice {
			group.WorstPrice = m.Price
		}
	}

	if group.WorstPrice > 0 {
		worst := decimal.NewFromInt(group.WorstPrice)
		savings := worst.Sub(decimal.NewFromInt(group.BestPrice)).Div(worst).Mul(decimal.NewFromInt(100))
		group.SavingsPercent = savings.Round(2).InexactFloat64()
	}
	return group
}
