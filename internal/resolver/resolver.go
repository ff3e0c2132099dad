// Package resolver decides whether a structured listing describes a property
// the store already knows.
package resolver

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/fingerprint"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

// Match methods, strongest first
const (
	MethodLink        = "link"
	MethodFingerprint = "fingerprint"
	MethodFuzzy       = "fuzzy"
	MethodNone        = "none"
)

const scoreEpsilon = 1e-9

// Options are the tolerance windows and score weights of the fuzzy tier
type Options struct {
	AreaTolerance         float64
	PricePerAreaTolerance float64
	AcceptThreshold       float64
	AreaWeight            float64
	PriceWeight           float64
	FloorWeight           float64
	DistrictWeight        float64
	MaxCandidates         int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AreaTolerance:         cfg.Resolver.AreaTolerance,
		PricePerAreaTolerance: cfg.Resolver.PricePerAreaTolerance,
		AcceptThreshold:       cfg.Resolver.AcceptThreshold,
		AreaWeight:            cfg.Resolver.AreaWeight,
		PriceWeight:           cfg.Resolver.PriceWeight,
		FloorWeight:           cfg.Resolver.FloorWeight,
		DistrictWeight:        cfg.Resolver.DistrictWeight,
		MaxCandidates:         cfg.Resolver.MaxCandidates,
	}
}

// Match is the outcome of a resolution. Property is nil when Method is
// MethodNone.
type Match struct {
	Property   *models.Property
	Confidence float64
	Method     string
}

func (m Match) Found() bool {
	return m.Property != nil
}

type Resolver struct {
	opts   Options
	logger *logrus.Logger
}

func NewResolver(opts Options, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{opts: opts, logger: logger}
}

// Resolve looks the listing up by its source link, then its fingerprint and
// finally by a bounded similarity search. tx should be the ingest
// transaction so the decision and the write see the same state.
func (r *Resolver) Resolve(tx *gorm.DB, listing *models.StructuredListing, fp fingerprint.Fingerprint) (Match, error) {
	link, err := database.FindLink(tx, listing.Source, listing.ExternalID)
	if err != nil {
		return Match{}, err
	}
	if link != nil {
		property, err := database.FindPropertyByID(tx, link.PropertyID)
		if err != nil {
			return Match{}, err
		}
		if property != nil {
			return Match{Property: property, Confidence: 1, Method: MethodLink}, nil
		}
	}

	property, err := database.FindPropertyByFingerprint(tx, fp.Hash)
	if err != nil {
		return Match{}, err
	}
	if property != nil {
		return Match{Property: property, Confidence: 1, Method: MethodFingerprint}, nil
	}

	return r.fuzzy(tx, listing)
}

func (r *Resolver) fuzzy(tx *gorm.DB, listing *models.StructuredListing) (Match, error) {
	// Without a price, a measured area or a room count the windows are meaningless
	if !listing.HasPrice() || listing.Area <= 0 || listing.AreaEstimated || listing.Rooms <= 0 {
		return Match{Method: MethodNone}, nil
	}

	areaSpan := listing.Area * r.opts.AreaTolerance
	ppaSpan := listing.PricePerArea * r.opts.PricePerAreaTolerance
	candidates, err := database.FindCandidates(tx, database.CandidateQuery{
		City:            listing.City,
		District:        listing.District,
		Rooms:           listing.Rooms,
		MinArea:         listing.Area - areaSpan,
		MaxArea:         listing.Area + areaSpan,
		MinPricePerArea: listing.PricePerArea - ppaSpan,
		MaxPricePerArea: listing.PricePerArea + ppaSpan,
		TargetArea:      listing.Area,
		ExcludeSource:   listing.Source,
		Limit:           r.opts.MaxCandidates,
	})
	if err != nil {
		return Match{}, fmt.Errorf("failed to resolve %s/%s: %w", listing.Source, listing.ExternalID, err)
	}

	var best *models.Property
	bestScore := -1.0
	for i := range candidates {
		candidate := &candidates[i]
		score := r.Score(listing, candidate)
		if best == nil || score > bestScore+scoreEpsilon ||
			(math.Abs(score-bestScore) <= scoreEpsilon && fresher(candidate, best)) {
			best, bestScore = candidate, score
		}
	}

	if best == nil || bestScore < r.opts.AcceptThreshold {
		if best != nil {
			r.logger.WithFields(logrus.Fields{
				"source":      listing.Source,
				"external_id": listing.ExternalID,
				"candidate":   best.ID,
				"score":       bestScore,
			}).Debug("Best candidate below acceptance threshold")
		}
		return Match{Method: MethodNone}, nil
	}
	return Match{Property: best, Confidence: bestScore, Method: MethodFuzzy}, nil
}

// Score is the weighted similarity of a listing and a property in [0, 1].
// An attribute unknown on either side contributes half its weight. Floors
// known on both sides that differ rule the property out.
func (r *Resolver) Score(listing *models.StructuredListing, property *models.Property) float64 {
	total := r.opts.AreaWeight + r.opts.PriceWeight + r.opts.FloorWeight + r.opts.DistrictWeight
	if total <= 0 {
		return 0
	}
	if listing.Floor != nil && property.Floor != nil && *listing.Floor != *property.Floor {
		return 0
	}

	area := closeness(listing.Area, property.Area, r.opts.AreaTolerance)
	price := closeness(listing.PricePerArea, property.PricePerArea, r.opts.PricePerAreaTolerance)

	floor := 0.5
	if listing.Floor != nil && property.Floor != nil {
		floor = 1
	}

	district := 0.5
	if listing.District != "" && property.District != "" {
		district = equality(config.NormalizeName(listing.District) == config.NormalizeName(property.District))
	}

	return (r.opts.AreaWeight*area + r.opts.PriceWeight*price +
		r.opts.FloorWeight*floor + r.opts.DistrictWeight*district) / total
}

// closeness is 1 for equal values falling linearly to 0 at the edge of the
// tolerance window around ref
func closeness(ref, value, tolerance float64) float64 {
	if ref <= 0 || value <= 0 {
		return 0.5
	}
	if tolerance <= 0 {
		return equality(ref == value)
	}
	c := 1 - math.Abs(ref-value)/(tolerance*ref)
	return math.Max(0, math.Min(1, c))
}

func equality(equal bool) float64 {
	if equal {
		return 1
	}
	return 0
}

func fresher(a, b *models.Property) bool {
	if a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.ID > b.ID
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}
