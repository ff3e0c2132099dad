// Package fingerprint derives the content identity of a listing. Two scrapes
// of the same unit collide regardless of title wording, seller, source or
// asking price.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

// Version prefixes every key so a change to the recipe never collides with
// fingerprints written by an older one
const Version = "v1"

const unknown = "?"

// Fingerprint is the identity of a physical unit plus a coarse price signal
// that is not part of the identity
type Fingerprint struct {
	Key       string
	Hash      string
	PriceBand int
}

// Build computes the fingerprint of a structured listing. An estimated area
// says nothing about the unit, so such a listing is only ever identical to
// itself.
func Build(l *models.StructuredListing) Fingerprint {
	key := Key(l.City, l.District, l.Area, l.Rooms, l.Floor)
	if l.AreaEstimated {
		key += "|est:" + l.Source + ":" + l.ExternalID
	}
	sum := sha256.Sum256([]byte(key))
	return Fingerprint{
		Key:       key,
		Hash:      hex.EncodeToString(sum[:])[:32],
		PriceBand: PriceBand(l.Price),
	}
}

// Key is the canonical, human readable form that gets hashed
func Key(city, district string, area float64, rooms int, floor *int) string {
	parts := []string{
		Version,
		config.NormalizeName(city),
		config.NormalizeName(district),
		strconv.FormatInt(int64(math.Round(area)), 10),
	}
	if rooms > 0 {
		parts = append(parts, strconv.Itoa(rooms))
	} else {
		parts = append(parts, unknown)
	}
	if floor != nil {
		parts = append(parts, strconv.Itoa(*floor))
	} else {
		parts = append(parts, unknown)
	}
	return strings.Join(parts, "|")
}

// PriceBand buckets a price on a log scale, roughly 10% wide. The sentinel
// for price on request maps to -1.
func PriceBand(price int64) int {
	if price <= 0 {
		return -1
	}
	return int(math.Floor(math.Log(float64(price)) / math.Log(1.1)))
}
