package normalizer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

// LocationTier records which fallback produced a location
type LocationTier int

const (
	TierName LocationTier = iota
	TierPostalCode
	TierCapitalized
)

// Location is the parsed address of a listing
type Location struct {
	City       string
	District   string
	Street     string
	PostalCode string
	Tier       LocationTier
}

var (
	postalCodePattern = regexp.MustCompile(`\b(\d{3})\s?(\d{2})\b`)
	houseNumberSuffix = regexp.MustCompile(`[\s,]*\d+[a-zA-Z]?(/\d+[a-zA-Z]?)?\s*$`)
	streetPrefix      = regexp.MustCompile(`(?i)^(ulica|ul\.)\s*`)
)

// ParseLocation resolves city and district from the location field (or the
// title when the field is empty) in three tiers: known name fragments,
// postal code, and finally the first capitalized word.
func ParseLocation(raw, title string, table *config.LocationTable) (Location, *models.FieldError) {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = strings.TrimSpace(title)
	}
	if text == "" {
		return Location{}, validationError("location", raw, "location is empty")
	}

	loc := Location{}
	if m := postalCodePattern.FindStringSubmatch(text); m != nil {
		loc.PostalCode = m[1] + " " + m[2]
	}

	if city, district, ok := matchKnownNames(text, table); ok {
		loc.City, loc.District, loc.Tier = city, district, TierName
	} else if city, ok := table.CityForPostalCode(loc.PostalCode); ok && loc.PostalCode != "" {
		loc.City, loc.Tier = city, TierPostalCode
	} else if token := firstCapitalized(text); token != "" {
		loc.City, loc.Tier = token, TierCapitalized
	} else {
		return Location{}, validationError("location", raw, "no city could be derived")
	}

	loc.Street = extractStreet(raw, loc, table)
	return loc, nil
}

// matchKnownNames looks for city and district fragments. A district name on
// its own is enough to imply its city; the longest district match wins.
func matchKnownNames(text string, table *config.LocationTable) (string, string, bool) {
	folded := " " + wordsOnly(config.Fold(text)) + " "

	var city, district string
	bestDistrictLen := 0
	for _, c := range table.Cities {
		cityHit := false
		for _, name := range append([]string{c.Name}, c.Aliases...) {
			if containsWord(folded, name) {
				cityHit = true
				break
			}
		}

		for _, d := range c.Districts {
			for _, name := range append([]string{d.Name}, d.Aliases...) {
				n := wordsOnly(config.Fold(name))
				if !containsWord(folded, name) || len(n) <= bestDistrictLen {
					continue
				}
				// A district shared by several cities only counts when its
				// city is also named
				if !cityHit && districtIsAmbiguous(d.Name, table) {
					continue
				}
				city, district, bestDistrictLen = c.Name, d.Name, len(n)
			}
		}

		if cityHit && city == "" {
			city = c.Name
		}
		if cityHit && city != c.Name && bestDistrictLen == 0 {
			city = c.Name
		}
	}
	return city, district, city != ""
}

func districtIsAmbiguous(name string, table *config.LocationTable) bool {
	seen := 0
	for _, c := range table.Cities {
		for _, d := range c.Districts {
			if config.Fold(d.Name) == config.Fold(name) {
				seen++
			}
		}
	}
	return seen > 1
}

func containsWord(foldedText, name string) bool {
	n := wordsOnly(config.Fold(name))
	if n == "" {
		return false
	}
	return strings.Contains(foldedText, " "+n+" ")
}

// wordsOnly replaces punctuation with spaces and collapses whitespace
func wordsOnly(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func firstCapitalized(text string) string {
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		r := []rune(word)
		if len(r) > 1 && unicode.IsUpper(r[0]) {
			return word
		}
	}
	return ""
}

// extractStreet returns the first comma separated segment of the location
// that is not the city, the district or a postal code, without its house
// number.
func extractStreet(raw string, loc Location, table *config.LocationTable) string {
	for _, segment := range strings.Split(raw, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" || postalCodePattern.MatchString(segment) && len(strings.Fields(segment)) <= 2 {
			continue
		}
		folded := " " + wordsOnly(config.Fold(segment)) + " "
		if containsWord(folded, loc.City) || (loc.District != "" && containsWord(folded, loc.District)) {
			continue
		}
		if _, _, known := matchKnownNames(segment, table); known {
			continue
		}
		street := streetPrefix.ReplaceAllString(segment, "")
		street = strings.TrimSpace(houseNumberSuffix.ReplaceAllString(street, ""))
		if strings.IndexFunc(street, unicode.IsLetter) < 0 {
			continue
		}
		return street
	}
	return ""
}
