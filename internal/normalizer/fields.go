package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/models"
)

var (
	// Phrases sellers use instead of a number
	priceOnRequestPattern = regexp.MustCompile(`(?i)(cena\s+dohodou|na\s+vyziadanie|cena\s+v\s+rk|info\s+v\s+rk|price\s+on\s+request|on\s+request|dohodou)`)
	// Trailing cents such as "149 900,00 €" or "149900.50"
	centsPattern = regexp.MustCompile(`[.,]\d{2}\s*(€|eur|,-)?\s*$`)
	digitsOnly   = regexp.MustCompile(`\D`)

	areaPattern   = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(m2|m²|m\^2|sqm|sq\.?\s*m|metrov\s+stvorcovych|m\b)`)
	numberPattern = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*$`)

	roomsPattern  = regexp.MustCompile(`(?i)(\d+)\s*[- ]?\s*(izbov\w*|izb\w*|room\w*)`)
	studioPattern = regexp.MustCompile(`(?i)\b(garson\w*|studio|1\s*\+\s*kk)\b`)

	floorNumberPattern = regexp.MustCompile(`(?i)(\d+)\s*\.?\s*(poschod\w*|podlazi\w*|floor)`)
	floorWordPattern   = regexp.MustCompile(`(?i)(?:poschodie|podlazie|floor)\s*:?\s*(\d+)`)
	groundFloorPattern = regexp.MustCompile(`(?i)\b(prizemi\w*|ground\s+floor)\b`)
	// "2/8", "3 z 7", "4 of 10" in a dedicated floor field
	floorFieldPattern = regexp.MustCompile(`^\s*(-?\d+)\s*(?:/|z\b|of\b|\.)`)
)

// StripHTML returns the visible text of a scraped fragment with whitespace
// collapsed. Plain text passes through unchanged.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ParsePrice extracts an integer price. "Price on request" phrases yield the
// PriceOnRequest sentinel. Empty or digit-free input is a parse error; a
// number outside [min, max] is a validation error.
func ParsePrice(raw string, min, max int64) (int64, *models.FieldError) {
	folded := config.Fold(raw)
	if folded == "" {
		return models.PriceOnRequest, parseError("price", raw, "price is empty")
	}
	if priceOnRequestPattern.MatchString(folded) {
		return models.PriceOnRequest, nil
	}

	cleaned := centsPattern.ReplaceAllString(folded, "")
	digits := digitsOnly.ReplaceAllString(cleaned, "")
	if digits == "" {
		return models.PriceOnRequest, parseError("price", raw, "no digits in price")
	}
	if len(digits) > 15 {
		return 0, validationError("price", raw, "price is implausibly large")
	}

	price, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return models.PriceOnRequest, parseError("price", raw, err.Error())
	}
	if price < min {
		return 0, validationError("price", raw, fmt.Sprintf("price %d below minimum %d", price, min))
	}
	if price > max {
		return 0, validationError("price", raw, fmt.Sprintf("price %d above maximum %d", price, max))
	}
	return price, nil
}

// ParseArea extracts the first "<number> <unit>" token. A bare number is
// accepted when it is the whole field. Nothing usable is a parse error, a
// value outside [min, max] a validation error.
func ParseArea(raw string, min, max float64) (float64, *models.FieldError) {
	folded := config.Fold(raw)

	var number string
	if m := areaPattern.FindStringSubmatch(folded); m != nil {
		number = m[1]
	} else if m := numberPattern.FindStringSubmatch(folded); m != nil {
		number = m[1]
	} else {
		return 0, parseError("area", raw, "no area token found")
	}

	area, err := strconv.ParseFloat(strings.Replace(number, ",", ".", 1), 64)
	if err != nil {
		return 0, parseError("area", raw, err.Error())
	}
	if area < min || area > max {
		return 0, validationError("area", raw, fmt.Sprintf("area %.1f outside plausible range %.0f-%.0f", area, min, max))
	}
	return area, nil
}

// ParseRooms reads the explicit rooms field or, failing that, "3-izbový"
// style phrases from the text. Studios count as one room. Unknown is 0.
func ParseRooms(raw, text string) (int, *models.FieldError) {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 && n < 50 {
		return n, nil
	}
	for _, candidate := range []string{raw, text} {
		folded := config.Fold(candidate)
		if m := roomsPattern.FindStringSubmatch(folded); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 50 {
				return n, nil
			}
		}
		if studioPattern.MatchString(folded) {
			return 1, nil
		}
	}
	return 0, parseError("rooms", raw, "room count not found")
}

// ParseFloor returns nil when the floor is unknown. Ground floor is 0.
func ParseFloor(raw, text string) (*int, *models.FieldError) {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= -2 && n < 200 {
		return &n, nil
	}
	if m := floorFieldPattern.FindStringSubmatch(config.Fold(raw)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= -2 && n < 200 {
			return &n, nil
		}
	}
	for _, candidate := range []string{raw, text} {
		folded := config.Fold(candidate)
		if groundFloorPattern.MatchString(folded) {
			zero := 0
			return &zero, nil
		}
		for _, pattern := range []*regexp.Regexp{floorNumberPattern, floorWordPattern} {
			if m := pattern.FindStringSubmatch(folded); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil && n < 200 {
					return &n, nil
				}
			}
		}
	}
	if strings.TrimSpace(raw) != "" {
		return nil, parseError("floor", raw, "unrecognised floor")
	}
	return nil, nil
}
