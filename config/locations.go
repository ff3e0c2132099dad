package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v2"
)

// District is a named part of a city
type District struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// City is one entry of the location lookup table
type City struct {
	Name           string     `yaml:"name"`
	Aliases        []string   `yaml:"aliases"`
	PostalPrefixes []string   `yaml:"postal_prefixes"`
	Districts      []District `yaml:"districts"`
}

// LocationTable maps name fragments and postal codes to cities and districts
type LocationTable struct {
	Cities []City `yaml:"cities"`
}

var (
	locations    *LocationTable
	locationLock sync.RWMutex
)

// LoadLocations reads the location table from a YAML file and makes it the
// active table. An empty path activates the built-in table.
func LoadLocations(path string) (*LocationTable, error) {
	if path == "" {
		table := DefaultLocations()
		SetLocations(table)
		return table, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read locations file: %w", err)
	}

	var table LocationTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse locations file: %w", err)
	}
	if len(table.Cities) == 0 {
		return nil, fmt.Errorf("locations file %s defines no cities", path)
	}

	SetLocations(&table)
	return &table, nil
}

// SetLocations replaces the active location table
func SetLocations(table *LocationTable) {
	locationLock.Lock()
	defer locationLock.Unlock()
	locations = table
}

// GetLocations returns the active location table, falling back to the
// built-in one
func GetLocations() *LocationTable {
	locationLock.RLock()
	defer locationLock.RUnlock()
	if locations == nil {
		return DefaultLocations()
	}
	return locations
}

// CityForPostalCode maps a postal code to a city by its longest matching prefix
func (t *LocationTable) CityForPostalCode(postalCode string) (string, bool) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, postalCode)

	best, bestLen := "", 0
	for _, city := range t.Cities {
		for _, prefix := range city.PostalPrefixes {
			if strings.HasPrefix(digits, prefix) && len(prefix) > bestLen {
				best, bestLen = city.Name, len(prefix)
			}
		}
	}
	return best, bestLen > 0
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s and strips diacritics, so "Košice" and "KOSICE" compare equal
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName turns a place name into a stable key: folded, with runs of
// anything but letters and digits collapsed to a single dash
func NormalizeName(name string) string {
	name = strings.ReplaceAll(Fold(name), "'", "")
	return strings.Trim(nonSlugChars.ReplaceAllString(name, "-"), "-")
}

// DefaultLocations returns the built-in table of Slovak cities
func DefaultLocations() *LocationTable {
	return &LocationTable{Cities: []City{
		{
			Name:           "Bratislava",
			Aliases:        []string{"BA", "Pressburg"},
			PostalPrefixes: []string{"81", "82", "83", "84", "85"},
			Districts: []District{
				{Name: "Staré Mesto", Aliases: []string{"Bratislava I"}},
				{Name: "Ružinov", Aliases: []string{"Bratislava II"}},
				{Name: "Vrakuňa"},
				{Name: "Podunajské Biskupice"},
				{Name: "Nové Mesto", Aliases: []string{"Bratislava III"}},
				{Name: "Rača"},
				{Name: "Vajnory"},
				{Name: "Karlova Ves", Aliases: []string{"Bratislava IV"}},
				{Name: "Dúbravka"},
				{Name: "Lamač"},
				{Name: "Devínska Nová Ves"},
				{Name: "Devín"},
				{Name: "Záhorská Bystrica"},
				{Name: "Petržalka", Aliases: []string{"Bratislava V"}},
				{Name: "Jarovce"},
				{Name: "Rusovce"},
				{Name: "Čunovo"},
			},
		},
		{
			Name:           "Košice",
			Aliases:        []string{"KE", "Kassa"},
			PostalPrefixes: []string{"040", "041", "042", "043", "044"},
			Districts: []District{
				{Name: "Staré Mesto"},
				{Name: "Sever"},
				{Name: "Západ", Aliases: []string{"Terasa"}},
				{Name: "Juh"},
				{Name: "Dargovských hrdinov"},
				{Name: "Nad jazerom"},
				{Name: "Sídlisko KVP", Aliases: []string{"KVP"}},
				{Name: "Ťahanovce"},
			},
		},
		{
			Name:           "Žilina",
			PostalPrefixes: []string{"010"},
			Districts: []District{
				{Name: "Staré Mesto"},
				{Name: "Vlčince"},
				{Name: "Hliny"},
				{Name: "Solinky"},
				{Name: "Hájik"},
			},
		},
		{
			Name:           "Prešov",
			PostalPrefixes: []string{"080"},
			Districts: []District{
				{Name: "Sekčov"},
				{Name: "Sídlisko III"},
				{Name: "Šváby"},
			},
		},
		{
			Name:           "Nitra",
			PostalPrefixes: []string{"949", "950"},
			Districts: []District{
				{Name: "Chrenová"},
				{Name: "Klokočina"},
				{Name: "Zobor"},
				{Name: "Diely"},
			},
		},
		{
			Name:           "Banská Bystrica",
			PostalPrefixes: []string{"974", "975"},
			Districts: []District{
				{Name: "Fončorda"},
				{Name: "Sásová"},
				{Name: "Radvaň"},
			},
		},
		{
			Name:           "Trnava",
			PostalPrefixes: []string{"917"},
			Districts: []District{
				{Name: "Družba"},
				{Name: "Linčianska"},
			},
		},
		{
			Name:           "Trenčín",
			PostalPrefixes: []string{"911"},
			Districts: []District{
				{Name: "Juh"},
				{Name: "Sihoť"},
			},
		},
		{Name: "Martin", PostalPrefixes: []string{"036"}},
		{Name: "Poprad", PostalPrefixes: []string{"058"}},
	}}
}
