package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoResult is returned when Nominatim knows no place for an address
var ErrNoResult = errors.New("no geocoding result")

const cacheFileName = "geocode_cache.json"

// Geocoder resolves street addresses to coordinates through a Nominatim
// compatible search endpoint. Results are cached on disk.
type Geocoder struct {
	logger   *logrus.Logger
	client   *http.Client
	baseURL  string
	country  string
	cacheDir string

	cacheLock sync.RWMutex
	cache     map[string][]float64

	// Nominatim allows one request per second
	rateLock    sync.Mutex
	interval    time.Duration
	lastRequest time.Time
}

func NewGeocoder(baseURL, country, cacheDir string, logger *logrus.Logger) *Geocoder {
	if logger == nil {
		logger = logrus.New()
	}
	g := &Geocoder{
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		country:  country,
		cacheDir: cacheDir,
		cache:    make(map[string][]float64),
		interval: time.Second,
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
		g.loadCache()
	}
	return g
}

func (g *Geocoder) loadCache() {
	data, err := os.ReadFile(filepath.Join(g.cacheDir, cacheFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.WithError(err).Warn("Could not load geocode cache")
		}
		return
	}
	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.WithError(err).Error("Failed to parse geocode cache")
		return
	}
	g.logger.Infof("Loaded %d cached addresses", len(g.cache))
}

func (g *Geocoder) saveCache() error {
	if g.cacheDir == "" {
		return nil
	}
	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal geocode cache: %w", err)
	}

	tmp := filepath.Join(g.cacheDir, cacheFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	return os.Rename(tmp, filepath.Join(g.cacheDir, cacheFileName))
}

func cacheKey(street, postalCode, city string) string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s", street, postalCode, city))
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// wait blocks until the next request is allowed
func (g *Geocoder) wait(ctx context.Context) error {
	g.rateLock.Lock()
	defer g.rateLock.Unlock()

	if delay := g.interval - time.Since(g.lastRequest); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.lastRequest = time.Now()
	return nil
}

// GeocodeAddress returns the latitude and longitude of an address
func (g *Geocoder) GeocodeAddress(ctx context.Context, street, postalCode, city string) (float64, float64, error) {
	key := cacheKey(street, postalCode, city)

	g.cacheLock.RLock()
	coords, ok := g.cache[key]
	g.cacheLock.RUnlock()
	if ok && len(coords) == 2 {
		return coords[0], coords[1], nil
	}

	parts := []string{street}
	if postalCode != "" {
		parts = append(parts, postalCode)
	}
	parts = append(parts, city)
	fullAddress := strings.Join(parts, ", ")

	if err := g.wait(ctx); err != nil {
		return 0, 0, err
	}

	params := url.Values{
		"q":      []string{fullAddress},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}
	if g.country != "" {
		params.Set("countrycodes", g.country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "srei-market-monitor/1.0")
	req.Header.Set("Accept-Language", "sk,en;q=0.8")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocoding request failed with status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, 0, fmt.Errorf("failed to parse geocoding response: %w", err)
	}
	if len(result) == 0 {
		return 0, 0, fmt.Errorf("%w for %q", ErrNoResult, fullAddress)
	}

	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", result[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", result[0].Lon, err)
	}

	g.logger.WithFields(logrus.Fields{
		"address":   fullAddress,
		"latitude":  lat,
		"longitude": lng,
	}).Debug("Geocoded address")

	g.cacheLock.Lock()
	g.cache[key] = []float64{lat, lng}
	g.cacheLock.Unlock()

	if err := g.saveCache(); err != nil {
		g.logger.WithError(err).Warn("Failed to save geocode cache")
	}
	return lat, lng, nil
}
