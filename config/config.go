package config

import (
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Port string `env:"PORT" envDefault:"5250"`
		// Comma separated list of allowed CORS origins
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	}

	Database struct {
		// sqlite or postgres
		Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
		DSN    string `env:"DATABASE_DSN" envDefault:"database/srei.db"`
	}

	// BatchProcessing configuration
	BatchProcessing struct {
		// Maximum number of pushed passes waiting to be processed
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"16"`

		// Number of concurrent pass processors
		ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

		// Maximum number of attempts for a single listing when its create races
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// A pass that yields fewer listings than this share of the expected
		// count is treated as a structure change
		MinYieldRatio float64 `env:"BATCH_MIN_YIELD_RATIO" envDefault:"0.1"`
	}

	Normalizer struct {
		MinPrice    int64   `env:"NORMALIZER_MIN_PRICE" envDefault:"10000"`
		MaxPrice    int64   `env:"NORMALIZER_MAX_PRICE" envDefault:"20000000"`
		MinArea     float64 `env:"NORMALIZER_MIN_AREA" envDefault:"10"`
		MaxArea     float64 `env:"NORMALIZER_MAX_AREA" envDefault:"1000"`
		DefaultArea float64 `env:"NORMALIZER_DEFAULT_AREA" envDefault:"50"`
		// Optional YAML file replacing the built-in location table
		LocationsFile string `env:"LOCATIONS_FILE"`
	}

	Resolver struct {
		AreaTolerance         float64 `env:"RESOLVER_AREA_TOLERANCE" envDefault:"0.05"`
		PricePerAreaTolerance float64 `env:"RESOLVER_PPA_TOLERANCE" envDefault:"0.15"`
		AcceptThreshold       float64 `env:"RESOLVER_ACCEPT_THRESHOLD" envDefault:"0.75"`
		AreaWeight            float64 `env:"RESOLVER_AREA_WEIGHT" envDefault:"0.35"`
		PriceWeight           float64 `env:"RESOLVER_PRICE_WEIGHT" envDefault:"0.35"`
		FloorWeight           float64 `env:"RESOLVER_FLOOR_WEIGHT" envDefault:"0.15"`
		DistrictWeight        float64 `env:"RESOLVER_DISTRICT_WEIGHT" envDefault:"0.15"`
		MaxCandidates         int     `env:"RESOLVER_MAX_CANDIDATES" envDefault:"50"`
	}

	MarketGap struct {
		MinStreetSamples int64   `env:"GAP_MIN_STREET_SAMPLES" envDefault:"5"`
		MinGapPercent    float64 `env:"GAP_MIN_PERCENT" envDefault:"15"`
		HighGapPercent   float64 `env:"GAP_HIGH_PERCENT" envDefault:"25"`
		HighMinSamples   int64   `env:"GAP_HIGH_MIN_SAMPLES" envDefault:"10"`
	}

	Liquidity struct {
		// Consecutive complete passes a listing must be missing from
		// before it counts as removed
		MissedPasses int `env:"LIQUIDITY_MISSED_PASSES" envDefault:"1"`
	}

	Scraping struct {
		Command  string   `env:"SCRAPER_COMMAND" envDefault:"python3 scripts/run_spider.py"`
		Sources  []string `env:"SCRAPER_SOURCES" envSeparator:","`
		Schedule string   `env:"SCRAPER_SCHEDULE" envDefault:"@every 1h"`
	}

	Redis struct {
		URL          string `env:"REDIS_URL"`
		DuplicateTTL int    `env:"DUPLICATE_CACHE_TTL_SECONDS" envDefault:"60"`
	}

	Geocoding struct {
		Enabled  bool   `env:"GEOCODING_ENABLED" envDefault:"false"`
		BaseURL  string `env:"GEOCODING_BASE_URL" envDefault:"https://nominatim.openstreetmap.org"`
		CacheDir string `env:"GEOCODING_CACHE_DIR" envDefault:"database/geocode_cache"`
		Country  string `env:"GEOCODING_COUNTRY" envDefault:"sk"`
		// Properties geocoded per backfill run
		BatchSize int `env:"GEOCODING_BATCH_SIZE" envDefault:"100"`
	}

	Telegram struct {
		Enabled  bool   `env:"TELEGRAM_ENABLED" envDefault:"false"`
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
		ChatID   string `env:"TELEGRAM_CHAT_ID"`
		BaseURL  string `env:"TELEGRAM_BASE_URL" envDefault:"https://api.telegram.org"`
	}
}

// LoadConfig reads an optional .env file and parses the environment
func LoadConfig() (*Config, error) {
	// .env is optional, real environment variables win
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied and no
// environment lookups, used by tests.
func Default() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return cfg
}
