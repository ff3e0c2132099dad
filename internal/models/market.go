package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StreetAggregate keeps the running price-per-area mean of one street
type StreetAggregate struct {
	LocationKey string    `gorm:"type:varchar(255);primaryKey" json:"location_key"`
	SampleCount int64     `gorm:"not null;default:0" json:"sample_count"`
	Mean        float64   `gorm:"column:mean_price_per_area;not null;default:0" json:"mean_price_per_area"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (StreetAggregate) TableName() string {
	return "street_aggregates"
}

// DistrictAggregate keeps the running price-per-area mean of one district
type DistrictAggregate struct {
	LocationKey string    `gorm:"type:varchar(255);primaryKey" json:"location_key"`
	SampleCount int64     `gorm:"not null;default:0" json:"sample_count"`
	Mean        float64   `gorm:"column:mean_price_per_area;not null;default:0" json:"mean_price_per_area"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (DistrictAggregate) TableName() string {
	return "district_aggregates"
}

// ComparableLevel says which aggregate a gap was measured against
type ComparableLevel string

const (
	LevelStreet   ComparableLevel = "STREET"
	LevelDistrict ComparableLevel = "DISTRICT"
)

// Confidence tier of a market gap
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
)

// MarketGapRecord is written once per detection and never updated except
// for the notified flag.
type MarketGapRecord struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID      uint64          `gorm:"not null;index" json:"property_id"`
	GapPercentage   float64         `gorm:"not null" json:"gap_percentage"`
	PricePerArea    float64         `gorm:"not null" json:"price_per_area"`
	ComparableMean  float64         `gorm:"not null" json:"comparable_mean"`
	ComparableLevel ComparableLevel `gorm:"type:varchar(10);not null" json:"comparable_level"`
	SampleCount     int64           `gorm:"not null" json:"sample_count"`
	PotentialProfit decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"potential_profit"`
	Confidence      Confidence      `gorm:"type:varchar(10);not null" json:"confidence"`
	DetectedAt      time.Time       `gorm:"not null;index" json:"detected_at"`
	Notified        bool            `gorm:"not null;default:false;index" json:"notified"`
}

func (MarketGapRecord) TableName() string {
	return "market_gaps"
}

// DuplicateMember is one source listing inside a duplicate group
type DuplicateMember struct {
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
	URL        string    `json:"url"`
	Price      int64     `json:"price"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// DuplicateGroup lists every source advertising the same property, cheapest first
type DuplicateGroup struct {
	PropertyID     uint64            `json:"property_id"`
	Slug           string            `json:"slug"`
	City           string            `json:"city"`
	District       string            `json:"district"`
	Rooms          int               `json:"rooms"`
	Area           float64           `json:"area"`
	Members        []DuplicateMember `json:"members"`
	BestPrice      int64             `json:"best_price"`
	WorstPrice     int64             `json:"worst_price"`
	SavingsPercent float64           `json:"savings_percent"`
	CheapestSource string            `json:"cheapest_source"`
}
