package models

import (
	"time"

	"gorm.io/datatypes"
)

// PropertyStatus is the lifecycle state of a canonical property
type PropertyStatus string

const (
	StatusActive  PropertyStatus = "ACTIVE"
	StatusRemoved PropertyStatus = "REMOVED"
)

// Property is the canonical record of one physical unit, regardless of how
// many portals advertise it.
type Property struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug        string `gorm:"type:varchar(160);not null;uniqueIndex" json:"slug"`
	Fingerprint string `gorm:"type:varchar(64);not null;uniqueIndex" json:"fingerprint"`

	Price        int64   `gorm:"not null" json:"price"`
	PricePerArea float64 `gorm:"not null" json:"price_per_area"`

	City       string `gorm:"type:varchar(100);not null;index:idx_properties_location" json:"city"`
	District   string `gorm:"type:varchar(100);index:idx_properties_location" json:"district"`
	Street     string `gorm:"type:varchar(160)" json:"street"`
	PostalCode string `gorm:"type:varchar(10)" json:"postal_code"`

	Area              float64        `gorm:"not null" json:"area"`
	AreaEstimated     bool           `gorm:"not null;default:false" json:"area_estimated"`
	Rooms             int            `gorm:"not null;index" json:"rooms"`
	Floor             *int           `json:"floor"`
	Condition         Condition      `gorm:"type:varchar(30)" json:"condition"`
	EnergyCertificate EnergyClass    `gorm:"type:varchar(10)" json:"energy_certificate"`
	Heating           Heating        `gorm:"type:varchar(30)" json:"heating"`
	Amenities         datatypes.JSON `json:"amenities"`
	Title             string         `gorm:"type:text" json:"title"`

	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	Status         PropertyStatus `gorm:"type:varchar(10);not null;index;default:'ACTIVE'" json:"status"`
	FirstListedAt  time.Time      `gorm:"not null" json:"first_listed_at"`
	LastSeenAt     time.Time      `json:"last_seen_at"`
	DaysOnMarket   int            `gorm:"not null;default:0" json:"days_on_market"`
	RemovedAt      *time.Time     `json:"removed_at"`
	RelistCount    int            `gorm:"not null;default:0" json:"relist_count"`
	IsPriceAnomaly bool           `gorm:"not null;default:false" json:"is_price_anomaly"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Property) TableName() string {
	return "properties"
}

// HasPrice reports whether the property carries a numeric asking price
func (p *Property) HasPrice() bool {
	return p.Price > 0
}

// SourceListingLink ties one portal listing to the property it resolved to.
// A (source, external id) pair belongs to at most one property.
type SourceListingLink struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID    uint64    `gorm:"not null;index" json:"property_id"`
	Source        string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_links_source_external" json:"source"`
	ExternalID    string    `gorm:"type:varchar(120);not null;uniqueIndex:idx_links_source_external" json:"external_id"`
	URL           string    `gorm:"type:text" json:"url"`
	Price         int64     `gorm:"not null" json:"price"`
	SellerContact string    `gorm:"type:varchar(200)" json:"seller_contact"`
	Active        bool      `gorm:"not null;default:true;index" json:"active"`
	MissedPasses  int       `gorm:"not null;default:0" json:"missed_passes"`
	FirstSeenAt   time.Time `gorm:"not null" json:"first_seen_at"`
	LastSeenAt    time.Time `gorm:"not null;index" json:"last_seen_at"`
}

func (SourceListingLink) TableName() string {
	return "source_listing_links"
}

// PriceHistoryEntry is append-only.
type PriceHistoryEntry struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID   uint64    `gorm:"not null;index:idx_price_history_property_time" json:"property_id"`
	Price        int64     `gorm:"not null" json:"price"`
	PricePerArea float64   `gorm:"not null" json:"price_per_area"`
	Source       string    `gorm:"type:varchar(50)" json:"source"`
	RecordedAt   time.Time `gorm:"not null;index:idx_price_history_property_time" json:"recorded_at"`
}

func (PriceHistoryEntry) TableName() string {
	return "price_history"
}

// EventType names an entry in a property's timeline
type EventType string

const (
	EventListed        EventType = "LISTED"
	EventPriceDrop     EventType = "PRICE_DROP"
	EventPriceIncrease EventType = "PRICE_INCREASE"
	EventRelisted      EventType = "RELISTED"
	EventRemoved       EventType = "REMOVED"
)

// PropertyEvent stores lifecycle transitions. Price events are derived from
// the price history and are not stored here.
type PropertyEvent struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID    uint64    `gorm:"not null;index" json:"property_id"`
	Type          EventType `gorm:"type:varchar(20);not null" json:"type"`
	Source        string    `gorm:"type:varchar(50)" json:"source,omitempty"`
	Price         int64     `json:"price,omitempty"`
	DaysOnMarket  int       `json:"days_on_market,omitempty"`
	DaysOffMarket int       `json:"days_off_market,omitempty"`
	OccurredAt    time.Time `gorm:"not null;index" json:"occurred_at"`
}

func (PropertyEvent) TableName() string {
	return "property_events"
}
