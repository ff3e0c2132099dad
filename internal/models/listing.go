package models

import "time"

// PriceOnRequest marks a listing whose seller withholds the price. It is
// negative so it can never be confused with an unparsed zero.
const PriceOnRequest int64 = -1

// Condition is the construction state of a unit
type Condition string

const (
	ConditionNewBuild  Condition = "NEW_BUILD"
	ConditionRenovated Condition = "RENOVATED"
	ConditionOriginal  Condition = "ORIGINAL"
	ConditionUnknown   Condition = "UNKNOWN"
)

// EnergyClass is the energy-performance certificate class
type EnergyClass string

const (
	EnergyA0      EnergyClass = "A0"
	EnergyA1      EnergyClass = "A1"
	EnergyA       EnergyClass = "A"
	EnergyB       EnergyClass = "B"
	EnergyC       EnergyClass = "C"
	EnergyD       EnergyClass = "D"
	EnergyE       EnergyClass = "E"
	EnergyF       EnergyClass = "F"
	EnergyG       EnergyClass = "G"
	EnergyNone    EnergyClass = "NONE"
	EnergyUnknown EnergyClass = "UNKNOWN"
)

// Heating is the heating system of a unit
type Heating string

const (
	HeatingHeatPump Heating = "HEAT_PUMP"
	HeatingGas      Heating = "GAS"
	HeatingCentral  Heating = "CENTRAL"
	HeatingElectric Heating = "ELECTRIC"
	HeatingSolid    Heating = "SOLID_FUEL"
	HeatingUnknown  Heating = "UNKNOWN"
)

// Amenities are the boolean features extracted from listing text
type Amenities struct {
	Balcony  bool `json:"balcony"`
	Terrace  bool `json:"terrace"`
	Elevator bool `json:"elevator"`
	Parking  bool `json:"parking"`
	Garage   bool `json:"garage"`
	Cellar   bool `json:"cellar"`
	Garden   bool `json:"garden"`
}

// RawListing is what the transport collaborator delivers for one listing
type RawListing struct {
	Source        string    `json:"source"`
	ExternalID    string    `json:"external_id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Price         string    `json:"price"`
	Area          string    `json:"area"`
	Location      string    `json:"location"`
	Rooms         string    `json:"rooms"`
	Floor         string    `json:"floor"`
	SellerContact string    `json:"seller_contact"`
	ImageURLs     []string  `json:"image_urls"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// StructuredListing is the normalized form of a RawListing. It is never
// persisted directly.
type StructuredListing struct {
	Source        string
	ExternalID    string
	URL           string
	Title         string
	Description   string
	Price         int64
	PricePerArea  float64
	City          string
	District      string
	Street        string
	PostalCode    string
	Area          float64
	Rooms         int
	Floor         *int
	Condition     Condition
	Energy        EnergyClass
	Heating       Heating
	Amenities     Amenities
	SellerContact string
	Latitude      *float64
	Longitude     *float64
	FirstSeenAt   time.Time
	// Degraded is set when at least one field fell back to a default
	Degraded bool
	// AreaEstimated is set when Area is the configured default rather than
	// a parsed measurement. Such a listing has no price per area and only
	// resolves through its source link.
	AreaEstimated bool
}

// HasPrice reports whether the listing carries a numeric asking price
func (l *StructuredListing) HasPrice() bool {
	return l.Price > 0
}

// Batch is one chunk of a scrape pass as delivered by the transport
type Batch struct {
	Listings []RawListing
	// Err is set when the transport reports a pass-level failure instead of data
	Err error
	// Expected is the listing count the transport reports for the whole
	// pass, 0 when unknown
	Expected int
}

// IngestResult is returned for every ingested listing
type IngestResult struct {
	PropertyID   uint64           `json:"property_id"`
	IsNew        bool             `json:"is_new"`
	PriceChanged bool             `json:"price_changed"`
	Relisted     bool             `json:"relisted"`
	MatchMethod  string           `json:"match_method"`
	Confidence   float64          `json:"confidence"`
	Gap          *MarketGapRecord `json:"gap,omitempty"`
}
