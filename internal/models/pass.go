package models

import (
	"time"

	"gorm.io/datatypes"
)

type PassStatus string

const (
	PassRunning   PassStatus = "RUNNING"
	PassCompleted PassStatus = "COMPLETED"
	PassAborted   PassStatus = "ABORTED"
	PassFailed    PassStatus = "FAILED"
)

// ScrapePass records the outcome of one scrape pass of one source
type ScrapePass struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Source      string     `gorm:"type:varchar(50);not null;index" json:"source"`
	StartedAt   time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Status      PassStatus `gorm:"type:varchar(10);not null" json:"status"`
	Found       int        `json:"found"`
	New         int        `json:"new"`
	Updated     int        `json:"updated"`
	Relisted    int        `json:"relisted"`
	Removed     int        `json:"removed"`
	Gaps        int        `json:"gaps"`
	Errors      int        `json:"errors"`
	AbortReason string     `gorm:"type:text" json:"abort_reason,omitempty"`
}

func (ScrapePass) TableName() string {
	return "scrape_passes"
}

// IngestError keeps enough context to reproduce a failure without re-scraping
type IngestError struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	PassID     string         `gorm:"type:varchar(36);index" json:"pass_id"`
	Source     string         `gorm:"type:varchar(50);index" json:"source"`
	ExternalID string         `gorm:"type:varchar(120)" json:"external_id"`
	URL        string         `gorm:"type:text" json:"url"`
	Kind       string         `gorm:"type:varchar(20);not null" json:"kind"`
	Field      string         `gorm:"type:varchar(50)" json:"field"`
	RawValue   string         `gorm:"type:text" json:"raw_value"`
	Message    string         `gorm:"type:text" json:"message"`
	Context    datatypes.JSON `json:"context,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (IngestError) TableName() string {
	return "ingest_errors"
}

// PassInput is a complete pass pushed by a source instead of scheduled
type PassInput struct {
	Source    string       `json:"source" binding:"required"`
	StartedAt time.Time    `json:"started_at"`
	Listings  []RawListing `json:"listings"`
	// Complete says the listings cover the whole source, which allows
	// removal detection
	Complete bool `json:"complete"`
	// Expected is the number of listings the transport expected to find
	Expected int `json:"expected"`
}
