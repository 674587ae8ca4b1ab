package model

import (
	"fmt"
	"time"
)

// URLRecord represents a shortened URL together with its click history
type URLRecord struct {
	ID            int64        `json:"id"`
	ShortCode     string       `json:"short_code"`
	LongURL       string       `json:"long_url"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
	Clicks        int64        `json:"clicks"`
	ClickHistory  []ClickEvent `json:"click_history"`
	LastClickedAt *time.Time   `json:"last_clicked_at,omitempty"`
}

// IsExpired reports whether the record is past its expiry at the given instant.
// A record is expired from the exact instant of ExpiresAt onwards.
func (r *URLRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Verify checks the counter invariant
func (r *URLRecord) Verify() error {
	if r.Clicks != int64(len(r.ClickHistory)) {
		return fmt.Errorf("%w: %s has %d clicks but %d history entries",
			ErrCorruption, r.ShortCode, r.Clicks, len(r.ClickHistory))
	}
	return nil
}

// Clone returns a deep copy of the record
func (r *URLRecord) Clone() *URLRecord {
	c := *r
	if r.ClickHistory != nil {
		c.ClickHistory = make([]ClickEvent, len(r.ClickHistory))
		copy(c.ClickHistory, r.ClickHistory)
	}
	if r.LastClickedAt != nil {
		t := *r.LastClickedAt
		c.LastClickedAt = &t
	}
	return &c
}

// URLMapping is the persisted row of a URLRecord
type URLMapping struct {
	ID            int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ShortCode     string     `gorm:"uniqueIndex;type:varchar(20);not null" json:"short_code"`
	LongURL       string     `gorm:"type:varchar(2048);not null" json:"long_url"`
	CreatedAt     time.Time  `gorm:"index;not null" json:"created_at"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	Clicks        int64      `gorm:"default:0;not null" json:"clicks"`
	LastClickedAt *time.Time `json:"last_clicked_at,omitempty"`
}

// TableName specifies the table name for URLMapping
func (URLMapping) TableName() string {
	return "url_mappings"
}

// ClickLog is the persisted row of a ClickEvent
type ClickLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	URLID     int64     `gorm:"index:idx_click_url_seq,priority:1;not null" json:"url_id"`
	Seq       int       `gorm:"index:idx_click_url_seq,priority:2;not null" json:"seq"`
	ClickedAt time.Time `gorm:"index;not null" json:"clicked_at"`
	Source    string    `gorm:"type:varchar(16);not null" json:"source"`
	Location  string    `gorm:"type:varchar(128)" json:"location"`
	Referrer  string    `gorm:"type:varchar(2048)" json:"referrer"`
	Device    string    `gorm:"type:varchar(64)" json:"device"`
	IP        string    `gorm:"type:varchar(45)" json:"ip"`
}

// TableName specifies the table name for ClickLog
func (ClickLog) TableName() string {
	return "click_logs"
}
