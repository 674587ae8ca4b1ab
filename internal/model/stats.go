package model

import "time"

// Stats is a point-in-time analytics snapshot of one record
type Stats struct {
	ShortCode           string         `json:"short_code"`
	LongURL             string         `json:"long_url"`
	TotalClicks         int64          `json:"total_clicks"`
	DaysActive          int64          `json:"days_active"`
	AverageClicksPerDay float64        `json:"average_clicks_per_day"`
	ClickSources        map[string]int `json:"click_sources"`
	ClickLocations      map[string]int `json:"click_locations"`
	ClickDevices        map[string]int `json:"click_devices"`
	DailyClicks         map[string]int `json:"daily_clicks"`
	LastClickedAt       *time.Time     `json:"last_clicked_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	ExpiresAt           time.Time      `json:"expires_at"`
}
