package model

import (
	"regexp"
	"strings"
	"time"
)

// Source classifies where a click came from
type Source string

const (
	SourceDirect Source = "direct"
	SourceSocial Source = "social"
	SourceEmail  Source = "email"
	SourceSearch Source = "search"
	SourceOther  Source = "other"
)

const (
	unknownValue   = "Unknown"
	directReferrer = "Direct"
	deviceMobile   = "Mobile"
	deviceTablet   = "Tablet"
	deviceDesktop  = "Desktop"
)

var (
	mobileUA = regexp.MustCompile(`(?i)Mobi|Android`)
	tabletUA = regexp.MustCompile(`(?i)Tablet|iPad`)
)

// ParseSource normalizes a caller supplied source.
// Empty means direct, anything outside the known set means other.
func ParseSource(s string) Source {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case "", SourceDirect:
		return SourceDirect
	case SourceSocial:
		return SourceSocial
	case SourceEmail:
		return SourceEmail
	case SourceSearch:
		return SourceSearch
	default:
		return SourceOther
	}
}

// ClickInfo is the caller supplied metadata of a click; every field is optional
type ClickInfo struct {
	Source    string `json:"source,omitempty"`
	Location  string `json:"location,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	Device    string `json:"device,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClickEvent is one recorded redirect traversal
type ClickEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Location  string    `json:"location"`
	Referrer  string    `json:"referrer"`
	Device    string    `json:"device"`
	IP        string    `json:"ip"`
}

// NewClickEvent builds an event from click info, filling defaults for missing fields
func NewClickEvent(id int64, at time.Time, info ClickInfo) ClickEvent {
	return ClickEvent{
		ID:        id,
		Timestamp: at,
		Source:    ParseSource(info.Source),
		Location:  orDefault(info.Location, unknownValue),
		Referrer:  orDefault(info.Referrer, directReferrer),
		Device:    orDefault(info.Device, DeviceFromUserAgent(info.UserAgent)),
		IP:        orDefault(info.IP, unknownValue),
	}
}

// DeviceFromUserAgent classifies a User-Agent as Mobile, Tablet or Desktop.
// An empty User-Agent is Unknown.
func DeviceFromUserAgent(ua string) string {
	switch {
	case strings.TrimSpace(ua) == "":
		return unknownValue
	case mobileUA.MatchString(ua):
		return deviceMobile
	case tabletUA.MatchString(ua):
		return deviceTablet
	default:
		return deviceDesktop
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
