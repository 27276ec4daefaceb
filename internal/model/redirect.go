package model

import (
	"time"
)

// RoutingMode selects how a redirect picks its destination.
type RoutingMode string

const (
	RoutingSimple     RoutingMode = "simple"
	RoutingSequential RoutingMode = "sequential"
	RoutingDevice     RoutingMode = "device"
	RoutingTime       RoutingMode = "time"
)

// TimeRule routes scans between Start and End (HH:MM, end exclusive) to URL.
// A window with End before Start wraps past midnight.
type TimeRule struct {
	Start string `json:"start"`
	End   string `json:"end"`
	URL   string `json:"url"`
}

// RoutingConfig is the mode specific routing payload. Only the fields of the
// active mode are consulted.
type RoutingConfig struct {
	URLs     []string   `json:"urls,omitempty"`
	IOS      string     `json:"ios,omitempty"`
	Android  string     `json:"android,omitempty"`
	Desktop  string     `json:"desktop,omitempty"`
	Rules    []TimeRule `json:"rules,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
}

// AllURLs lists every destination in the config.
func (c *RoutingConfig) AllURLs() []string {
	if c == nil {
		return nil
	}
	out := append([]string(nil), c.URLs...)
	for _, u := range []string{c.IOS, c.Android, c.Desktop} {
		if u != "" {
			out = append(out, u)
		}
	}
	for _, r := range c.Rules {
		out = append(out, r.URL)
	}
	return out
}

// Redirect is an editable dynamic QR destination.
type Redirect struct {
	Resource
	DestinationURL string
	RoutingMode    RoutingMode
	RoutingConfig  *RoutingConfig
	MaxScans       *int
	ScanCount      int
	ExpiresAt      *time.Time
	IsActive       bool
}

// Expired reports whether now is past ExpiresAt.
func (r *Redirect) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Exhausted reports whether the scan budget is spent.
func (r *Redirect) Exhausted() bool {
	return r.MaxScans != nil && r.ScanCount >= *r.MaxScans
}
