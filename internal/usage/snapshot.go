// Package usage defines the normalized usage snapshot and the schema-driven
// normalizer that maps heterogeneous upstream JSON shapes onto it.
package usage

import (
	"encoding/json"
	"time"
)

// ModelTier names a per-model seven-day limit bucket.
type ModelTier string

const (
	TierOpus   ModelTier = "opus"
	TierSonnet ModelTier = "sonnet"
)

// Overage is the optional pay-as-you-go spend block.
type Overage struct {
	Used     float64 `json:"used"`
	Limit    float64 `json:"limit"`
	Percent  float64 `json:"percent"`
	Currency string  `json:"currency"`
}

// Credits is the optional prepaid balance block.
type Credits struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Snapshot is the normalized output of one successful fetch. It is created
// fresh each cycle and never mutated; the next snapshot supersedes it.
type Snapshot struct {
	SessionPercent  float64               `json:"session_percent"`
	SessionResetsAt *time.Time            `json:"session_resets_at,omitempty"`
	SessionReset    string                `json:"session_reset"`
	WeekPercent     float64               `json:"week_percent"`
	WeekResetsAt    *time.Time            `json:"week_resets_at,omitempty"`
	WeekReset       string                `json:"week_reset"`
	ModelPercents   map[ModelTier]float64 `json:"model_percents,omitempty"`

	Overage *Overage `json:"overage,omitempty"`
	Credits *Credits `json:"credits,omitempty"`

	// Scraped marks a snapshot recovered from page text rather than the
	// usage endpoint; only the session fields are meaningful then.
	Scraped bool `json:"scraped,omitempty"`

	CapturedAt time.Time       `json:"captured_at"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}
