package models

import "time"

// Item is a single candidate listing to verify on a storefront page.
// Items are immutable once handed to the stock scheduler.
type Item struct {
	ID            string `json:"id" validate:"required"`
	URL           string `json:"url" validate:"required,url"`
	DisplayName   string `json:"display_name" validate:"required"`
	PositionLabel string `json:"position_label"`
}

// Observation is one listing found on a storefront page.
// Extractors may report the variant flag under the legacy "isHolo" key;
// parsing normalises it into IsVariantMatch.
type Observation struct {
	IsVariantMatch bool `json:"isVariantMatch"`
	IsOutOfStock   bool `json:"isOutOfStock"`
}

// AvailableItem is an Item that classified as available, together with the
// raw observations and the page left open for the user.
type AvailableItem struct {
	Item
	Observations []Observation `json:"observations"`
	PageID       string        `json:"page_id,omitempty"`
}

// RunStatus is the lifecycle state of a stock check run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunRecord is the persisted summary of a finished (or running) stock check.
type RunRecord struct {
	ID           string          `json:"id"`
	Artist       string          `json:"artist,omitempty"`
	Site         string          `json:"site,omitempty"`
	Status       RunStatus       `json:"status" badgerhold:"index"`
	VariantOnly  bool            `json:"variant_only"`
	Concurrency  int             `json:"concurrency"`
	Total        int             `json:"total"`
	Checked      int             `json:"checked"`
	Available    []AvailableItem `json:"available"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	TriggeredBy  string          `json:"triggered_by,omitempty"` // "api", "schedule", "cli", "mcp"
	ErrorMessage string          `json:"error,omitempty"`
}

// IsTerminal reports whether the run has settled
func (r *RunRecord) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusCancelled
}
