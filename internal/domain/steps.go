// Package domain defines the step-tracking records shared across the service.
package domain

import (
	"context"
	"time"
)

// Persisted key names for the daily record.
const (
	KeyStepsToday = "steps_today"
	KeyDate       = "date"
)

// DailyStepRecord is the single active step total, keyed by calendar date.
type DailyStepRecord struct {
	Date  string `json:"date"`
	Steps int    `json:"steps"`
}

// LocationSample is the most recent location fix. It is never persisted.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Coordinates is the location shape published to subscribers.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Update is published on every accumulator or location change.
type Update struct {
	SessionID string       `json:"session_id"`
	Steps     int          `json:"steps"`
	Location  *Coordinates `json:"location,omitempty"`
	EmittedAt time.Time    `json:"emitted_at"`
}

// StepRepository persists the daily record. Load reports found=false when nothing was stored yet.
type StepRepository interface {
	Load(ctx context.Context) (DailyStepRecord, bool, error)
	Save(ctx context.Context, record DailyStepRecord) error
}
