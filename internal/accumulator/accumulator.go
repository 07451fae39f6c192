// Package accumulator converts a monotonically increasing hardware step counter into
// "steps since local midnight", surviving process restarts and counter resets.
//
// All functions are pure: they take a State value and return the next one. The caller owns
// the value and is responsible for persisting Record(state) after every transition.
package accumulator

import (
	"math"

	"example.com/steptracker/internal/calendar"
	"example.com/steptracker/internal/domain"
)

// Phase names the two accumulator states.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseTracking      Phase = "tracking"
)

// State is the in-memory accumulator value. It is serializable so it can be logged or
// snapshotted, but it is rebuilt from the persisted record on every start.
type State struct {
	Date               string   `json:"date"`
	Baseline           int      `json:"baseline"`
	SensorOrigin       *float64 `json:"sensor_origin,omitempty"`
	LastRaw            *float64 `json:"last_raw,omitempty"`
	LastDisplayedTotal int      `json:"last_displayed_total"`
}

// Phase reports whether a sensor origin has been captured for the current epoch.
func (s State) Phase() Phase {
	if s.SensorOrigin == nil {
		return PhaseUninitialized
	}
	return PhaseTracking
}

// Record is the persisted form of the state.
func (s State) Record() domain.DailyStepRecord {
	return domain.DailyStepRecord{Date: s.Date, Steps: s.LastDisplayedTotal}
}

// Load builds the starting state from the persisted record. When the record belongs to another
// day (or nothing was stored) the baseline is zero and reset is true: the caller must persist
// Record() immediately, before any reading arrives.
func Load(record domain.DailyStepRecord, found bool, today string) (State, bool) {
	if found && calendar.SameDay(record.Date, today) {
		steps := record.Steps
		if steps < 0 {
			steps = 0
		}
		return State{Date: today, Baseline: steps, LastDisplayedTotal: steps}, false
	}
	return State{Date: today}, true
}

// Observe folds one raw cumulative reading into the state and returns the next state. The new
// displayed total is next.LastDisplayedTotal.
//
// The first reading of an epoch becomes the sensor origin. A reading below the previous one
// means the hardware counter restarted (device reboot); the current total is folded into the
// baseline and a new epoch starts at r, so the displayed total never decreases.
//
// Negative, NaN and infinite readings are ignored, as are readings whose total would not fit
// in an int.
func Observe(s State, r float64) State {
	if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return s
	}
	origin, baseline := s.SensorOrigin, s.Baseline
	switch {
	case origin == nil:
		o := r
		origin = &o
	case s.LastRaw != nil && r < *s.LastRaw:
		baseline = s.LastDisplayedTotal
		o := r
		origin = &o
	}
	delta := math.Floor(r - *origin)
	// float64(math.MaxInt) rounds up to 2^63, hence >=.
	if delta >= float64(math.MaxInt-baseline) {
		return s
	}
	raw := r
	s.SensorOrigin = origin
	s.Baseline = baseline
	s.LastRaw = &raw
	s.LastDisplayedTotal = baseline + int(delta)
	return s
}

// Rollover re-arms the calendar gate. When today differs from the state's date the baseline
// drops to zero and the origin moves to the last raw reading seen, so steps taken after
// midnight count from there. changed reports whether a reset happened.
func Rollover(s State, today string) (next State, changed bool) {
	if s.Date == today {
		return s, false
	}
	next = State{Date: today}
	if s.LastRaw != nil {
		origin, raw := *s.LastRaw, *s.LastRaw
		next.SensorOrigin = &origin
		next.LastRaw = &raw
	}
	return next, true
}
