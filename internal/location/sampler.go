// Package location keeps the latest location fix and renders it for the notification body.
package location

import (
	"errors"
	"fmt"
	"time"

	"example.com/steptracker/internal/domain"
)

// Placeholder is shown while no fix is available.
const Placeholder = "Buscando..."

// ErrPermissionDenied is returned by providers when location access was revoked.
var ErrPermissionDenied = errors.New("location permission denied")

// Priority is the accuracy class requested from the provider.
type Priority string

const (
	PriorityHighAccuracy Priority = "high_accuracy"
	PriorityBalanced     Priority = "balanced"
	PriorityLowPower     Priority = "low_power"
)

// Request describes how often fixes are wanted.
type Request struct {
	Interval        time.Duration
	FastestInterval time.Duration
	Priority        Priority
}

// DefaultRequest asks for a high-accuracy fix roughly every ten seconds.
func DefaultRequest() Request {
	return Request{
		Interval:        10 * time.Second,
		FastestInterval: 5 * time.Second,
		Priority:        PriorityHighAccuracy,
	}
}

// Sampler holds the latest fix. No filtering or staleness policy: the last fix always wins.
// It is owned by a single goroutine.
type Sampler struct {
	latest domain.LocationSample
	have   bool
}

// Observe records a new fix.
func (s *Sampler) Observe(sample domain.LocationSample) {
	s.latest = sample
	s.have = true
}

// Latest returns the last fix, if any.
func (s *Sampler) Latest() (domain.LocationSample, bool) {
	return s.latest, s.have
}

// Coordinates returns the latest fix in publishable form, or nil.
func (s *Sampler) Coordinates() *domain.Coordinates {
	if !s.have {
		return nil
	}
	return &domain.Coordinates{Latitude: s.latest.Latitude, Longitude: s.latest.Longitude}
}

// Text renders the location part of the notification body.
func Text(coords *domain.Coordinates) string {
	if coords == nil {
		return Placeholder
	}
	return fmt.Sprintf("Lat: %.4f", coords.Latitude)
}
