package tracker

import (
	"errors"
	"time"

	"example.com/steptracker/internal/domain"
)

// ErrNoStepCounter is reported by sensor sources when the device lacks step-counter hardware.
var ErrNoStepCounter = errors.New("no step counter sensor")

// Kind discriminates tracker messages.
type Kind int

const (
	KindStepReading Kind = iota + 1
	KindLocation
	KindDateCheck
	KindSourceError
)

// Message is one input to the consumer loop.
type Message struct {
	Kind     Kind
	Raw      float64
	Location domain.LocationSample
	Err      error
	At       time.Time
}

// StepReading wraps a raw cumulative step-counter value.
func StepReading(raw float64, at time.Time) Message {
	return Message{Kind: KindStepReading, Raw: raw, At: at}
}

// LocationFix wraps a location sample.
func LocationFix(sample domain.LocationSample) Message {
	return Message{Kind: KindLocation, Location: sample, At: sample.Timestamp}
}

// DateCheck asks the loop to re-check the calendar date.
func DateCheck(at time.Time) Message {
	return Message{Kind: KindDateCheck, At: at}
}

// SourceError reports a producer failure. The loop logs it and keeps running.
func SourceError(err error) Message {
	return Message{Kind: KindSourceError, Err: err, At: time.Now()}
}
