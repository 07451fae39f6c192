package consumer

import (
	"context"
	"errors"
	"fmt"

	"example.com/steptracker/internal/domain"
	"example.com/steptracker/internal/location"
	"example.com/steptracker/internal/tracker"
)

// Submitter accepts tracker messages; *tracker.Controller satisfies it.
type Submitter interface {
	Submit(ctx context.Context, msg tracker.Message) error
}

// TrackerHandler converts device events into tracker messages.
type TrackerHandler struct {
	target Submitter
}

// NewTrackerHandler constructs a TrackerHandler.
func NewTrackerHandler(target Submitter) *TrackerHandler {
	return &TrackerHandler{target: target}
}

// Handle implements Handler. Events arriving while tracking is stopped are dropped without error,
// the same as callbacks delivered after unregistering.
func (h *TrackerHandler) Handle(ctx context.Context, event Event) error {
	msg, err := toMessage(event)
	if err != nil {
		return err
	}
	if err := h.target.Submit(ctx, msg); err != nil && !errors.Is(err, tracker.ErrStopped) {
		return err
	}
	return nil
}

func toMessage(event Event) (tracker.Message, error) {
	switch event.Kind {
	case KindStepCounter:
		return tracker.StepReading(event.Value, event.At), nil
	case KindLocation:
		return tracker.LocationFix(domain.LocationSample{
			Latitude:  event.Latitude,
			Longitude: event.Longitude,
			Timestamp: event.At,
		}), nil
	case KindSensorUnavailable:
		return tracker.SourceError(fmt.Errorf("%w: %s", tracker.ErrNoStepCounter, event.Detail)), nil
	case KindLocationDenied:
		return tracker.SourceError(fmt.Errorf("%w: %s", location.ErrPermissionDenied, event.Detail)), nil
	default:
		return tracker.Message{}, fmt.Errorf("%w: %q", ErrUnknownEventKind, event.Kind)
	}
}
