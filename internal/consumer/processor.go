// Package consumer reads raw device events (step-counter readings, location fixes, sensor
// availability changes) from Kafka and hands them to the tracker.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event kinds carried in the event_type header and the payload.
const (
	KindStepCounter       = "step_counter"
	KindLocation          = "location"
	KindSensorUnavailable = "sensor_unavailable"
	KindLocationDenied    = "location_permission_denied"
)

// ErrUnknownEventKind is returned for payloads the tracker has no use for.
var ErrUnknownEventKind = errors.New("unknown event kind")

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded device events.
type Handler interface {
	Handle(context.Context, Event) error
}

// Event is the decoded representation of one device record.
type Event struct {
	Topic     string    `json:"-"`
	Partition int       `json:"-"`
	Offset    int64     `json:"-"`
	Kind      string    `json:"kind"`
	Value     float64   `json:"value,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *zap.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Warn("fetch error", zap.Error(err))
			continue
		}

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Warn("decode error",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(decodeErr))
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Warn("commit error after decode failure", zap.Error(commitErr))
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, event); handleErr != nil {
			p.logger.Warn("handler error", zap.String("kind", event.Kind), zap.Error(handleErr))
			recordHandlerError(event)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Warn("commit error", zap.Error(commitErr))
		} else {
			recordProcessed(event)
		}
	}
}

func decodeMessage(msg kafka.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Event{}, fmt.Errorf("invalid payload: %w", err)
	}
	if kind, ok := headerValue(msg, "event_type"); ok && len(kind) > 0 {
		event.Kind = string(kind)
	}
	if event.Kind == "" {
		return Event{}, errors.New("missing event kind")
	}
	if event.At.IsZero() {
		event.At = msg.Time
	}
	event.Topic = msg.Topic
	event.Partition = msg.Partition
	event.Offset = msg.Offset
	return event, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
