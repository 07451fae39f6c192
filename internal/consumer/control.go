package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/steptracker/internal/location"
)

// Control actions sent to the device gateway.
const (
	ActionRegister   = "register"
	ActionUnregister = "unregister"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// ControlCommand asks the device gateway to start or stop the step-counter and location feeds.
type ControlCommand struct {
	Action                  string            `json:"action"`
	DeviceID                string            `json:"device_id"`
	Sensor                  string            `json:"sensor,omitempty"`
	LocationIntervalMS      int64             `json:"location_interval_ms,omitempty"`
	LocationFastestInterval int64             `json:"location_fastest_interval_ms,omitempty"`
	LocationPriority        location.Priority `json:"location_priority,omitempty"`
	IssuedAt                time.Time         `json:"issued_at"`
}

// DeviceControl publishes listener registration commands on a control topic. Unregister only
// sends a command when listeners are registered, so repeated stops are harmless.
type DeviceControl struct {
	writer   messageWriter
	topic    string
	deviceID string

	mu         sync.Mutex
	registered bool
}

// NewDeviceControl constructs a DeviceControl.
func NewDeviceControl(writer messageWriter, topic, deviceID string) *DeviceControl {
	return &DeviceControl{writer: writer, topic: topic, deviceID: deviceID}
}

// Register implements tracker.SourceControl.
func (d *DeviceControl) Register(ctx context.Context, req location.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.send(ctx, ControlCommand{
		Action:                  ActionRegister,
		DeviceID:                d.deviceID,
		Sensor:                  KindStepCounter,
		LocationIntervalMS:      req.Interval.Milliseconds(),
		LocationFastestInterval: req.FastestInterval.Milliseconds(),
		LocationPriority:        req.Priority,
	}); err != nil {
		return err
	}
	d.registered = true
	return nil
}

// Unregister implements tracker.SourceControl.
func (d *DeviceControl) Unregister(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.registered {
		return nil
	}
	if err := d.send(ctx, ControlCommand{Action: ActionUnregister, DeviceID: d.deviceID}); err != nil {
		return err
	}
	d.registered = false
	return nil
}

func (d *DeviceControl) send(ctx context.Context, cmd ControlCommand) error {
	cmd.IssuedAt = time.Now().UTC()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return d.writer.WriteMessages(ctx, d.topic, kafka.Message{
		Key:   []byte(d.deviceID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(cmd.Action)},
		},
	})
}
