package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/steptracker/internal/domain"
)

func TestKafkaSinkEncodesUpdate(t *testing.T) {
	writer := &stubWriter{}
	sink := NewKafkaSink(writer, "steps_updates")

	emitted := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	update := domain.Update{SessionID: "session-1", Steps: 550, EmittedAt: emitted}
	require.NoError(t, sink.Deliver(context.Background(), update))

	msgs := writer.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "steps_updates", writer.topic)
	require.Equal(t, []byte("session-1"), msgs[0].Key)
	require.Equal(t, emitted, msgs[0].Time)
	require.Equal(t, "event_type", msgs[0].Headers[0].Key)
	require.Equal(t, EventTypeStepsUpdated, string(msgs[0].Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	require.EqualValues(t, 550, decoded["steps"])
	require.NotContains(t, decoded, "location")
}

func TestForwardDeliversUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	writer := &stubWriter{err: errors.New("broker unavailable"), failFirst: true}
	sink := NewKafkaSink(writer, "steps_updates")

	done := make(chan struct{})
	go func() {
		defer close(done)
		Forward(ctx, hub, "kafka", sink, nil)
	}()

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.subs) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, domain.Update{Steps: 1}))
	require.NoError(t, hub.Publish(ctx, domain.Update{Steps: 2}))

	require.Eventually(t, func() bool { return writer.calls() == 2 }, time.Second, 5*time.Millisecond)
	require.Len(t, writer.messages(), 1)

	cancel()
	<-done
}

type stubWriter struct {
	mu        sync.Mutex
	topic     string
	msgs      []kafka.Message
	n         int
	err       error
	failFirst bool
}

func (w *stubWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	if w.err != nil && (!w.failFirst || w.n == 1) {
		return w.err
	}
	w.topic = topic
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func (w *stubWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}
