// Package broadcast relays step updates from the tracker to in-process subscribers and outbound sinks.
package broadcast

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"example.com/steptracker/internal/domain"
	"example.com/steptracker/internal/observability"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Option configures optional behaviour for the Hub.
type Option func(*Hub)

// WithLogger overrides the logger used to report dropped updates.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// Hub is a process-local publish/subscribe channel. Publish never blocks: a subscriber whose
// buffer is full misses the update.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan domain.Update
	next   uint64
	last   *domain.Update
	closed bool
	logger *zap.Logger
}

// NewHub constructs an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[uint64]chan domain.Update),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber. The latest update, if any, is delivered first so late
// subscribers do not wait for the next reading. cancel is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan domain.Update, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan domain.Update, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	if h.last != nil {
		ch <- *h.last
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Publish fans the update out to every subscriber without blocking.
func (h *Hub) Publish(_ context.Context, update domain.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	last := update
	h.last = &last
	for id, ch := range h.subs {
		select {
		case ch <- update:
		default:
			observability.RecordDropped("hub")
			h.logger.Debug("subscriber full, update dropped", zap.Uint64("subscriber", id), zap.Int("steps", update.Steps))
		}
	}
	return nil
}

// Latest returns the last published update.
func (h *Hub) Latest() (domain.Update, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return domain.Update{}, false
	}
	return *h.last, true
}

// Close detaches every subscriber. Further publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
