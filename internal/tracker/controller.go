package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/steptracker/internal/location"
)

// Factory builds a fresh Tracker. Each tracker re-derives its state from storage.
type Factory func() *Tracker

// SourceControl registers and unregisters the device listeners feeding the tracker.
// Unregister must be safe to call more than once.
type SourceControl interface {
	Register(ctx context.Context, req location.Request) error
	Unregister(ctx context.Context) error
}

// ControllerOption configures optional behaviour for the Controller.
type ControllerOption func(*Controller)

// WithSourceControl asks sources to start and stop delivering events with the session.
func WithSourceControl(sources SourceControl, req location.Request) ControllerOption {
	return func(c *Controller) {
		c.sources = sources
		c.request = req
	}
}

// Controller starts and stops tracking sessions and restarts a session whose loop dies
// unexpectedly. Producers submit through the controller so they never hold a stale tracker.
type Controller struct {
	factory Factory
	logger  *zap.Logger
	sources SourceControl
	request location.Request

	mu      sync.Mutex
	current *Tracker
}

// NewController constructs a Controller.
func NewController(factory Factory, logger *zap.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{factory: factory, logger: logger, request: location.DefaultRequest()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches a tracking session unless one is already running.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return
	}
	t := c.factory()
	c.current = t
	go c.supervise(ctx, t)
	c.mu.Unlock()

	if c.sources != nil {
		if err := c.sources.Register(ctx, c.request); err != nil {
			c.logger.Warn("source registration failed", zap.Error(err))
		}
	}
}

// Stop unregisters sources, ends the running session and waits for its final write.
// Safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	t := c.current
	c.current = nil
	c.mu.Unlock()

	if c.sources != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.sources.Unregister(ctx); err != nil {
			c.logger.Warn("source unregistration failed", zap.Error(err))
		}
		cancel()
	}
	if t == nil {
		return
	}
	t.Stop()
	<-t.Done()
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Submit forwards msg to the running session. With no session the message is dropped and
// ErrStopped returned, matching unregistered callbacks.
func (c *Controller) Submit(ctx context.Context, msg Message) error {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()
	if t == nil {
		return ErrStopped
	}
	return t.Submit(ctx, msg)
}

// Snapshot returns the running session's snapshot.
func (c *Controller) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()
	if t == nil {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

func (c *Controller) supervise(ctx context.Context, t *Tracker) {
	for {
		err := runOnce(ctx, t)

		c.mu.Lock()
		restart := c.current == t && ctx.Err() == nil && err != nil && !errors.Is(err, context.Canceled)
		if !restart {
			if c.current == t && ctx.Err() != nil {
				c.current = nil
			}
			c.mu.Unlock()
			return
		}
		next := c.factory()
		c.current = next
		c.mu.Unlock()

		c.logger.Warn("tracker loop died, restarting from stored state",
			zap.String("session_id", t.SessionID()),
			zap.String("next_session_id", next.SessionID()),
			zap.Error(err))
		t = next
	}
}

func runOnce(ctx context.Context, t *Tracker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracker panic: %v", r)
		}
	}()
	return t.Run(ctx)
}
