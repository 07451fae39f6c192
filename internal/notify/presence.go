// Package notify maintains the single persistent "tracking active" notification.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/steptracker/internal/domain"
	"example.com/steptracker/internal/location"
)

// Notification identity and fixed chrome.
const (
	NotificationID = 1
	Title          = "Seguimiento activo..."
	StartingBody   = "Iniciando..."
)

// Notification is the rendered notification posted to a backend.
type Notification struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backend displays notifications. Post with an existing ID replaces it in place.
type Backend interface {
	Post(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, id int) error
}

// Body renders "<steps> pasos | <location-text>".
func Body(steps int, coords *domain.Coordinates) string {
	return fmt.Sprintf("%d pasos | %s", steps, location.Text(coords))
}

// Option configures optional behaviour for Presence.
type Option func(*Presence)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Presence) {
		p.logger = logger
	}
}

// WithNow overrides the timestamp source.
func WithNow(now func() time.Time) Option {
	return func(p *Presence) {
		p.now = now
	}
}

// Presence owns the one notification the tracker shows while running. The same identity is
// reused for every update and an unchanged body is not re-posted.
type Presence struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	started bool
	body    string
}

// NewPresence constructs Presence over backend.
func NewPresence(backend Backend, opts ...Option) *Presence {
	p := &Presence{
		backend: backend,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start posts the initial notification. Calling Start while started is a no-op.
func (p *Presence) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true
	return p.post(ctx, StartingBody)
}

// Update replaces the notification body in place. Updates before Start or after Stop are ignored.
func (p *Presence) Update(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || text == p.body {
		return nil
	}
	return p.post(ctx, text)
}

// Stop removes the notification. It is safe to call more than once.
func (p *Presence) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false
	p.body = ""
	return p.backend.Cancel(ctx, NotificationID)
}

// Body returns the text currently shown.
func (p *Presence) Body() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body
}

func (p *Presence) post(ctx context.Context, body string) error {
	err := p.backend.Post(ctx, Notification{
		ID:        NotificationID,
		Title:     Title,
		Body:      body,
		UpdatedAt: p.now().UTC(),
	})
	if err != nil {
		p.logger.Debug("notification post failed", zap.Error(err))
		return err
	}
	p.body = body
	return nil
}

// LogBackend writes notifications to a structured logger.
type LogBackend struct {
	logger *zap.Logger
}

// NewLogBackend constructs a LogBackend.
func NewLogBackend(logger *zap.Logger) *LogBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogBackend{logger: logger}
}

// Post implements Backend.
func (b *LogBackend) Post(_ context.Context, n Notification) error {
	b.logger.Info("notification", zap.Int("id", n.ID), zap.String("title", n.Title), zap.String("body", n.Body))
	return nil
}

// Cancel implements Backend.
func (b *LogBackend) Cancel(_ context.Context, id int) error {
	b.logger.Info("notification cancelled", zap.Int("id", id))
	return nil
}
