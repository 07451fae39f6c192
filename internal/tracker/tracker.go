// Package tracker runs the single consumer loop that owns the daily step state. Sensor readings,
// location fixes and date checks arrive as messages on one channel, so the accumulator is only
// ever touched by one goroutine.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/steptracker/internal/accumulator"
	"example.com/steptracker/internal/calendar"
	"example.com/steptracker/internal/domain"
	"example.com/steptracker/internal/location"
	"example.com/steptracker/internal/notify"
	"example.com/steptracker/internal/observability"
)

// ErrStopped is returned when submitting to a tracker that has shut down.
var ErrStopped = errors.New("tracker stopped")

// DefaultInboxSize is the capacity of the update channel.
const DefaultInboxSize = 64

// Publisher receives every update for in-process subscribers.
type Publisher interface {
	Publish(ctx context.Context, update domain.Update) error
}

// Presence is the persistent notification collaborator.
type Presence interface {
	Start(ctx context.Context) error
	Update(ctx context.Context, text string) error
	Stop(ctx context.Context) error
}

// Snapshot is a read-only view of the tracker for status endpoints.
type Snapshot struct {
	SessionID string              `json:"session_id"`
	Date      string              `json:"date"`
	Steps     int                 `json:"steps"`
	Phase     accumulator.Phase   `json:"phase"`
	Location  *domain.Coordinates `json:"location,omitempty"`
	State     accumulator.State   `json:"state"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Option configures optional behaviour for the Tracker.
type Option func(*Tracker)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock overrides the clock used for calendar dates.
func WithClock(clock calendar.Clock) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// WithInboxSize overrides the update channel capacity.
func WithInboxSize(size int) Option {
	return func(t *Tracker) {
		if size > 0 {
			t.inbox = make(chan Message, size)
		}
	}
}

// Tracker owns one process lifetime of step accounting: one sensor origin, one session id.
type Tracker struct {
	repo      domain.StepRepository
	publisher Publisher
	presence  Presence
	clock     calendar.Clock
	logger    *zap.Logger
	sessionID string

	inbox    chan Message
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}

	// Loop-owned; never touched outside Run.
	state   accumulator.State
	sampler location.Sampler

	mu       sync.RWMutex
	snapshot Snapshot
}

// New constructs a Tracker. publisher and presence may be nil.
func New(repo domain.StepRepository, publisher Publisher, presence Presence, opts ...Option) *Tracker {
	t := &Tracker{
		repo:      repo,
		publisher: publisher,
		presence:  presence,
		clock:     calendar.SystemClock{},
		logger:    zap.NewNop(),
		sessionID: uuid.NewString(),
		inbox:     make(chan Message, DefaultInboxSize),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SessionID identifies this process lifetime.
func (t *Tracker) SessionID() string { return t.sessionID }

// Submit hands a message to the consumer loop, blocking while the inbox is full.
func (t *Tracker) Submit(ctx context.Context, msg Message) error {
	select {
	case <-t.stopped:
		return ErrStopped
	default:
	}
	select {
	case t.inbox <- msg:
		return nil
	case <-t.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the loop to persist and exit. It is idempotent.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// Done is closed once Run has returned.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Snapshot returns the last state observed by the loop.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

// Run loads the persisted record, then consumes messages until ctx is cancelled or Stop is
// called. The latest total is persisted on the way out.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.done)

	t.initialize(ctx)
	if t.presence != nil {
		if err := t.presence.Start(ctx); err != nil {
			t.logger.Warn("notification start failed", zap.Error(err))
		}
	}
	t.publish(ctx)

	defer t.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stopped:
			return nil
		case msg := <-t.inbox:
			t.handle(ctx, msg)
		}
	}
}

func (t *Tracker) initialize(ctx context.Context) {
	today := calendar.Today(t.clock)

	record, found, err := t.repo.Load(ctx)
	if err != nil {
		// Read failures fall back to defaults, as if nothing was stored.
		t.logger.Warn("daily record load failed, starting from defaults", zap.Error(err))
		record, found = domain.DailyStepRecord{}, false
	}

	state, reset := accumulator.Load(record, found, today)
	t.state = state
	if reset {
		t.logger.Info("new calendar day, daily total reset",
			zap.String("stored_date", record.Date), zap.String("today", today))
		t.persist(ctx)
	}
	t.logger.Info("tracker initialized",
		zap.String("session_id", t.sessionID),
		zap.String("date", today),
		zap.Int("baseline", t.state.Baseline))
	t.refreshSnapshot()
}

func (t *Tracker) handle(ctx context.Context, msg Message) {
	switch msg.Kind {
	case KindStepReading:
		t.rollover(ctx)
		before := t.state.Phase()
		t.state = accumulator.Observe(t.state, msg.Raw)
		if before == accumulator.PhaseUninitialized && t.state.Phase() == accumulator.PhaseTracking {
			t.logger.Debug("sensor origin captured", zap.Float64("origin", msg.Raw))
		}
		t.persist(ctx)
		observability.RecordDisplayedSteps(t.state.LastDisplayedTotal)
		t.emit(ctx)
	case KindLocation:
		t.sampler.Observe(msg.Location)
		observability.RecordLocationFix()
		t.emit(ctx)
	case KindDateCheck:
		if t.rollover(ctx) {
			t.emit(ctx)
		}
	case KindSourceError:
		t.sourceError(ctx, msg.Err)
	default:
		t.logger.Warn("unknown tracker message", zap.Int("kind", int(msg.Kind)))
	}
}

// rollover re-arms the calendar gate when the local date moved on.
func (t *Tracker) rollover(ctx context.Context) bool {
	today := calendar.Today(t.clock)
	next, changed := accumulator.Rollover(t.state, today)
	if !changed {
		return false
	}
	t.logger.Info("calendar day changed, daily total reset",
		zap.String("previous_date", t.state.Date),
		zap.Int("previous_total", t.state.LastDisplayedTotal),
		zap.String("today", today))
	t.state = next
	observability.RecordRollover()
	observability.RecordDisplayedSteps(0)
	t.persist(ctx)
	return true
}

func (t *Tracker) sourceError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, ErrNoStepCounter):
		t.logger.Error("device has no step counter; total stays at baseline", zap.Error(err))
	case errors.Is(err, location.ErrPermissionDenied):
		t.logger.Warn("location permission lost", zap.Error(err))
		t.sampler = location.Sampler{}
		t.emit(ctx)
	default:
		t.logger.Warn("event source error", zap.Error(err))
	}
}

func (t *Tracker) persist(ctx context.Context) {
	if err := t.repo.Save(ctx, t.state.Record()); err != nil {
		observability.RecordPersistFailure()
		t.logger.Warn("daily record write failed", zap.Error(err))
		return
	}
	observability.RecordPersisted(t.clock.Now())
}

// emit pushes the current total and location to subscribers and the notification.
func (t *Tracker) emit(ctx context.Context) {
	t.refreshSnapshot()
	t.publish(ctx)
	if t.presence == nil {
		return
	}
	body := notify.Body(t.state.LastDisplayedTotal, t.sampler.Coordinates())
	if err := t.presence.Update(ctx, body); err != nil {
		t.logger.Debug("notification update dropped", zap.Error(err))
	}
}

func (t *Tracker) publish(ctx context.Context) {
	if t.publisher == nil {
		return
	}
	update := domain.Update{
		SessionID: t.sessionID,
		Steps:     t.state.LastDisplayedTotal,
		Location:  t.sampler.Coordinates(),
		EmittedAt: t.clock.Now().UTC(),
	}
	if err := t.publisher.Publish(ctx, update); err != nil {
		t.logger.Debug("broadcast dropped", zap.Error(err))
	}
}

func (t *Tracker) refreshSnapshot() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = Snapshot{
		SessionID: t.sessionID,
		Date:      t.state.Date,
		Steps:     t.state.LastDisplayedTotal,
		Phase:     t.state.Phase(),
		Location:  t.sampler.Coordinates(),
		State:     t.state,
		UpdatedAt: t.clock.Now().UTC(),
	}
}

// teardown persists the last total and removes the notification. It runs with a fresh
// context because the loop context is usually already cancelled.
func (t *Tracker) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.persist(ctx)
	if t.presence != nil {
		if err := t.presence.Stop(ctx); err != nil {
			t.logger.Debug("notification stop failed", zap.Error(err))
		}
	}
	t.logger.Info("tracker stopped",
		zap.String("session_id", t.sessionID),
		zap.Int("steps", t.state.LastDisplayedTotal))
}
