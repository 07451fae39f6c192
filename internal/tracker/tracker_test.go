package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"example.com/steptracker/internal/accumulator"
	"example.com/steptracker/internal/domain"
	"example.com/steptracker/internal/location"
	"example.com/steptracker/internal/notify"
	"example.com/steptracker/internal/persistence/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSameDayRestartResumesFromPersistedTotal(t *testing.T) {
	repo := memory.NewStoreWith(domain.DailyStepRecord{Date: "2024-05-01", Steps: 500})
	h := startHarness(t, repo, at(2024, time.May, 1, 9))

	initial := h.next(t)
	require.Equal(t, 500, initial.Steps)
	require.Equal(t, 0, repo.Writes())

	h.submit(t, StepReading(12000.0, time.Now()))
	require.Equal(t, 500, h.next(t).Steps)

	h.submit(t, StepReading(12050.0, time.Now()))
	require.Equal(t, 550, h.next(t).Steps)

	record, _, _ := repo.Load(context.Background())
	require.Equal(t, domain.DailyStepRecord{Date: "2024-05-01", Steps: 550}, record)
	require.Equal(t, "550 pasos | Buscando...", h.presence.body())

	h.stop(t)
}

func TestNewDayResetsBeforeAnyReading(t *testing.T) {
	repo := memory.NewStoreWith(domain.DailyStepRecord{Date: "2024-05-01", Steps: 500})
	h := startHarness(t, repo, at(2024, time.May, 2, 7))

	require.Equal(t, 0, h.next(t).Steps)

	record, found, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.DailyStepRecord{Date: "2024-05-02", Steps: 0}, record)

	h.stop(t)
}

func TestLocationUpdatesShareTheSameChannel(t *testing.T) {
	repo := memory.NewStore()
	h := startHarness(t, repo, at(2024, time.May, 1, 9))
	h.next(t)

	h.submit(t, StepReading(100, time.Now()))
	h.next(t)
	h.submit(t, LocationFix(domain.LocationSample{Latitude: 19.43261, Longitude: -99.1332, Timestamp: time.Now()}))

	update := h.next(t)
	require.Equal(t, 0, update.Steps)
	require.NotNil(t, update.Location)
	require.Equal(t, "0 pasos | Lat: 19.4326", h.presence.body())

	h.submit(t, StepReading(130, time.Now()))
	update = h.next(t)
	require.Equal(t, 30, update.Steps)
	require.NotNil(t, update.Location, "location survives step updates")

	h.submit(t, SourceError(fmt.Errorf("fused provider: %w", location.ErrPermissionDenied)))
	update = h.next(t)
	require.Nil(t, update.Location)
	require.Equal(t, 30, update.Steps)
	require.Equal(t, "30 pasos | Buscando...", h.presence.body())

	h.stop(t)
}

func TestMissingStepCounterKeepsBaseline(t *testing.T) {
	repo := memory.NewStoreWith(domain.DailyStepRecord{Date: "2024-05-01", Steps: 75})
	h := startHarness(t, repo, at(2024, time.May, 1, 9))
	h.next(t)

	h.submit(t, SourceError(ErrNoStepCounter))
	h.submit(t, DateCheck(time.Now()))

	require.Eventually(t, func() bool { return len(h.tracker.inbox) == 0 }, time.Second, 5*time.Millisecond)
	snap := h.tracker.Snapshot()
	require.Equal(t, 75, snap.Steps)
	require.Equal(t, accumulator.PhaseUninitialized, snap.Phase)

	h.stop(t)
	record, _, _ := repo.Load(context.Background())
	require.Equal(t, 75, record.Steps)
}

func TestDateCheckRollsOverMidSession(t *testing.T) {
	repo := memory.NewStoreWith(domain.DailyStepRecord{Date: "2024-05-01", Steps: 500})
	h := startHarness(t, repo, at(2024, time.May, 1, 23))
	h.next(t)

	h.submit(t, StepReading(12000, time.Now()))
	h.next(t)
	h.submit(t, StepReading(12200, time.Now()))
	require.Equal(t, 700, h.next(t).Steps)

	h.clock.set(at(2024, time.May, 2, 0).Add(time.Minute))
	h.submit(t, DateCheck(time.Now()))
	require.Equal(t, 0, h.next(t).Steps)

	record, _, _ := repo.Load(context.Background())
	require.Equal(t, domain.DailyStepRecord{Date: "2024-05-02", Steps: 0}, record)

	h.submit(t, StepReading(12240, time.Now()))
	require.Equal(t, 40, h.next(t).Steps)

	h.stop(t)
}

func TestStepReadingRollsOverAfterMidnight(t *testing.T) {
	repo := &recordingRepo{Store: memory.NewStoreWith(domain.DailyStepRecord{Date: "2024-05-01", Steps: 500})}
	h := startHarness(t, repo, at(2024, time.May, 1, 23))
	h.next(t)

	h.submit(t, StepReading(12000, time.Now()))
	h.next(t)
	h.submit(t, StepReading(12200, time.Now()))
	require.Equal(t, 700, h.next(t).Steps)

	h.clock.set(at(2024, time.May, 2, 0).Add(time.Minute))
	h.submit(t, StepReading(12240, time.Now()))
	require.Equal(t, 40, h.next(t).Steps)

	require.Equal(t, []domain.DailyStepRecord{
		{Date: "2024-05-01", Steps: 500},
		{Date: "2024-05-01", Steps: 700},
		{Date: "2024-05-02", Steps: 0},
		{Date: "2024-05-02", Steps: 40},
	}, repo.saved())
	require.Equal(t, "40 pasos | Buscando...", h.presence.body())

	h.stop(t)
}

func TestStopPersistsAndIsIdempotent(t *testing.T) {
	repo := memory.NewStoreWith(domain.DailyStepRecord{Date: "2024-05-01", Steps: 10})
	h := startHarness(t, repo, at(2024, time.May, 1, 9))
	h.next(t)

	h.submit(t, StepReading(1, time.Now()))
	h.next(t)
	h.submit(t, StepReading(6, time.Now()))
	h.next(t)

	writes := repo.Writes()
	h.stop(t)
	h.tracker.Stop()
	h.tracker.Stop()

	require.Equal(t, writes+1, repo.Writes())
	record, _, _ := repo.Load(context.Background())
	require.Equal(t, 15, record.Steps)
	require.ErrorIs(t, h.tracker.Submit(context.Background(), StepReading(7, time.Now())), ErrStopped)
	require.Equal(t, 1, h.presence.stops)
}

func TestLoadFailureFallsBackToDefaults(t *testing.T) {
	repo := &failingRepo{loadErr: errors.New("disk unavailable")}
	clock := &testClock{now: at(2024, time.May, 1, 9)}
	tr := New(repo, nil, nil, WithClock(clock), WithLogger(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.NoError(t, tr.Submit(ctx, StepReading(40, time.Now())))
	require.NoError(t, tr.Submit(ctx, StepReading(45, time.Now())))
	require.Eventually(t, func() bool { return tr.Snapshot().Steps == 5 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, domain.DailyStepRecord{Date: "2024-05-01", Steps: 5}, repo.last)
}

func TestControllerRestartsAfterPanic(t *testing.T) {
	repo := &failingRepo{panicOnSave: 2}
	clock := &testClock{now: at(2024, time.May, 1, 9)}
	var built int
	var mu sync.Mutex
	factory := func() *Tracker {
		mu.Lock()
		built++
		mu.Unlock()
		return New(repo, nil, nil, WithClock(clock), WithLogger(zaptest.NewLogger(t)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := NewController(factory, zaptest.NewLogger(t))
	ctrl.Start(ctx)
	ctrl.Start(ctx)
	require.True(t, ctrl.Running())

	// First Save is the reset write during initialize; the second panics inside the loop.
	require.NoError(t, ctrl.Submit(ctx, StepReading(10, time.Now())))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return built == 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return ctrl.Submit(ctx, StepReading(20, time.Now())) == nil
	}, time.Second, 5*time.Millisecond)

	ctrl.Stop()
	ctrl.Stop()
	require.False(t, ctrl.Running())
	require.ErrorIs(t, ctrl.Submit(ctx, StepReading(30, time.Now())), ErrStopped)
	_, ok := ctrl.Snapshot()
	require.False(t, ok)
}

func TestControllerRegistersSourcesWithSession(t *testing.T) {
	sources := &stubSources{}
	req := location.Request{Interval: 10 * time.Second, FastestInterval: 5 * time.Second, Priority: location.PriorityHighAccuracy}
	factory := func() *Tracker {
		return New(memory.NewStore(), nil, nil, WithLogger(zaptest.NewLogger(t)))
	}

	ctrl := NewController(factory, zaptest.NewLogger(t), WithSourceControl(sources, req))
	ctrl.Start(context.Background())
	ctrl.Start(context.Background())

	require.Equal(t, []location.Request{req}, sources.registered())

	require.Eventually(t, func() bool {
		snap, ok := ctrl.Snapshot()
		return ok && snap.SessionID != "" && snap.Date != ""
	}, time.Second, 5*time.Millisecond)

	ctrl.Stop()
	require.Equal(t, 1, sources.unregisters())
}

type harness struct {
	tracker  *Tracker
	clock    *testClock
	presence *stubPresence
	updates  chan domain.Update
	cancel   context.CancelFunc
	done     chan error
}

func startHarness(t *testing.T, repo domain.StepRepository, now time.Time) *harness {
	t.Helper()
	h := &harness{
		clock:    &testClock{now: now},
		presence: &stubPresence{},
		updates:  make(chan domain.Update, 32),
		done:     make(chan error, 1),
	}
	h.tracker = New(repo, publisherFunc(func(u domain.Update) { h.updates <- u }), h.presence,
		WithClock(h.clock), WithLogger(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.tracker.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) submit(t *testing.T, msg Message) {
	t.Helper()
	require.NoError(t, h.tracker.Submit(context.Background(), msg))
}

func (h *harness) next(t *testing.T) domain.Update {
	t.Helper()
	select {
	case u := <-h.updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return domain.Update{}
	}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.tracker.Stop()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
	h.cancel()
}

func at(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.Local)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type publisherFunc func(domain.Update)

func (f publisherFunc) Publish(_ context.Context, u domain.Update) error {
	f(u)
	return nil
}

type stubPresence struct {
	mu     sync.Mutex
	text   string
	starts int
	stops  int
}

func (p *stubPresence) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	p.text = notify.StartingBody
	return nil
}

func (p *stubPresence) Update(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text = text
	return nil
}

func (p *stubPresence) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *stubPresence) body() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

type failingRepo struct {
	mu          sync.Mutex
	loadErr     error
	panicOnSave int
	saves       int
	last        domain.DailyStepRecord
}

func (r *failingRepo) Load(context.Context) (domain.DailyStepRecord, bool, error) {
	return domain.DailyStepRecord{}, false, r.loadErr
}

func (r *failingRepo) Save(_ context.Context, record domain.DailyStepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saves == r.panicOnSave {
		panic("storage driver crashed")
	}
	r.last = record
	return nil
}

type stubSources struct {
	mu     sync.Mutex
	reqs   []location.Request
	unregs int
}

func (s *stubSources) Register(_ context.Context, req location.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return nil
}

func (s *stubSources) Unregister(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregs++
	return nil
}

func (s *stubSources) registered() []location.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]location.Request(nil), s.reqs...)
}

func (s *stubSources) unregisters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unregs
}

type recordingRepo struct {
	*memory.Store

	mu      sync.Mutex
	history []domain.DailyStepRecord
}

func (r *recordingRepo) Save(ctx context.Context, record domain.DailyStepRecord) error {
	r.mu.Lock()
	r.history = append(r.history, record)
	r.mu.Unlock()
	return r.Store.Save(ctx, record)
}

func (r *recordingRepo) saved() []domain.DailyStepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DailyStepRecord(nil), r.history...)
}
