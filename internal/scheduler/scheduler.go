// Package scheduler produces periodic calendar-date checks for the tracker.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"example.com/steptracker/internal/tracker"
)

// Submitter accepts tracker messages.
type Submitter interface {
	Submit(ctx context.Context, msg tracker.Message) error
}

// Scheduler wraps a gocron scheduler that asks the tracker to re-check the date.
type Scheduler struct {
	scheduler gocron.Scheduler
	target    Submitter
	logger    *zap.Logger
}

// New creates a Scheduler bound to the local time zone of loc (time.Local when nil).
func New(target Submitter, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, target: target, logger: logger}, nil
}

// ScheduleDateChecks registers a check every interval plus one just after local midnight.
// A zero interval schedules only the midnight check.
func (s *Scheduler) ScheduleDateChecks(interval time.Duration) error {
	if interval > 0 {
		if _, err := s.scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(s.check),
			gocron.WithName("date-check"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("failed to create date check job: %w", err)
		}
	}
	if _, err := s.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 1))),
		gocron.NewTask(s.check),
		gocron.WithName("midnight-date-check"),
	); err != nil {
		return fmt.Errorf("failed to create midnight check job: %w", err)
	}
	return nil
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.logger.Info("starting date check scheduler", zap.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.target.Submit(ctx, tracker.DateCheck(time.Now())); err != nil {
		s.logger.Debug("date check not delivered", zap.Error(err))
	}
}
