package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/steptracker/internal/tracker"
)

func TestScheduleDateChecksSubmitsPeriodically(t *testing.T) {
	target := &countingSubmitter{}
	s, err := New(target, time.UTC, nil)
	require.NoError(t, err)

	require.NoError(t, s.ScheduleDateChecks(20*time.Millisecond))
	require.Len(t, s.scheduler.Jobs(), 2)

	s.Start()
	require.Eventually(t, func() bool { return target.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())

	for _, msg := range target.snapshot() {
		require.Equal(t, tracker.KindDateCheck, msg.Kind)
	}
}

func TestZeroIntervalSchedulesOnlyMidnight(t *testing.T) {
	s, err := New(&countingSubmitter{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.ScheduleDateChecks(0))
	require.Len(t, s.scheduler.Jobs(), 1)
	require.Equal(t, "midnight-date-check", s.scheduler.Jobs()[0].Name())

	s.Start()
	require.NoError(t, s.Stop())
}

type countingSubmitter struct {
	mu   sync.Mutex
	msgs []tracker.Message
}

func (c *countingSubmitter) Submit(_ context.Context, msg tracker.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *countingSubmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *countingSubmitter) snapshot() []tracker.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tracker.Message(nil), c.msgs...)
}
