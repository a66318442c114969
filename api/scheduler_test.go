package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type countingRunner struct {
	clock generic.Clock
	runs  atomic.Int32
	err   error
}

func (r *countingRunner) Run(context.Context) (*payout.Report, error) {
	r.runs.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &payout.Report{RunID: "run", Date: generic.Today(r.clock)}, nil
}

func newTestScheduler(start string) (*AutoPayoutScheduler, *countingRunner, *movableClock) {
	clock := &movableClock{now: mustTime(start)}
	runner := &countingRunner{clock: clock}
	s := NewAutoPayoutScheduler(runner, time.Hour, 2)
	s.Clock = clock
	return s, runner, clock
}

func TestScheduler_RunsOncePerDayAfterHour(t *testing.T) {
	s, runner, clock := newTestScheduler("2025-03-10T01:30:00Z")
	ctx := context.Background()

	// GIVEN: before the configured hour
	s.check(ctx)
	assert.Equal(t, int32(0), runner.runs.Load())

	// WHEN: the hour is reached
	clock.Set(mustTime("2025-03-10T02:05:00Z"))
	s.check(ctx)
	s.check(ctx)

	// THEN: exactly one pass today
	assert.Equal(t, int32(1), runner.runs.Load())

	// AND: the next day runs again
	clock.Set(mustTime("2025-03-11T02:00:00Z"))
	s.check(ctx)
	assert.Equal(t, int32(2), runner.runs.Load())
}

func TestScheduler_FailedPassIsRetried(t *testing.T) {
	s, runner, _ := newTestScheduler("2025-03-10T03:00:00Z")
	runner.err = errors.New("store unavailable")

	s.check(context.Background())
	s.check(context.Background())
	assert.Equal(t, int32(2), runner.runs.Load())

	runner.err = nil
	s.check(context.Background())
	s.check(context.Background())
	assert.Equal(t, int32(3), runner.runs.Load())
}

func TestScheduler_NextRunTime(t *testing.T) {
	s, _, clock := newTestScheduler("2025-03-10T01:00:00Z")
	assert.Equal(t, mustTime("2025-03-10T02:00:00Z"), s.NextRunTime())

	clock.Set(mustTime("2025-03-10T05:00:00Z"))
	assert.Equal(t, mustTime("2025-03-10T05:00:00Z"), s.NextRunTime(), "overdue runs now")

	_, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mustTime("2025-03-11T02:00:00Z"), s.NextRunTime())
}

func TestScheduler_ServeStopsOnCancel(t *testing.T) {
	s, runner, _ := newTestScheduler("2025-03-10T03:00:00Z")
	s.CheckInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return runner.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), runner.runs.Load(), "one pass per day despite many ticks")
}
