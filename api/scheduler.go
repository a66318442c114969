/*
scheduler.go - Daily auto-payout scheduler

PURPOSE:
  Triggers one auto-payout pass per UTC day. The pass itself lives in
  payout.AutoPayout; this file only decides when to call it.

DESIGN:
  - Runs as a suture.Service; cancelling the Serve context stops it
  - Checks on start and then every CheckInterval
  - A pass starts once the UTC hour reaches RunAtHour and no pass has
    completed yet today
  - A failed pass is not marked done, so the next tick tries again. Venue
    cursors make a repeated pass a no-op for venues already paid

CONFIGURATION:
  - scheduler.check_interval (default 10m)
  - scheduler.run_at_hour    (default 2, UTC)

SEE ALSO:
  - payout/autopayout.go: The pass
  - cmd/autopayout: One-shot alternative for an external cron
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/payout"
)

// AutoPayoutScheduler runs the auto-payout pass once a day.
type AutoPayoutScheduler struct {
	Runner        AutoPayoutRunner
	CheckInterval time.Duration
	RunAtHour     int
	Clock         generic.Clock

	mu      sync.Mutex
	lastRun generic.TimePoint // UTC date of the last successful pass
	log     zerolog.Logger
}

// NewAutoPayoutScheduler creates a scheduler with the default interval.
func NewAutoPayoutScheduler(runner AutoPayoutRunner, checkInterval time.Duration, runAtHour int) *AutoPayoutScheduler {
	if checkInterval <= 0 {
		checkInterval = 10 * time.Minute
	}
	return &AutoPayoutScheduler{
		Runner:        runner,
		CheckInterval: checkInterval,
		RunAtHour:     runAtHour,
		Clock:         generic.SystemClock{},
		log:           logging.WithComponent("scheduler"),
	}
}

// Serve implements suture.Service.
func (s *AutoPayoutScheduler) Serve(ctx context.Context) error {
	s.log.Info().
		Dur("check_interval", s.CheckInterval).
		Int("run_at_hour", s.RunAtHour).
		Msg("auto-payout scheduler started")

	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()

	s.check(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("auto-payout scheduler stopped")
			return nil
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check starts today's pass if it is due.
func (s *AutoPayoutScheduler) check(ctx context.Context) {
	now := s.Clock.Now().UTC()
	today := generic.DateOf(now)
	if now.Hour() < s.RunAtHour || s.ranOn(today) {
		return
	}
	if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, payout.ErrRunInProgress) {
		s.log.Error().Err(err).Str("date", today.String()).Msg("auto-payout pass failed, will retry")
	}
}

// RunNow performs a pass immediately and marks today as done on success.
func (s *AutoPayoutScheduler) RunNow(ctx context.Context) (*payout.Report, error) {
	report, err := s.Runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastRun = report.Date
	s.mu.Unlock()
	return report, nil
}

func (s *AutoPayoutScheduler) ranOn(day generic.TimePoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastRun.IsZero() && s.lastRun.Equal(day)
}

// NextRunTime returns when the next pass becomes due.
func (s *AutoPayoutScheduler) NextRunTime() time.Time {
	now := s.Clock.Now().UTC()
	today := generic.DateOf(now)
	at := today.StartOfDay().Add(time.Duration(s.RunAtHour) * time.Hour)
	if s.ranOn(today) {
		return at.AddDate(0, 0, 1)
	}
	if now.Before(at) {
		return at
	}
	return now
}

func (s *AutoPayoutScheduler) String() string { return "auto-payout-scheduler" }
