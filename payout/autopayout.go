/*
autopayout.go - Auto-Payout runner

PURPOSE:
  One pass over every venue with automatic payouts enabled. Intended to be
  invoked once a day (api.AutoPayoutScheduler or cmd/autopayout).

PER-VENUE STATE MACHINE:
  not due -> due -> period computed -> executed

  1. Skip venues that are not due today (IsDue)
  2. Skip venues without a collection account
  3. Window = NextWindow(cursor, latest covered day); skip if empty
  4. CalculatePayout, then ExecutePayout
  5. On full success, advance last_auto_payout_at by compare-and-set

ISOLATION:
  Venues run with bounded parallelism. Each venue gets its own timeout and a
  panic in one venue is recovered and reported as that venue's failure. No
  mutable state is shared between venue runs other than the report slots.

SEE ALSO:
  - schedule.go: IsDue, NextWindow
  - api/scheduler.go: Ticker-driven service wrapper
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/metrics"
)

// ErrRunInProgress is returned when a pass is requested while one is running.
var ErrRunInProgress = errors.New("auto-payout run already in progress")

type VenueResult string

const (
	VenueCompleted      VenueResult = "completed"
	VenuePartialFailure VenueResult = "partial_failure"
	VenueFailed         VenueResult = "failed"
	VenueSkipped        VenueResult = "skipped"
)

// VenueOutcome is the result of one due venue.
type VenueOutcome struct {
	VenueID   string
	VenueName string
	Result    VenueResult
	Reason    string
	PayoutID  string
	Period    *generic.Period
}

// Report summarizes one scheduler pass.
type Report struct {
	RunID           string
	Date            generic.TimePoint
	StartedAt       time.Time
	FinishedAt      time.Time
	Checked         int
	Due             int
	Completed       int
	PartialFailures int
	Failed          int
	Skipped         int
	Venues          []VenueOutcome
}

// AutoPayoutOptions configures the runner.
type AutoPayoutOptions struct {
	MaxConcurrentVenues int
	VenueTimeout        time.Duration
	Clock               generic.Clock
}

// AutoPayout runs the automatic payout pipeline for due venues.
type AutoPayout struct {
	venues       VenueStore
	records      RecordStore
	service      *Service
	clock        generic.Clock
	concurrency  int
	venueTimeout time.Duration
	running      sync.Mutex
	log          zerolog.Logger
}

func NewAutoPayout(store Store, service *Service, opts AutoPayoutOptions) *AutoPayout {
	if opts.Clock == nil {
		opts.Clock = generic.SystemClock{}
	}
	if opts.MaxConcurrentVenues <= 0 {
		opts.MaxConcurrentVenues = 1
	}
	if opts.VenueTimeout <= 0 {
		opts.VenueTimeout = 5 * time.Minute
	}
	return &AutoPayout{
		venues:       store,
		records:      store,
		service:      service,
		clock:        opts.Clock,
		concurrency:  opts.MaxConcurrentVenues,
		venueTimeout: opts.VenueTimeout,
		log:          logging.WithComponent("autopayout"),
	}
}

// Run performs one pass. It only returns an error when the pass could not
// start; per-venue failures are in the report.
func (a *AutoPayout) Run(ctx context.Context) (*Report, error) {
	if !a.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer a.running.Unlock()

	runID := logging.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logging.Ctx(ctx, a.log)

	report := &Report{RunID: runID, StartedAt: a.clock.Now().UTC(), Date: generic.Today(a.clock)}
	started := time.Now()

	venues, err := a.venues.ListAutoPayoutVenues(ctx)
	if err != nil {
		metrics.RecordSchedulerRun(time.Since(started), err)
		return nil, fmt.Errorf("list auto-payout venues: %w", err)
	}
	report.Checked = len(venues)

	var due []Venue
	for _, v := range venues {
		if IsDue(v, report.Date) {
			due = append(due, v)
		}
	}
	report.Due = len(due)
	log.Info().Int("checked", report.Checked).Int("due", report.Due).Str("date", report.Date.String()).Msg("auto-payout pass started")

	outcomes := make([]VenueOutcome, len(due))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, v := range due {
		g.Go(func() error {
			outcomes[i] = a.runVenue(ctx, v, report.Date)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o.Result {
		case VenueCompleted:
			report.Completed++
		case VenuePartialFailure:
			report.PartialFailures++
		case VenueFailed:
			report.Failed++
		case VenueSkipped:
			report.Skipped++
		}
		metrics.SchedulerVenues.WithLabelValues(string(o.Result)).Inc()
	}
	report.Venues = outcomes
	report.FinishedAt = a.clock.Now().UTC()
	metrics.RecordSchedulerRun(time.Since(started), nil)

	log.Info().
		Int("completed", report.Completed).
		Int("partial_failures", report.PartialFailures).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("auto-payout pass finished")
	return report, nil
}

func (a *AutoPayout) runVenue(ctx context.Context, v Venue, today generic.TimePoint) (out VenueOutcome) {
	out = VenueOutcome{VenueID: v.ID, VenueName: v.Name}
	log := logging.Ctx(ctx, a.log).With().Str("venue_id", v.ID).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("venue run panicked")
			out.Result = VenueFailed
			out.Reason = fmt.Sprintf("internal error: %v", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, a.venueTimeout)
	defer cancel()

	if !v.Onboarded() {
		return skip(out, "no collection account")
	}

	existing, err := a.records.ListPayouts(ctx, v.ID)
	if err != nil {
		return fail(out, fmt.Errorf("list payouts: %w", err))
	}
	period, ok := NextWindow(v, today, latestCovered(existing))
	if !ok {
		return skip(out, "nothing new to pay")
	}
	out.Period = &period

	p, err := a.service.CalculatePayout(ctx, v.ID, period)
	if err != nil {
		if errors.Is(err, ErrNoTipsInPeriod) || errors.Is(err, ErrNoEligibleEmployees) {
			return skip(out, err.Error())
		}
		log.Error().Err(err).Str("period", period.String()).Msg("auto-payout calculation failed")
		return fail(out, err)
	}
	out.PayoutID = p.ID

	result, err := a.service.ExecutePayout(ctx, p.ID)
	var partial *PartialFailureError
	switch {
	case errors.As(err, &partial):
		log.Warn().Err(err).Str("payout_id", p.ID).Str("status", string(partial.Status)).Msg("auto-payout finished with failed transfers")
		if partial.Status == StatusPartiallyCompleted {
			out.Result = VenuePartialFailure
			out.Reason = err.Error()
			return out
		}
		return fail(out, err)
	case err != nil:
		log.Error().Err(err).Str("payout_id", p.ID).Msg("auto-payout execution failed, payout left for manual retry")
		return fail(out, err)
	}

	if err := a.venues.AdvanceAutoPayoutCursor(ctx, v.ID, v.LastAutoPayoutAt, a.clock.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("could not advance auto-payout cursor")
	}
	log.Info().Str("payout_id", p.ID).Str("status", string(result.Payout.Status)).Msg("auto-payout completed")
	out.Result = VenueCompleted
	return out
}

func skip(o VenueOutcome, reason string) VenueOutcome {
	o.Result = VenueSkipped
	o.Reason = reason
	return o
}

func fail(o VenueOutcome, err error) VenueOutcome {
	o.Result = VenueFailed
	o.Reason = err.Error()
	return o
}
