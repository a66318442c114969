/*
service.go - Payout Service (operator and scheduler entry points)

PURPOSE:
  Orchestrates the pipeline. Calculation produces a pending payout (no money
  moves); execution moves money and finalizes the status.

CALCULATE:
  venue -> roster + settled tips -> Calculate -> Recorder.Save

EXECUTE / RETRY:
  1. Load payout, check status (pending for execute, partial/failed for retry)
  2. Venue must be onboarded (collection account)
  3. Every outstanding distribution must have payee details   <- before money moves
  4. CAS status -> processing                                  <- single-writer lock
  5. Recollect tip transfers (best effort)
  6. Balance guard                                             <- failure releases the lock
  7. Transfer executor (fan-out / fan-in)
  8. Aggregate, CAS processing -> terminal, set processed_at

  Any error in steps 5-6 puts the payout back in its previous status so it
  can be retried once funds settle. After step 7 starts there is no rollback:
  money movement is only reversible through the processor.

SEE ALSO:
  - autopayout.go: Scheduler driving the same pipeline
  - api/handlers.go: HTTP surface
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/metrics"
	"github.com/warp/payout-engine/processor"
)

// Options configures a Service.
type Options struct {
	FeeBPS                 int64
	Currency               string
	Country                string
	MaxConcurrentTransfers int
	TopUpBuffer            generic.Amount
	Funder                 Funder // nil outside the sandbox
	Policy                 AggregationPolicy
	Clock                  generic.Clock
}

// ExecutionResult is returned by ExecutePayout and RetryPayout.
type ExecutionResult struct {
	Payout       *Payout
	Summary      ExecutionSummary
	Results      []TransferResult
	Recollection RecollectionSummary
}

// Service is the payout engine's public API.
type Service struct {
	store     Store
	recorder  *Recorder
	recollect *Recollector
	guard     *BalanceGuard
	executor  *TransferExecutor
	feeBPS    int64
	policy    AggregationPolicy
	clock     generic.Clock
	log       zerolog.Logger
}

func NewService(store Store, client processor.Client, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = generic.SystemClock{}
	}
	if opts.FeeBPS <= 0 {
		opts.FeeBPS = DefaultFeeBPS
	}
	if opts.Currency == "" {
		opts.Currency = "aud"
	}
	if opts.Country == "" {
		opts.Country = "AU"
	}
	payees := NewPayeeProvisioner(client, store, opts.Country, opts.Currency)
	return &Service{
		store:     store,
		recorder:  NewRecorder(store, opts.Clock),
		recollect: NewRecollector(client),
		guard:     NewBalanceGuard(client, opts.Funder, opts.Currency, opts.TopUpBuffer),
		executor:  NewTransferExecutor(client, payees, store, opts.Currency, opts.MaxConcurrentTransfers),
		feeBPS:    opts.FeeBPS,
		policy:    opts.Policy,
		clock:     opts.Clock,
		log:       logging.WithComponent("payout"),
	}
}

// =============================================================================
// CALCULATION
// =============================================================================

// CalculatePayout computes and stores a pending payout for the period.
func (s *Service) CalculatePayout(ctx context.Context, venueID string, period generic.Period) (*Payout, error) {
	calc, err := s.calculate(ctx, venueID, period)
	if err != nil {
		return nil, err
	}
	return s.recorder.Save(ctx, venueID, *calc)
}

// Preview runs the calculation without persisting anything.
func (s *Service) Preview(ctx context.Context, venueID string, period generic.Period) (*Calculation, error) {
	return s.calculate(ctx, venueID, period)
}

func (s *Service) calculate(ctx context.Context, venueID string, period generic.Period) (*Calculation, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	venue, err := s.store.GetVenue(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("load venue: %w", err)
	}
	if venue == nil {
		return nil, ErrVenueNotFound
	}
	employees, err := s.store.ListEmployees(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("load employees: %w", err)
	}
	tips, err := s.store.SettledTips(ctx, venueID, period)
	if err != nil {
		return nil, fmt.Errorf("load tips: %w", err)
	}

	calc, err := Calculate(CalculationInput{Period: period, Employees: employees, Tips: tips, FeeBPS: s.feeBPS})
	if err != nil {
		return nil, err
	}
	return &calc, nil
}

// =============================================================================
// EXECUTION
// =============================================================================

// ExecutePayout moves money for a pending payout.
func (s *Service) ExecutePayout(ctx context.Context, payoutID string) (*ExecutionResult, error) {
	return s.execute(ctx, payoutID, false)
}

// RetryPayout re-attempts the failed distributions of a partially completed
// or failed payout. Completed distributions are never paid again.
func (s *Service) RetryPayout(ctx context.Context, payoutID string) (*ExecutionResult, error) {
	return s.execute(ctx, payoutID, true)
}

func (s *Service) execute(ctx context.Context, payoutID string, retry bool) (*ExecutionResult, error) {
	log := logging.Ctx(ctx, s.log).With().Str("payout_id", payoutID).Bool("retry", retry).Logger()

	p, err := s.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if err := checkExecutable(p.Status, retry); err != nil {
		metrics.PayoutExecutions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	venue, err := s.store.GetVenue(ctx, p.VenueID)
	if err != nil {
		return nil, fmt.Errorf("load venue: %w", err)
	}
	if venue == nil {
		return nil, ErrVenueNotFound
	}
	if !venue.Onboarded() {
		return nil, ErrVenueNotOnboarded
	}
	if err := s.validatePayees(ctx, p); err != nil {
		return nil, err
	}

	previous := p.Status
	if err := s.store.CompareAndSetStatus(ctx, p.ID, previous, StatusProcessing, nil); err != nil {
		if errors.Is(err, generic.ErrConcurrentModification) {
			metrics.PayoutExecutions.WithLabelValues("rejected").Inc()
			return nil, checkExecutable(StatusProcessing, retry)
		}
		return nil, fmt.Errorf("claim payout: %w", err)
	}
	p.Status = StatusProcessing
	log.Info().Str("venue_id", p.VenueID).Msg("payout claimed for execution")

	tips, err := s.store.SettledTips(ctx, p.VenueID, p.Period)
	if err != nil {
		s.release(ctx, p, previous, log)
		return nil, fmt.Errorf("load tips: %w", err)
	}
	recollected := s.recollect.Recollect(ctx, p.ID, tips)

	if err := s.guard.Ensure(ctx, outstanding(p)); err != nil {
		s.release(ctx, p, previous, log)
		return nil, err
	}

	outcome := s.executor.Execute(ctx, p)
	status := Aggregate(outcome.Results, s.policy)
	now := s.clock.Now().UTC()

	// finalize even if the caller went away; transfers already happened
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.CompareAndSetStatus(finCtx, p.ID, StatusProcessing, status, &now); err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("failed to finalize payout status")
		return nil, fmt.Errorf("finalize payout: %w", err)
	}
	p.Status = status
	p.ProcessedAt = &now
	metrics.PayoutExecutions.WithLabelValues(string(status)).Inc()

	result := &ExecutionResult{
		Payout:       p,
		Summary:      Summarize(outcome.Results),
		Results:      outcome.Results,
		Recollection: recollected,
	}
	log.Info().
		Str("status", string(status)).
		Int("completed", result.Summary.Completed).
		Int("failed", result.Summary.Failed).
		Int("previously_completed", result.Summary.PreviouslyCompleted).
		Msg("payout executed")

	if !outcome.AllSucceeded {
		return result, &PartialFailureError{Status: status, Failures: outcome.Failures()}
	}
	return result, nil
}

func checkExecutable(status Status, retry bool) error {
	if retry {
		if !status.Retryable() {
			return fmt.Errorf("%w (status %s)", ErrPayoutNotRetryable, status)
		}
		return nil
	}
	if status != StatusPending {
		return fmt.Errorf("%w (status %s)", ErrPayoutNotPending, status)
	}
	return nil
}

// validatePayees checks every outstanding distribution before anything moves.
// Bank details are required even when a payee identity already exists.
func (s *Service) validatePayees(ctx context.Context, p *Payout) error {
	var missing []string
	for _, d := range p.Distributions {
		if !d.Outstanding() {
			continue
		}
		emp, err := s.store.GetEmployee(ctx, d.EmployeeID)
		if err != nil {
			return fmt.Errorf("load employee %s: %w", d.EmployeeID, err)
		}
		switch {
		case emp == nil:
			missing = append(missing, nameOr(d.EmployeeName, d.EmployeeID))
		case !emp.Bank.Complete():
			missing = append(missing, displayName(*emp))
		}
	}
	if len(missing) > 0 {
		return &MissingPayeeDetailsError{Employees: missing}
	}
	return nil
}

// release hands the lock back after a failure before any transfer started.
func (s *Service) release(ctx context.Context, p *Payout, to Status, log zerolog.Logger) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.CompareAndSetStatus(relCtx, p.ID, StatusProcessing, to, nil); err != nil {
		log.Error().Err(err).Msg("failed to release payout, stuck in processing")
		return
	}
	p.Status = to
}

func outstanding(p *Payout) generic.Amount {
	var amounts []generic.Amount
	for _, d := range p.Distributions {
		if d.Outstanding() {
			amounts = append(amounts, d.Amount)
		}
	}
	return generic.Sum(amounts...)
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// =============================================================================
// QUERIES & CORRECTIONS
// =============================================================================

// GetPayout returns a payout with its distributions.
func (s *Service) GetPayout(ctx context.Context, payoutID string) (*Payout, error) {
	p, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, fmt.Errorf("load payout: %w", err)
	}
	if p == nil {
		return nil, ErrPayoutNotFound
	}
	return p, nil
}

// ListPayouts returns a venue's payouts.
func (s *Service) ListPayouts(ctx context.Context, venueID string) ([]Payout, error) {
	venue, err := s.store.GetVenue(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("load venue: %w", err)
	}
	if venue == nil {
		return nil, ErrVenueNotFound
	}
	return s.store.ListPayouts(ctx, venueID)
}

// CancelPayout deletes a payout that is still pending. The status is first
// moved to processing so a concurrent execute cannot start on it.
func (s *Service) CancelPayout(ctx context.Context, payoutID string) error {
	p, err := s.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}
	if err := checkExecutable(p.Status, false); err != nil {
		return err
	}
	if err := s.store.CompareAndSetStatus(ctx, p.ID, StatusPending, StatusProcessing, nil); err != nil {
		if errors.Is(err, generic.ErrConcurrentModification) {
			return checkExecutable(StatusProcessing, false)
		}
		return fmt.Errorf("claim payout: %w", err)
	}
	if err := s.store.DeletePayout(ctx, p.ID); err != nil {
		s.release(ctx, p, StatusPending, s.log)
		return fmt.Errorf("delete payout: %w", err)
	}
	logging.Ctx(ctx, s.log).Info().Str("payout_id", p.ID).Str("venue_id", p.VenueID).Msg("pending payout cancelled")
	return nil
}
