package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/metrics"
)

// =============================================================================
// RECORDER - Payout Record Store
// =============================================================================

// Recorder persists a Calculation as a pending payout with its distributions.
// Payout row first, then all distributions as one batch; if the batch fails
// the payout row is deleted again so no pending payout exists without rows.
type Recorder struct {
	records RecordStore
	clock   generic.Clock
	venues  keyedMutex
	log     zerolog.Logger
}

func NewRecorder(records RecordStore, clock generic.Clock) *Recorder {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Recorder{records: records, clock: clock, log: logging.WithComponent("recorder")}
}

// Save rejects periods overlapping an existing payout of the venue, then
// stores the payout and returns it with distributions attached.
func (r *Recorder) Save(ctx context.Context, venueID string, calc Calculation) (*Payout, error) {
	unlock := r.venues.Lock(venueID)
	defer unlock()

	existing, err := r.records.ListPayouts(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	for _, p := range existing {
		if p.Period.Overlaps(calc.Period) {
			return nil, &PeriodOverlapError{ExistingPayoutID: p.ID, Existing: p.Period}
		}
	}

	p := &Payout{
		ID:          uuid.NewString(),
		VenueID:     venueID,
		Period:      calc.Period,
		TotalAmount: calc.TotalAmount,
		PlatformFee: calc.PlatformFee,
		NetAmount:   calc.NetAmount,
		Status:      StatusPending,
		CreatedAt:   r.clock.Now().UTC(),
	}
	if err := r.records.CreatePayout(ctx, p); err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}

	dists := make([]Distribution, len(calc.Shares))
	for i, s := range calc.Shares {
		dists[i] = Distribution{
			ID:              uuid.NewString(),
			PayoutID:        p.ID,
			EmployeeID:      s.EmployeeID,
			EmployeeName:    s.EmployeeName,
			Amount:          s.Amount,
			DaysActive:      s.DaysActive,
			TotalPeriodDays: s.TotalPeriodDays,
			IsProrated:      s.IsProrated,
			Status:          DistributionPending,
		}
	}
	if err := r.records.CreateDistributions(ctx, dists); err != nil {
		// compensating delete; a fresh context so a cancelled request still cleans up
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if delErr := r.records.DeletePayout(cleanupCtx, p.ID); delErr != nil {
			r.log.Error().Err(delErr).Str("payout_id", p.ID).Msg("compensating delete failed, orphaned pending payout")
		}
		return nil, fmt.Errorf("create distributions: %w", err)
	}

	p.Distributions = dists
	metrics.PayoutsCalculated.Inc()
	metrics.PayoutNetAmount.Add(float64(p.NetAmount.Int64()))
	logging.Ctx(ctx, r.log).Info().
		Str("payout_id", p.ID).
		Str("venue_id", venueID).
		Str("period", p.Period.String()).
		Int64("net_amount", p.NetAmount.Int64()).
		Int("distributions", len(dists)).
		Msg("payout recorded")
	return p, nil
}
