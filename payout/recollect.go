package payout

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/metrics"
	"github.com/warp/payout-engine/processor"
)

// =============================================================================
// RECOLLECTOR - Fund Recollection Executor
// =============================================================================

// RecollectionSummary counts what happened to each tip's auto-forward.
type RecollectionSummary struct {
	Reversed int
	Skipped  int // no transfer, or already fully reversed
	Failed   int
	Amount   generic.Amount // total pulled back
}

// Recollector reverses the per-tip transfers that forwarded tips to the
// venue's collection account, so the platform holds the money it is about to
// distribute. Best effort: a failed reversal is logged and skipped, the
// balance guard catches any resulting shortfall.
type Recollector struct {
	client processor.Client
	log    zerolog.Logger
}

func NewRecollector(client processor.Client) *Recollector {
	return &Recollector{client: client, log: logging.WithComponent("recollector")}
}

// Recollect reverses the unreversed remainder of every tip's transfer.
// Reversal keys are derived from payout and tip ids, so re-running for the
// same payout never reverses twice.
func (r *Recollector) Recollect(ctx context.Context, payoutID string, tips []Tip) RecollectionSummary {
	log := logging.Ctx(ctx, r.log).With().Str("payout_id", payoutID).Logger()
	var sum RecollectionSummary

	for _, tip := range tips {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("recollection interrupted")
			break
		}
		amount, err := r.recollectTip(ctx, payoutID, tip)
		switch {
		case err != nil:
			sum.Failed++
			metrics.Reversals.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Str("tip_id", tip.ID).Msg("failed to reverse tip transfer, continuing")
		case amount.IsZero():
			sum.Skipped++
			metrics.Reversals.WithLabelValues("skipped").Inc()
		default:
			sum.Reversed++
			sum.Amount = sum.Amount.Add(amount)
			metrics.Reversals.WithLabelValues("reversed").Inc()
		}
	}

	log.Info().
		Int("reversed", sum.Reversed).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Int64("amount", sum.Amount.Int64()).
		Msg("recollection finished")
	return sum
}

func (r *Recollector) recollectTip(ctx context.Context, payoutID string, tip Tip) (generic.Amount, error) {
	transferRef := tip.TransferRef
	if transferRef == "" && tip.PaymentRef != "" {
		payment, err := r.client.RetrievePayment(ctx, tip.PaymentRef)
		if err != nil {
			return 0, fmt.Errorf("retrieve payment %s: %w", tip.PaymentRef, err)
		}
		transferRef = payment.TransferRef
	}
	if transferRef == "" {
		return 0, nil
	}

	transfer, err := r.client.RetrieveTransfer(ctx, transferRef)
	if err != nil {
		return 0, fmt.Errorf("retrieve transfer %s: %w", transferRef, err)
	}
	remaining := transfer.Unreversed()
	if !remaining.IsPositive() {
		return 0, nil
	}

	key := fmt.Sprintf("recollect-%s-%s", payoutID, tip.ID)
	if _, err := r.client.ReverseTransfer(ctx, transferRef, remaining, key); err != nil {
		return 0, fmt.Errorf("reverse transfer %s: %w", transferRef, err)
	}
	return remaining, nil
}
