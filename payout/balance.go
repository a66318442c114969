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
// BALANCE GUARD - Balance Assurance Guard
// =============================================================================

// Funder adds money to the platform holding balance. Only the sandbox
// environment wires one (processor.SandboxFunder); live deployments pass nil
// and a shortfall always fails closed.
type Funder interface {
	TopUp(ctx context.Context, amount generic.Amount, currency string) error
}

// BalanceGuard checks the available holding balance before money moves.
type BalanceGuard struct {
	client   processor.Client
	funder   Funder
	currency string
	buffer   generic.Amount // added on top of the shortfall when topping up
	log      zerolog.Logger
}

func NewBalanceGuard(client processor.Client, funder Funder, currency string, buffer generic.Amount) *BalanceGuard {
	return &BalanceGuard{
		client:   client,
		funder:   funder,
		currency: currency,
		buffer:   buffer,
		log:      logging.WithComponent("balance-guard"),
	}
}

// Ensure returns nil when the available balance covers needed. Otherwise it
// tops up through the Funder if one is configured, and re-checks.
func (g *BalanceGuard) Ensure(ctx context.Context, needed generic.Amount) error {
	log := logging.Ctx(ctx, g.log)

	available, err := g.available(ctx)
	if err != nil {
		metrics.BalanceChecks.WithLabelValues("error").Inc()
		return err
	}
	if !available.LessThan(needed) {
		metrics.BalanceChecks.WithLabelValues("sufficient").Inc()
		return nil
	}

	if g.funder == nil {
		metrics.BalanceChecks.WithLabelValues("insufficient").Inc()
		log.Warn().Int64("available", available.Int64()).Int64("needed", needed.Int64()).Msg("insufficient platform balance")
		return &InsufficientBalanceError{Available: available, Needed: needed, Currency: g.currency}
	}

	topUp := needed.Sub(available).Add(g.buffer)
	log.Warn().Int64("amount", topUp.Int64()).Msg("topping up platform balance")
	if err := g.funder.TopUp(ctx, topUp, g.currency); err != nil {
		metrics.BalanceChecks.WithLabelValues("error").Inc()
		return fmt.Errorf("top up platform balance: %w", err)
	}

	available, err = g.available(ctx)
	if err != nil {
		metrics.BalanceChecks.WithLabelValues("error").Inc()
		return err
	}
	if available.LessThan(needed) {
		metrics.BalanceChecks.WithLabelValues("insufficient").Inc()
		return &InsufficientBalanceError{Available: available, Needed: needed, Currency: g.currency}
	}
	metrics.BalanceChecks.WithLabelValues("topped_up").Inc()
	return nil
}

func (g *BalanceGuard) available(ctx context.Context) (generic.Amount, error) {
	bal, err := g.client.RetrieveBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("retrieve balance: %w", err)
	}
	return bal.AvailableIn(g.currency), nil
}
