package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
)

// TestCharger can fund the platform balance with test charges.
type TestCharger interface {
	Environment() Environment
	CreateTestCharge(ctx context.Context, amount generic.Amount, currency, source, idempotencyKey string) error
}

// defaultTestSources are tried in order; the second settles immediately.
var defaultTestSources = []string{"tok_visa", "tok_bypassPending"}

// SandboxFunder tops up the platform balance in the processor's test mode.
// It cannot be constructed for a live client.
type SandboxFunder struct {
	charger     TestCharger
	sources     []string
	settleDelay time.Duration
	log         zerolog.Logger
}

// NewSandboxFunder returns a funder bound to a sandbox client.
func NewSandboxFunder(charger TestCharger, settleDelay time.Duration) (*SandboxFunder, error) {
	if charger == nil || charger.Environment() != EnvironmentSandbox {
		return nil, ErrNotSandbox
	}
	return &SandboxFunder{
		charger:     charger,
		sources:     defaultTestSources,
		settleDelay: settleDelay,
		log:         logging.WithComponent("sandbox-funder"),
	}, nil
}

// TopUp charges amount in currency, falling back through the test sources.
func (f *SandboxFunder) TopUp(ctx context.Context, amount generic.Amount, currency string) error {
	if !amount.IsPositive() {
		return nil
	}
	var errs []error
	for _, source := range f.sources {
		key := "topup-" + uuid.NewString()
		err := f.charger.CreateTestCharge(ctx, amount, currency, source, key)
		if err == nil {
			f.log.Warn().Int64("amount", amount.Int64()).Str("currency", currency).Str("source", source).
				Msg("sandbox platform balance topped up")
			return f.wait(ctx)
		}
		if errors.Is(err, ErrNotSandbox) {
			return err
		}
		errs = append(errs, fmt.Errorf("%s: %w", source, err))
	}
	return fmt.Errorf("sandbox top-up failed: %w", errors.Join(errs...))
}

func (f *SandboxFunder) wait(ctx context.Context) error {
	if f.settleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(f.settleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
