/*
transfer.go - Transfer Executor

PURPOSE:
  Pays every outstanding distribution of a payout. Each employee is handled
  independently: a failure for one (bad account, processor outage) is recorded
  on that distribution and never blocks the others.

CONCURRENCY:
  Distributions fan out over an errgroup bounded by SetLimit. Each goroutine
  writes only its own slot of the result slice; Wait() is the barrier before
  the status is aggregated. Goroutines always return nil so one failure does
  not cancel its siblings.

IDEMPOTENCY:
  The transfer idempotency key is "payout-dist-{distribution}-{attempt}".
  Processor-level retries inside one attempt reuse the key. Completed
  distributions are skipped entirely, so a retry never pays twice.

SEE ALSO:
  - payee.go: Get-or-create payee identity
  - aggregate.go: Rolls results into the payout status
*/
package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/metrics"
	"github.com/warp/payout-engine/processor"
)

// TransferResult is the outcome for one employee.
type TransferResult struct {
	DistributionID      string
	EmployeeID          string
	EmployeeName        string
	Amount              int64
	Status              DistributionStatus
	TransferRef         string
	Error               string
	PreviouslyCompleted bool
}

// ExecutionOutcome is the fan-in of all per-employee results.
type ExecutionOutcome struct {
	AllSucceeded bool
	Results      []TransferResult
}

// Failures returns only the failed results.
func (o ExecutionOutcome) Failures() []TransferResult {
	var out []TransferResult
	for _, r := range o.Results {
		if r.Status == DistributionFailed {
			out = append(out, r)
		}
	}
	return out
}

// TransferExecutor issues per-employee transfers for a payout.
type TransferExecutor struct {
	client      processor.Client
	payees      *PayeeProvisioner
	records     RecordStore
	currency    string
	concurrency int
	log         zerolog.Logger
}

func NewTransferExecutor(client processor.Client, payees *PayeeProvisioner, records RecordStore, currency string, concurrency int) *TransferExecutor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &TransferExecutor{
		client:      client,
		payees:      payees,
		records:     records,
		currency:    currency,
		concurrency: concurrency,
		log:         logging.WithComponent("transfer"),
	}
}

// Execute pays every outstanding distribution of p and updates
// p.Distributions in place with the new status, reference and error.
func (e *TransferExecutor) Execute(ctx context.Context, p *Payout) ExecutionOutcome {
	results := make([]TransferResult, len(p.Distributions))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range p.Distributions {
		d := p.Distributions[i]
		if !d.Outstanding() {
			results[i] = resultOf(d)
			results[i].PreviouslyCompleted = true
			continue
		}
		g.Go(func() error {
			updated := e.pay(ctx, p, d)
			p.Distributions[i] = updated
			results[i] = resultOf(updated)
			return nil
		})
	}
	_ = g.Wait()

	all := true
	for _, r := range results {
		if r.Status != DistributionCompleted {
			all = false
			break
		}
	}
	return ExecutionOutcome{AllSucceeded: all, Results: results}
}

func (e *TransferExecutor) pay(ctx context.Context, p *Payout, d Distribution) (out Distribution) {
	log := logging.Ctx(ctx, e.log).With().
		Str("payout_id", p.ID).
		Str("distribution_id", d.ID).
		Str("employee_id", d.EmployeeID).
		Int64("amount", d.Amount.Int64()).
		Logger()

	d.Attempts++
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("transfer panicked")
			d.Status = DistributionFailed
			d.TransferRef = ""
			d.ErrorMessage = fmt.Sprintf("internal error: %v", rec)
			out = d
		}
		e.persist(ctx, out, log)
	}()

	if d.Amount.IsNegative() {
		d.Status = DistributionFailed
		d.TransferRef = ""
		d.ErrorMessage = fmt.Sprintf("negative distribution amount %d", d.Amount.Int64())
		log.Error().Msg("refusing to transfer a negative share")
		return d
	}
	if d.Amount.IsZero() {
		d.Status = DistributionCompleted
		d.ErrorMessage = ""
		log.Info().Msg("zero share, nothing to transfer")
		return d
	}

	ref, err := e.transfer(ctx, p, d)
	metrics.RecordTransfer(d.Amount.Int64(), err)
	if err != nil {
		d.Status = DistributionFailed
		d.TransferRef = ""
		d.ErrorMessage = err.Error()
		log.Warn().Err(err).Int("attempt", d.Attempts).Msg("transfer failed")
		return d
	}

	d.Status = DistributionCompleted
	d.TransferRef = ref
	d.ErrorMessage = ""
	log.Info().Str("transfer_ref", ref).Msg("transfer completed")
	return d
}

func (e *TransferExecutor) transfer(ctx context.Context, p *Payout, d Distribution) (string, error) {
	payeeID, err := e.payees.Ensure(ctx, d.EmployeeID)
	if err != nil {
		return "", err
	}
	tr, err := e.client.CreateTransfer(ctx, processor.TransferParams{
		Amount:        d.Amount,
		Currency:      e.currency,
		Destination:   payeeID,
		Description:   fmt.Sprintf("Tip payout %s for %s", p.Period, d.EmployeeName),
		TransferGroup: "payout-" + p.ID,
		Metadata: map[string]string{
			"payout_id":       p.ID,
			"distribution_id": d.ID,
			"employee_id":     d.EmployeeID,
		},
		IdempotencyKey: fmt.Sprintf("payout-dist-%s-%d", d.ID, d.Attempts),
	})
	if err != nil {
		return "", err
	}
	return tr.ID, nil
}

// persist records the outcome. Money may already have moved, so the write is
// retried and detached from the caller's cancellation.
func (e *TransferExecutor) persist(ctx context.Context, d Distribution, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	err := backoff.Retry(func() error {
		return e.records.UpdateDistribution(ctx, d)
	}, policy)
	if err != nil {
		log.Error().Err(err).Str("status", string(d.Status)).Str("transfer_ref", d.TransferRef).
			Msg("failed to record distribution outcome")
	}
}

func resultOf(d Distribution) TransferResult {
	return TransferResult{
		DistributionID: d.ID,
		EmployeeID:     d.EmployeeID,
		EmployeeName:   d.EmployeeName,
		Amount:         d.Amount.Int64(),
		Status:         d.Status,
		TransferRef:    d.TransferRef,
		Error:          d.ErrorMessage,
	}
}
