package payout_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/processor"
	"github.com/warp/payout-engine/store/memory"
)

func TestTransferExecutor_NonPositiveShares(t *testing.T) {
	// GIVEN: a stored payout with one negative and one zero distribution
	ctx := context.Background()
	store := memory.New()
	proc := processor.NewMemory(processor.EnvironmentMemory)
	p := &payout.Payout{ID: "p-1", VenueID: "venue-1", Period: week(), Status: payout.StatusProcessing}
	require.NoError(t, store.CreatePayout(ctx, p))
	p.Distributions = []payout.Distribution{
		{ID: "d-neg", PayoutID: "p-1", EmployeeID: "emp-a", EmployeeName: "Ann", Amount: -1, Status: payout.DistributionPending},
		{ID: "d-zero", PayoutID: "p-1", EmployeeID: "emp-b", EmployeeName: "Ben", Amount: 0, Status: payout.DistributionPending},
	}
	require.NoError(t, store.CreateDistributions(ctx, p.Distributions))

	payees := payout.NewPayeeProvisioner(proc, store, "AU", "aud")
	exec := payout.NewTransferExecutor(proc, payees, store, "aud", 2)

	// WHEN
	outcome := exec.Execute(ctx, p)

	// THEN: the negative share fails, the zero share completes, nothing moves
	assert.False(t, outcome.AllSucceeded)
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, payout.DistributionFailed, outcome.Results[0].Status)
	assert.Contains(t, outcome.Results[0].Error, "negative")
	assert.Equal(t, payout.DistributionCompleted, outcome.Results[1].Status)
	assert.Zero(t, proc.Calls("create_transfer"))

	stored, err := store.GetPayout(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, payout.DistributionFailed, stored.Distributions[0].Status)
	assert.Equal(t, payout.DistributionCompleted, stored.Distributions[1].Status)
}
