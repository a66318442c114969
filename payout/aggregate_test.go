package payout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/payout-engine/payout"
)

func results(statuses ...payout.DistributionStatus) []payout.TransferResult {
	out := make([]payout.TransferResult, len(statuses))
	for i, s := range statuses {
		out[i] = payout.TransferResult{Status: s}
	}
	return out
}

func TestAggregate(t *testing.T) {
	ok, fail := payout.DistributionCompleted, payout.DistributionFailed
	previously := payout.TransferResult{Status: ok, PreviouslyCompleted: true}

	tests := []struct {
		name    string
		results []payout.TransferResult
		policy  payout.AggregationPolicy
		want    payout.Status
	}{
		{"all succeeded", results(ok, ok), payout.PartialAware, payout.StatusCompleted},
		{"some failed", results(ok, fail), payout.PartialAware, payout.StatusPartiallyCompleted},
		{"all failed", results(fail, fail), payout.PartialAware, payout.StatusFailed},
		{"some failed, all-or-nothing", results(ok, fail), payout.AllOrNothing, payout.StatusFailed},
		{"retry finishes the rest", append(results(ok), previously), payout.PartialAware, payout.StatusCompleted},
		{"retry fails again", append(results(fail), previously), payout.PartialAware, payout.StatusPartiallyCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, payout.Aggregate(tt.results, tt.policy))
		})
	}
}

func TestSummarize(t *testing.T) {
	rs := append(results(payout.DistributionCompleted, payout.DistributionFailed, payout.DistributionFailed),
		payout.TransferResult{Status: payout.DistributionCompleted, PreviouslyCompleted: true})

	s := payout.Summarize(rs)

	assert.Equal(t, payout.ExecutionSummary{Total: 4, Completed: 1, Failed: 2, PreviouslyCompleted: 1}, s)
}
