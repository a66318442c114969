package payout

// =============================================================================
// STATUS AGGREGATOR
// =============================================================================

// AggregationPolicy decides the terminal status when some transfers failed.
type AggregationPolicy int

const (
	// PartialAware: some succeeded -> partially_completed, none -> failed.
	PartialAware AggregationPolicy = iota
	// AllOrNothing: any failure -> failed.
	AllOrNothing
)

// ExecutionSummary counts per-employee outcomes of one execution.
type ExecutionSummary struct {
	Total               int `json:"total"`
	Completed           int `json:"completed"`
	Failed              int `json:"failed"`
	PreviouslyCompleted int `json:"previously_completed"`
}

// Summarize counts results. Previously completed distributions are counted
// separately from those completed in this run.
func Summarize(results []TransferResult) ExecutionSummary {
	s := ExecutionSummary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.PreviouslyCompleted:
			s.PreviouslyCompleted++
		case r.Status == DistributionCompleted:
			s.Completed++
		default:
			s.Failed++
		}
	}
	return s
}

// Aggregate rolls per-distribution outcomes into the payout's terminal status.
func Aggregate(results []TransferResult, policy AggregationPolicy) Status {
	s := Summarize(results)
	succeeded := s.Completed + s.PreviouslyCompleted
	switch {
	case s.Failed == 0:
		return StatusCompleted
	case succeeded == 0:
		return StatusFailed
	case policy == PartialAware:
		return StatusPartiallyCompleted
	default:
		return StatusFailed
	}
}
