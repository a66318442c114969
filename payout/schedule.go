package payout

import (
	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// SCHEDULE RULES (pure)
// =============================================================================

// fortnightGap is the minimum number of calendar days between fortnightly runs.
const fortnightGap = 14

// IsDue reports whether an auto-payout venue should run on today.
//
//	weekly:      weekday == payout_day
//	fortnightly: weekday == payout_day and (never run or >= 14 calendar days since)
//	monthly:     day of month == payout_day
func IsDue(v Venue, today generic.TimePoint) bool {
	if !v.AutoPayoutEnabled {
		return false
	}
	switch v.PayoutFrequency {
	case FrequencyWeekly:
		return int(today.Weekday()) == v.PayoutDay
	case FrequencyFortnightly:
		if int(today.Weekday()) != v.PayoutDay {
			return false
		}
		if v.LastAutoPayoutAt == nil {
			return true
		}
		return generic.DaysBetween(generic.DateOf(*v.LastAutoPayoutAt), today) >= fortnightGap
	case FrequencyMonthly:
		return today.Day() == v.PayoutDay
	}
	return false
}

// lookbackDays is the window size of a venue's first automatic run.
func lookbackDays(f Frequency) int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyFortnightly:
		return 14
	default:
		return 30
	}
}

// NextWindow returns the period the next automatic run should cover.
//
// The window ends yesterday. It starts on the calendar day of the cursor (a
// run on day D covers up to D-1, so D is the first unpaid day), or a
// frequency-sized lookback on the first run. It never starts on or before
// coveredThrough, the last day already covered by an existing payout.
// ok is false when there is nothing new to pay.
func NextWindow(v Venue, today generic.TimePoint, coveredThrough *generic.TimePoint) (generic.Period, bool) {
	end := today.AddDays(-1)

	var start generic.TimePoint
	if v.LastAutoPayoutAt != nil {
		start = generic.DateOf(*v.LastAutoPayoutAt)
	} else {
		start = today.AddDays(-lookbackDays(v.PayoutFrequency))
	}
	if coveredThrough != nil && !start.After(*coveredThrough) {
		start = coveredThrough.AddDays(1)
	}

	if start.After(end) {
		return generic.Period{}, false
	}
	return generic.Period{Start: start, End: end}, true
}

// latestCovered returns the last day covered by any of the payouts.
func latestCovered(payouts []Payout) *generic.TimePoint {
	var latest *generic.TimePoint
	for i := range payouts {
		end := payouts[i].Period.End
		if latest == nil || end.After(*latest) {
			latest = &end
		}
	}
	return latest
}

