package generic

import "time"

// =============================================================================
// PERIOD - The core concept for payout calculation
// =============================================================================

// Period is an inclusive range of calendar days [Start, End].
// A payout always covers a period, never a point in time.
//
// Examples:
//   - One week: 2025-03-03 .. 2025-03-09 (7 days)
//   - One day:  2025-03-03 .. 2025-03-03 (1 day)
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod builds a validated period.
func NewPeriod(start, end TimePoint) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate rejects zero and inverted periods.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// DayCount is the inclusive number of days, never less than 1.
func (p Period) DayCount() int {
	n := DaysBetween(p.Start, p.End) + 1
	if n < 1 {
		return 1
	}
	return n
}

// Overlaps reports whether two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// Instants returns the half-open instant range [start of Start, start of End+1).
// Filtering with it includes the last day through 23:59:59.999.
func (p Period) Instants() (from, until time.Time) {
	return p.Start.StartOfDay(), p.End.EndOfDay()
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// WINDOW - Open-ended activity interval (e.g. an employee's active window)
// =============================================================================

// Window is an instant range [From, To]; a nil To means still open.
type Window struct {
	From time.Time
	To   *time.Time
}

// Clip intersects the window with a period and returns the clipped range in
// calendar days. ok is false when they do not intersect.
func (w Window) Clip(p Period) (clipped Period, ok bool) {
	from, until := p.Instants()
	if !w.From.Before(until) {
		return Period{}, false
	}
	if w.To != nil && w.To.Before(from) {
		return Period{}, false
	}

	start := p.Start
	if w.From.After(from) {
		start = DateOf(w.From)
	}
	end := p.End
	if w.To != nil && w.To.Before(until) {
		end = DateOf(*w.To)
	}
	if end.Before(start) {
		end = start
	}
	return Period{Start: start, End: end}, true
}
