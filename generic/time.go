package generic

import (
	"time"
)

// =============================================================================
// TIME POINT - Calendar day abstraction (payout periods are whole days)
// =============================================================================

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// TimePoint is a calendar day in UTC. The time component is always midnight.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the UTC calendar day containing t.
func DateOf(t time.Time) TimePoint {
	u := t.UTC()
	return NewTimePoint(u.Year(), u.Month(), u.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, err
	}
	return DateOf(t), nil
}

func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int              { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month      { return tp.Time.Month() }
func (tp TimePoint) Day() int               { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday  { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool           { return tp.Time.IsZero() }
func (tp TimePoint) String() string         { return tp.Time.Format(DateLayout) }

// StartOfDay is the first instant of the day.
func (tp TimePoint) StartOfDay() time.Time { return tp.Time }

// EndOfDay is the first instant of the following day (exclusive bound).
func (tp TimePoint) EndOfDay() time.Time { return tp.Time.AddDate(0, 0, 1) }

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies the current time. Schedulers take a Clock so tests can pin "today".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// Today returns the current UTC calendar day according to clock.
func Today(clock Clock) TimePoint {
	if clock == nil {
		clock = SystemClock{}
	}
	return DateOf(clock.Now())
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns the number of whole days from -> to (negative if to is earlier).
func DaysBetween(from, to TimePoint) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}
