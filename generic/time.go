package generic

import (
	"time"
)

// =============================================================================
// DATES - Calendar-day arithmetic (payroll works in whole days, UTC)
// =============================================================================

// Date builds a UTC midnight date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDay drops the clock part of t, keeping its calendar day.
func TruncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of days from -> to (exclusive of from).
func DaysBetween(from, to time.Time) int {
	return int(TruncateDay(to).Sub(TruncateDay(from)).Hours() / 24)
}

// InclusiveDays counts calendar days in [from, to]. Returns 0 when to < from.
func InclusiveDays(from, to time.Time) int {
	n := DaysBetween(from, to) + 1
	if n < 0 {
		return 0
	}
	return n
}

// DaysInMonth returns the length of the given calendar month.
func DaysInMonth(year int, month time.Month) int {
	return EndOfMonth(year, month).Day()
}

// DaysInYear returns 365 or 366.
func DaysInYear(year int) int {
	return InclusiveDays(StartOfYear(year), EndOfYear(year))
}

func StartOfYear(year int) time.Time                    { return Date(year, time.January, 1) }
func EndOfYear(year int) time.Time                      { return Date(year, time.December, 31) }
func StartOfMonth(year int, month time.Month) time.Time { return Date(year, month, 1) }
func EndOfMonth(year int, month time.Month) time.Time {
	return Date(year, month+1, 1).AddDate(0, 0, -1)
}

// SameMonth reports whether a and b fall in the same calendar month.
func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// CompletedYears returns whole years elapsed from since to at.
func CompletedYears(since, at time.Time) int {
	years := at.Year() - since.Year()
	if at.Month() < since.Month() || (at.Month() == since.Month() && at.Day() < since.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
