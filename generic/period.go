package generic

import (
	"fmt"
	"time"
)

// MaxPeriodDays bounds a single pay period. Anything longer is a date-entry mistake.
const MaxPeriodDays = 366

// =============================================================================
// PERIOD - Inclusive date range [Start, End]
// =============================================================================

// Period is an inclusive range of calendar days.
//
// Examples:
//   - Monthly payroll January 2025: Jan 1 - Jan 31
//   - Biweekly payroll: Jan 1 - Jan 14
//   - Fiscal year 2025 starting April: Apr 1 2025 - Mar 31 2026
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewPeriod builds a period from two dates, dropping clock parts.
func NewPeriod(start, end time.Time) Period {
	return Period{Start: TruncateDay(start), End: TruncateDay(end)}
}

// Contains returns true if t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	d := TruncateDay(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Overlaps reports whether both periods share at least one calendar day.
// Equality, containment in either direction and a single shared boundary
// day all count as overlap.
func (p Period) Overlaps(o Period) bool {
	return !p.Start.After(o.End) && !o.Start.After(p.End)
}

// Days returns the inclusive day count.
func (p Period) Days() int {
	return InclusiveDays(p.Start, p.End)
}

// Clip narrows the period to [from, to] when those bounds fall inside it.
// A nil bound leaves that side untouched.
func (p Period) Clip(from, to *time.Time) Period {
	out := p
	if from != nil && TruncateDay(*from).After(out.Start) {
		out.Start = TruncateDay(*from)
	}
	if to != nil && TruncateDay(*to).Before(out.End) {
		out.End = TruncateDay(*to)
	}
	return out
}

// Validate checks ordering and the maximum length.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: missing start or end date", ErrInvalidPeriod)
	}
	if p.Start.After(p.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidPeriod, p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
	}
	if p.Days() > MaxPeriodDays {
		return fmt.Errorf("%w: %d days exceeds the %d day maximum", ErrInvalidPeriod, p.Days(), MaxPeriodDays)
	}
	return nil
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(time.DateOnly) + ", " + p.End.Format(time.DateOnly) + "]"
}

// =============================================================================
// FISCAL PERIODS - Which fiscal year a date falls into
// =============================================================================

// FiscalCalendar defines where a company's fiscal year begins.
// A zero StartMonth means the calendar year.
type FiscalCalendar struct {
	StartMonth time.Month
}

// PeriodFor returns the fiscal year containing date.
func (fc FiscalCalendar) PeriodFor(date time.Time) Period {
	month := fc.StartMonth
	if month < time.January || month > time.December {
		month = time.January
	}
	fiscalStart := Date(date.Year(), month, 1)

	// If date is before fiscal year start, we're in previous fiscal year
	if TruncateDay(date).Before(fiscalStart) {
		fiscalStart = Date(date.Year()-1, month, 1)
	}

	return Period{Start: fiscalStart, End: fiscalStart.AddDate(1, 0, -1)}
}
