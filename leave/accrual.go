package leave

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// ACCRUAL METHODS
// =============================================================================
//
// periodic:     Rate per Frequency, prorated by actual / nominal period days
//               15 days per annual, processed for January: 15 * 31 / 365
// proportional: Rate per worked day or per estimated worked hour
//               0.0575 per day worked, 20 days: 1.15
// seniority:    Highest tier whose AfterYears <= completed service years at
//               period end, annual rate prorated by period days / year days
//
// All functions here are pure. Cap and rounding are applied by the service
// because they depend on the current balance.

// AccrualBasis is what the methods read about one employee and period.
type AccrualBasis struct {
	Period      generic.Period
	WorkedDays  int
	HoursPerDay decimal.Decimal
	HireDate    time.Time
}

// NominalDays is the length of one frequency unit for a period starting at start.
func NominalDays(f Frequency, start time.Time) int {
	switch f {
	case FreqWeekly:
		return 7
	case FreqBiweekly:
		return 14
	case FreqAnnual:
		return generic.DaysInYear(start.Year())
	}
	return generic.DaysInMonth(start.Year(), start.Month())
}

// RawAccrual computes the quantity earned before cap and rounding.
func RawAccrual(p Policy, b AccrualBasis) decimal.Decimal {
	days := b.Period.Days()
	switch p.Method {
	case MethodPeriodic:
		nominal := NominalDays(p.Frequency, b.Period.Start)
		if days == nominal {
			return p.Rate
		}
		return p.Rate.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(int64(nominal)))

	case MethodProportional:
		worked := decimal.NewFromInt(int64(b.WorkedDays))
		if p.Basis == BasisWorkedHours {
			worked = worked.Mul(hoursOrDefault(b.HoursPerDay))
		}
		return p.Rate.Mul(worked)

	case MethodSeniority:
		tier, ok := TierFor(p.Tiers, generic.CompletedYears(b.HireDate, b.Period.End))
		if !ok {
			return decimal.Zero
		}
		yearDays := generic.DaysInYear(b.Period.End.Year())
		return tier.AnnualRate.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(int64(yearDays)))
	}
	return decimal.Zero
}

// TierFor returns the highest tier whose threshold years meets.
func TierFor(tiers []Tier, years int) (Tier, bool) {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AfterYears < sorted[j].AfterYears })

	var best Tier
	found := false
	for _, t := range sorted {
		if t.AfterYears <= years {
			best, found = t, true
		}
	}
	return best, found
}

// Cap limits q so balance + q never exceeds max. Zero when already at cap.
func Cap(q, balance decimal.Decimal, max *decimal.Decimal) decimal.Decimal {
	if max == nil {
		return q
	}
	room := max.Sub(balance)
	if !room.IsPositive() {
		return decimal.Zero
	}
	if q.GreaterThan(room) {
		return room
	}
	return q
}

// Quantize applies the policy's unit precision.
func (p Policy) Quantize(q decimal.Decimal) decimal.Decimal {
	if p.AllowFractional {
		return q.Round(QuantityPlaces)
	}
	switch p.Rounding {
	case RoundUp:
		return q.Ceil()
	case RoundNearest:
		return q.Round(0)
	}
	return q.Floor()
}

// ServiceDays counts calendar days of service from hire through at.
func ServiceDays(hire, at time.Time) int {
	if hire.IsZero() {
		return 0
	}
	return generic.InclusiveDays(hire, at)
}

// ConvertUnits expresses q (in from) in the policy's unit.
func ConvertUnits(q decimal.Decimal, from, to Unit, hoursPerDay decimal.Decimal) decimal.Decimal {
	if from == to {
		return q
	}
	h := hoursOrDefault(hoursPerDay)
	if from == UnitHours && to == UnitDays {
		return q.Div(h)
	}
	return q.Mul(h)
}

func hoursOrDefault(h decimal.Decimal) decimal.Decimal {
	if !h.IsPositive() {
		return decimal.NewFromInt(8)
	}
	return h
}
