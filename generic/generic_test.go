package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// ROUNDING POLICY
// =============================================================================

func TestRoundMoney_HalfUpAtMidpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.005", "10.01"},
		{"10.004", "10.00"},
		{"-10.005", "-10.01"},
		{"0.125", "0.13"},
		{"5483.870967", "5483.87"},
		{"7", "7.00"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := generic.RoundMoney(decimal.RequireFromString(tt.in))
			assert.Equal(t, tt.want, got.StringFixed(2))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)))
		})
	}
}

func TestRoundMoney_Idempotent(t *testing.T) {
	for _, s := range []string{"1.005", "123.456", "-0.015", "99.999", "0"} {
		once := generic.RoundMoney(decimal.RequireFromString(s))
		twice := generic.RoundMoney(once)
		assert.True(t, once.Equal(twice), "round(round(%s)) != round(%s)", s, s)
		assert.LessOrEqual(t, -once.Exponent(), int32(2))
	}
}

func TestFormatMoney_TwoDigits(t *testing.T) {
	assert.Equal(t, "10.00", generic.FormatMoney(decimal.NewFromInt(10)))
	assert.Equal(t, "0.10", generic.FormatMoney(decimal.RequireFromString("0.1")))
}

// =============================================================================
// PERIODS
// =============================================================================

func period(y1 int, m1 time.Month, d1 int, y2 int, m2 time.Month, d2 int) generic.Period {
	return generic.NewPeriod(generic.Date(y1, m1, d1), generic.Date(y2, m2, d2))
}

func TestPeriod_Overlaps(t *testing.T) {
	jan := period(2025, time.January, 1, 2025, time.January, 31)

	tests := []struct {
		name  string
		other generic.Period
		want  bool
	}{
		{"exact equality", jan, true},
		{"shared start day", period(2024, time.December, 15, 2025, time.January, 1), true},
		{"shared end day", period(2025, time.January, 31, 2025, time.February, 14), true},
		{"contained", period(2025, time.January, 10, 2025, time.January, 20), true},
		{"containing", period(2024, time.December, 1, 2025, time.February, 28), true},
		{"adjacent after", period(2025, time.February, 1, 2025, time.February, 28), false},
		{"adjacent before", period(2024, time.December, 1, 2024, time.December, 31), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jan.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(jan), "overlap must be symmetric")
		})
	}
}

func TestPeriod_Validate(t *testing.T) {
	assert.NoError(t, period(2025, time.January, 1, 2025, time.January, 31).Validate())

	err := period(2025, time.February, 1, 2025, time.January, 31).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrInvalidPeriod))

	err = period(2024, time.January, 1, 2025, time.June, 30).Validate()
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestPeriod_Clip(t *testing.T) {
	jan := period(2025, time.January, 1, 2025, time.January, 31)
	hire := generic.Date(2025, time.January, 15)
	term := generic.Date(2025, time.January, 20)

	clipped := jan.Clip(&hire, &term)
	assert.Equal(t, 6, clipped.Days())

	early := generic.Date(2020, time.March, 1)
	assert.Equal(t, jan, jan.Clip(&early, nil))
}

func TestFiscalCalendar_PeriodFor(t *testing.T) {
	april := generic.FiscalCalendar{StartMonth: time.April}

	p := april.PeriodFor(generic.Date(2025, time.February, 10))
	assert.Equal(t, generic.Date(2024, time.April, 1), p.Start)
	assert.Equal(t, generic.Date(2025, time.March, 31), p.End)

	p = april.PeriodFor(generic.Date(2025, time.April, 1))
	assert.Equal(t, generic.Date(2025, time.April, 1), p.Start)

	calendar := generic.FiscalCalendar{}
	p = calendar.PeriodFor(generic.Date(2025, time.July, 4))
	assert.Equal(t, generic.Date(2025, time.January, 1), p.Start)
	assert.Equal(t, generic.Date(2025, time.December, 31), p.End)
}

func TestCalendarHelpers(t *testing.T) {
	assert.Equal(t, 31, generic.DaysInMonth(2025, time.January))
	assert.Equal(t, 29, generic.DaysInMonth(2024, time.February))
	assert.Equal(t, 366, generic.DaysInYear(2024))
	assert.Equal(t, 17, generic.InclusiveDays(generic.Date(2025, time.January, 15), generic.Date(2025, time.January, 31)))
	assert.Equal(t, 0, generic.InclusiveDays(generic.Date(2025, time.February, 1), generic.Date(2025, time.January, 1)))
	assert.Equal(t, 4, generic.CompletedYears(generic.Date(2020, time.June, 15), generic.Date(2025, time.June, 14)))
	assert.Equal(t, 5, generic.CompletedYears(generic.Date(2020, time.June, 15), generic.Date(2025, time.June, 15)))
}

func TestDiagnostics(t *testing.T) {
	var ds generic.Diagnostics
	ds.Warnf("BONUS", "negative amount %s clamped to zero", "-5")
	ds.Errorf("", "employee skipped")

	assert.Equal(t, []string{"BONUS: negative amount -5 clamped to zero"}, ds.Warnings())
	assert.Equal(t, []string{"employee skipped"}, ds.Errors())
	assert.True(t, ds.HasErrors())
}

func TestNewID_Sortable(t *testing.T) {
	a := generic.NewID()
	b := generic.NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
