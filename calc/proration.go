package calc

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
)

// ProrationInput describes one salary to prorate.
type ProrationInput struct {
	MonthlySalary   decimal.Decimal
	Periodicity     catalog.Periodicity
	Params          catalog.CalculationParameters
	Period          generic.Period
	HireDate        *time.Time
	TerminationDate *time.Time
}

// Proration is the outcome of PeriodSalary.
type Proration struct {
	Amount     decimal.Decimal
	WorkedDays int
	Worked     generic.Period
	Full       bool
}

// PeriodSalary converts a monthly salary into the amount owed for a period.
//
// The nominal period amount is the monthly salary for monthly payrolls and
// monthly * basis / days_per_month otherwise (basis: 15 semimonthly,
// 14 biweekly, 7 weekly unless configured). A full period returns the
// nominal amount untouched. A hire or termination inside the period clips it
// and the amount becomes nominal * worked / actual days in the period, so a
// 31 day January uses 31, not the configured basis.
func PeriodSalary(in ProrationInput) Proration {
	params := in.Params.WithDefaults()

	nominal := in.MonthlySalary
	if in.Periodicity != catalog.Monthly && in.Periodicity != "" {
		basis := decimal.NewFromInt(int64(params.BasisDays(in.Periodicity)))
		nominal = in.MonthlySalary.Mul(basis).Div(decimal.NewFromInt(int64(params.DaysPerMonth)))
	}

	p := in.Period
	if in.HireDate != nil && generic.TruncateDay(*in.HireDate).After(p.End) {
		return Proration{Amount: decimal.Zero}
	}
	if in.TerminationDate != nil && generic.TruncateDay(*in.TerminationDate).Before(p.Start) {
		return Proration{Amount: decimal.Zero}
	}

	worked := p.Clip(in.HireDate, in.TerminationDate)
	days := worked.Days()
	if worked.Start.Equal(p.Start) && worked.End.Equal(p.End) {
		return Proration{Amount: generic.RoundMoney(nominal), WorkedDays: days, Worked: worked, Full: true}
	}

	amount := nominal.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(int64(p.Days())))
	return Proration{Amount: generic.RoundMoney(amount), WorkedDays: days, Worked: worked}
}
