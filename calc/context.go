/*
Package calc turns configured concepts into amounts for one employee and period.

PURPOSE:
  The Context carries everything a concept may read (salary, running totals,
  novelties, year-to-date values). The Calculator maps one assigned concept
  to an amount. PeriodSalary prorates a monthly salary to a pay period.

KEY CONCEPTS:
  - Context: per employee, per run, transient; discarded once persisted
  - Item: one applied line (code, name, amount, order, concept reference)
  - Result: an amount plus the diagnostics produced computing it

DESIGN PRINCIPLES:
  1. Every amount leaving this package is rounded with generic.RoundMoney
  2. Local problems become warnings and a zero amount, never an abort
  3. Calculation kinds are matched exhaustively on catalog.Kind

SEE ALSO:
  - proration.go: PeriodSalary
  - calculator.go: Calculator
*/
package calc

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
)

// BaseSalaryCode is the code of the automatic salary line.
const BaseSalaryCode = "BASE"

// Item is one applied line of a payslip.
type Item struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	ConceptID string          `json:"concept_id,omitempty"`
	LoanID    string          `json:"loan_id,omitempty"`
	Class     catalog.Class   `json:"class"`
	Amount    decimal.Decimal `json:"amount"`
	Order     int             `json:"order"`
}

// Totals are the running sums of a context.
type Totals struct {
	Gross            decimal.Decimal `json:"gross"`
	Perceptions      decimal.Decimal `json:"perceptions"`
	Deductions       decimal.Decimal `json:"deductions"`
	Benefits         decimal.Decimal `json:"benefits"`
	PreTaxDeductions decimal.Decimal `json:"pre_tax_deductions"`
	TaxableGross     decimal.Decimal `json:"taxable_gross"`
	WithheldTax      decimal.Decimal `json:"withheld_tax"`
	Net              decimal.Decimal `json:"net"`
}

// YearToDate mirrors the accumulation record the run reads before calculating.
type YearToDate struct {
	Gross            decimal.Decimal
	Taxable          decimal.Decimal
	PreTaxDeductions decimal.Decimal
	WithheldTax      decimal.Decimal
	PeriodsProcessed int
	MonthSalary      decimal.Decimal
}

// Context is the mutable calculation state of one employee in one run.
type Context struct {
	Employee        catalog.Employee
	Payroll         catalog.Payroll
	Params          catalog.CalculationParameters
	Period          generic.Period
	CalculationDate time.Time

	// BaseSalary is the monthly salary in the payroll currency.
	BaseSalary   decimal.Decimal
	PeriodSalary decimal.Decimal
	WorkedDays   int

	Currency     string
	ExchangeRate decimal.Decimal

	Perceptions []Item
	Deductions  []Item
	Benefits    []Item
	Totals      Totals
	YTD         YearToDate

	// Variables holds novelty quantities keyed by concept code.
	Variables map[string]decimal.Decimal
}

// NewContext starts a context whose gross is the prorated salary.
func NewContext(emp catalog.Employee, p catalog.Payroll, params catalog.CalculationParameters, period generic.Period, calcDate time.Time) *Context {
	return &Context{
		Employee:        emp,
		Payroll:         p,
		Params:          params,
		Period:          period,
		CalculationDate: calcDate,
		BaseSalary:      emp.BaseSalary,
		Currency:        p.Currency,
		ExchangeRate:    decimal.NewFromInt(1),
		Variables:       make(map[string]decimal.Decimal),
	}
}

// SetPeriodSalary records the prorated salary as the first gross line.
func (c *Context) SetPeriodSalary(amount decimal.Decimal, workedDays int) {
	amount = generic.RoundMoney(amount)
	c.PeriodSalary = amount
	c.WorkedDays = workedDays
	c.Totals.Gross = c.Totals.Gross.Add(amount)
	c.Totals.TaxableGross = c.Totals.TaxableGross.Add(amount)
}

// AddNovelties sums novelty quantities per concept code into Variables.
func (c *Context) AddNovelties(ns []catalog.Novelty) {
	for _, n := range ns {
		c.Variables[n.ConceptCode] = c.Variables[n.ConceptCode].Add(n.Quantity)
	}
}

// AddPerception applies an income line.
func (c *Context) AddPerception(it Item, taxable bool) {
	it.Amount = generic.RoundMoney(it.Amount)
	it.Class = catalog.ClassPerception
	c.Perceptions = append(c.Perceptions, it)
	c.Totals.Perceptions = c.Totals.Perceptions.Add(it.Amount)
	c.Totals.Gross = c.Totals.Gross.Add(it.Amount)
	if taxable {
		c.Totals.TaxableGross = c.Totals.TaxableGross.Add(it.Amount)
	}
}

// AddDeduction applies a deduction line.
func (c *Context) AddDeduction(it Item, beforeTax, withholding bool) {
	it.Amount = generic.RoundMoney(it.Amount)
	it.Class = catalog.ClassDeduction
	c.Deductions = append(c.Deductions, it)
	c.Totals.Deductions = c.Totals.Deductions.Add(it.Amount)
	if beforeTax {
		c.Totals.PreTaxDeductions = c.Totals.PreTaxDeductions.Add(it.Amount)
	}
	if withholding {
		c.Totals.WithheldTax = c.Totals.WithheldTax.Add(it.Amount)
	}
}

// AddBenefit records an employer-side cost. Net pay is unaffected.
func (c *Context) AddBenefit(it Item) {
	it.Amount = generic.RoundMoney(it.Amount)
	it.Class = catalog.ClassBenefit
	c.Benefits = append(c.Benefits, it)
	c.Totals.Benefits = c.Totals.Benefits.Add(it.Amount)
}

// Remaining is gross minus deductions applied so far, which may be negative.
func (c *Context) Remaining() decimal.Decimal {
	return c.Totals.Gross.Sub(c.Totals.Deductions)
}

// Finalize computes net = max(0, gross - deductions).
func (c *Context) Finalize() decimal.Decimal {
	c.Totals.Net = generic.RoundMoney(generic.NonNegative(c.Remaining()))
	return c.Totals.Net
}

// TaxableBase is taxable gross after before-tax deductions, floored at zero.
func (c *Context) TaxableBase() decimal.Decimal {
	return generic.NonNegative(c.Totals.TaxableGross.Sub(c.Totals.PreTaxDeductions))
}

// Lines returns every applied item in payslip order.
func (c *Context) Lines() []Item {
	out := make([]Item, 0, len(c.Perceptions)+len(c.Deductions)+len(c.Benefits)+1)
	out = append(out, Item{
		Code: BaseSalaryCode, Name: "Base salary", Class: catalog.ClassPerception, Amount: c.PeriodSalary,
	})
	out = append(out, c.Perceptions...)
	out = append(out, c.Deductions...)
	out = append(out, c.Benefits...)
	return out
}

// Env builds the variable environment handed to formulas.
func (c *Context) Env() formula.Env {
	env := make(formula.Env, len(c.Variables)+20)
	for k, v := range c.Variables {
		env[k] = v
	}
	env["base_salary"] = c.BaseSalary
	env["period_salary"] = c.PeriodSalary
	env["gross"] = c.Totals.Gross
	env["taxable_gross"] = c.Totals.TaxableGross
	env["pre_tax_deductions"] = c.Totals.PreTaxDeductions
	env["total_perceptions"] = c.Totals.Perceptions
	env["total_deductions"] = c.Totals.Deductions
	env["worked_days"] = decimal.NewFromInt(int64(c.WorkedDays))
	env["days_per_month"] = decimal.NewFromInt(int64(c.Params.DaysPerMonth))
	env["hours_per_day"] = c.Params.HoursPerDay
	env["ytd_gross"] = c.YTD.Gross
	env["ytd_taxable"] = c.YTD.Taxable
	env["ytd_pre_tax_deductions"] = c.YTD.PreTaxDeductions
	env["ytd_withheld_tax"] = c.YTD.WithheldTax
	env["ytd_periods_processed"] = decimal.NewFromInt(int64(c.YTD.PeriodsProcessed))
	env["month_salary"] = c.YTD.MonthSalary
	return env
}

// SortPerceptions orders assignments by their configured order.
func SortPerceptions(acs []catalog.AssignedConcept) {
	sort.SliceStable(acs, func(i, j int) bool {
		return acs[i].Assignment.Order < acs[j].Assignment.Order
	})
}

// SortDeductions orders assignments by priority, then order.
func SortDeductions(acs []catalog.AssignedConcept) {
	sort.SliceStable(acs, func(i, j int) bool {
		a, b := acs[i].Assignment, acs[j].Assignment
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Order < b.Order
	})
}
