/*
Package catalog holds the configuration entities the engine reads but does
not own: payrolls, concepts, assignments, employees, calculation parameters,
exchange rates, tax rules, novelties and loans.

PURPOSE:
  Configuration CRUD lives outside the engine. This package only declares
  the shapes and the read interfaces (Directory, ConfigSource) the engine
  consumes, so stores, snapshots and fixtures can all feed the same
  calculation path.

KEY CONCEPTS:
  - Concept: a perception, deduction or benefit and how its amount is computed
  - Assignment: a concept attached to a payroll, with overrides and ordering
  - Kind: closed enumeration of calculation kinds, matched exhaustively

SEE ALSO:
  - source.go: Directory and ConfigSource interfaces
  - calc/: turns a concept + context into an amount
*/
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/formula"
)

// =============================================================================
// CALCULATION KIND
// =============================================================================

// Kind is how a concept's amount is computed.
type Kind int

const (
	KindFixed Kind = iota + 1
	KindPercentOfBase
	KindPercentOfGross
	KindHours
	KindDays
	KindFormula
	KindTaxRule
)

var kindNames = map[Kind]string{
	KindFixed:          "fixed",
	KindPercentOfBase:  "percent_of_base",
	KindPercentOfGross: "percent_of_gross",
	KindHours:          "hours",
	KindDays:           "days",
	KindFormula:        "formula",
	KindTaxRule:        "tax_rule",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the names produced by String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown calculation kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Class is which side of the payslip a concept lands on.
type Class string

const (
	ClassPerception Class = "perception"
	ClassDeduction  Class = "deduction"
	ClassBenefit    Class = "benefit"
)

// State is a concept's lifecycle state. Only approved concepts are calculated.
type State string

const (
	StateDraft    State = "draft"
	StateApproved State = "approved"
	StateInactive State = "inactive"
)

// Periodicity of a payroll.
type Periodicity string

const (
	Monthly     Periodicity = "monthly"
	Semimonthly Periodicity = "semimonthly"
	Biweekly    Periodicity = "biweekly"
	Weekly      Periodicity = "weekly"
)

// =============================================================================
// CONCEPTS & ASSIGNMENTS
// =============================================================================

// Concept is a payslip line definition.
type Concept struct {
	ID            string           `json:"id"`
	Code          string           `json:"code"`
	Name          string           `json:"name"`
	Class         Class            `json:"class"`
	Kind          Kind             `json:"kind"`
	DefaultAmount *decimal.Decimal `json:"default_amount,omitempty"`
	Percentage    *decimal.Decimal `json:"percentage,omitempty"`
	Formula       *formula.Schema  `json:"formula,omitempty"`
	TaxRuleRef    string           `json:"tax_rule_ref,omitempty"`

	Taxable     bool `json:"taxable"`
	BeforeTax   bool `json:"before_tax"`  // deductions: reduces the taxable base
	Withholding bool `json:"withholding"` // deductions: counts as withheld income tax

	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	State     State      `json:"state"`
}

// ActiveAt reports whether the concept is approved and valid on date.
func (c Concept) ActiveAt(date time.Time) bool {
	if c.State != "" && c.State != StateApproved {
		return false
	}
	if c.ValidFrom != nil && date.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidTo != nil && date.After(*c.ValidTo) {
		return false
	}
	return true
}

// Assignment links a concept to a payroll with per-payroll overrides.
type Assignment struct {
	ID                 string                     `json:"id"`
	PayrollID          string                     `json:"payroll_id"`
	ConceptID          string                     `json:"concept_id"`
	AmountOverride     *decimal.Decimal           `json:"amount_override,omitempty"`
	PercentageOverride *decimal.Decimal           `json:"percentage_override,omitempty"`
	Order              int                        `json:"order"`
	Priority           int                        `json:"priority"` // deductions: lower applies first
	Mandatory          bool                       `json:"mandatory"`
	StopIfInsufficient bool                       `json:"stop_if_insufficient"`
	Inputs             map[string]decimal.Decimal `json:"inputs,omitempty"`
}

// AssignedConcept is an assignment resolved with its concept.
type AssignedConcept struct {
	Assignment Assignment `json:"assignment"`
	Concept    Concept    `json:"concept"`
}

// Amount returns the override, falling back to the concept default.
func (ac AssignedConcept) Amount() *decimal.Decimal {
	if ac.Assignment.AmountOverride != nil {
		return ac.Assignment.AmountOverride
	}
	return ac.Concept.DefaultAmount
}

// Percentage returns the override, falling back to the concept default.
func (ac AssignedConcept) Percentage() *decimal.Decimal {
	if ac.Assignment.PercentageOverride != nil {
		return ac.Assignment.PercentageOverride
	}
	return ac.Concept.Percentage
}

// =============================================================================
// PAYROLLS & EMPLOYEES
// =============================================================================

// Payroll is a pay group.
type Payroll struct {
	ID           string      `json:"id"`
	Code         string      `json:"code"`
	Name         string      `json:"name"`
	CompanyID    string      `json:"company_id"`
	PayrollType  string      `json:"payroll_type"`
	Periodicity  Periodicity `json:"periodicity"`
	Currency     string      `json:"currency"`
	Active       bool        `json:"active"`
	LoanPriority int         `json:"loan_priority"`
}

// Employee is a person on one or more payrolls.
type Employee struct {
	ID              string           `json:"id"`
	Code            string           `json:"code"`
	Name            string           `json:"name"`
	PersonalID      string           `json:"personal_id"`
	CompanyID       string           `json:"company_id"`
	BaseSalary      decimal.Decimal  `json:"base_salary"`
	Currency        string           `json:"currency"`
	HireDate        time.Time        `json:"hire_date"`
	TerminationDate *time.Time       `json:"termination_date,omitempty"`
	Active          bool             `json:"active"`
	Opening         *OpeningBalances `json:"opening,omitempty"`
}

// OpeningBalances are year-to-date figures carried over when the system is
// adopted in the middle of a fiscal year.
type OpeningBalances struct {
	ImplementationYear int             `json:"implementation_year"`
	LastClosedMonth    int             `json:"last_closed_month"`
	AccumulatedSalary  decimal.Decimal `json:"accumulated_salary"`
	AccumulatedTax     decimal.Decimal `json:"accumulated_tax"`
}

// =============================================================================
// PARAMETERS, RATES, RULES
// =============================================================================

// CalculationParameters are per-company constants. A zero CompanyID row is
// the global default.
type CalculationParameters struct {
	CompanyID            string              `json:"company_id,omitempty"`
	DaysPerMonth         int                 `json:"days_per_month"`
	DaysPerYear          int                 `json:"days_per_year"`
	HoursPerDay          decimal.Decimal     `json:"hours_per_day"`
	PeriodDays           map[Periodicity]int `json:"period_days,omitempty"`
	FiscalYearStartMonth time.Month          `json:"fiscal_year_start_month"`
}

// DefaultParameters is used when neither a company nor a global row exists.
func DefaultParameters() CalculationParameters {
	return CalculationParameters{
		DaysPerMonth: 30,
		DaysPerYear:  365,
		HoursPerDay:  decimal.NewFromInt(8),
		PeriodDays: map[Periodicity]int{
			Monthly:     30,
			Semimonthly: 15,
			Biweekly:    14,
			Weekly:      7,
		},
		FiscalYearStartMonth: time.January,
	}
}

// WithDefaults fills zero fields from DefaultParameters.
func (p CalculationParameters) WithDefaults() CalculationParameters {
	def := DefaultParameters()
	if p.DaysPerMonth <= 0 {
		p.DaysPerMonth = def.DaysPerMonth
	}
	if p.DaysPerYear <= 0 {
		p.DaysPerYear = def.DaysPerYear
	}
	if !p.HoursPerDay.IsPositive() {
		p.HoursPerDay = def.HoursPerDay
	}
	if p.FiscalYearStartMonth == 0 {
		p.FiscalYearStartMonth = def.FiscalYearStartMonth
	}
	merged := make(map[Periodicity]int, len(def.PeriodDays))
	for k, v := range def.PeriodDays {
		merged[k] = v
	}
	for k, v := range p.PeriodDays {
		if v > 0 {
			merged[k] = v
		}
	}
	p.PeriodDays = merged
	return p
}

// BasisDays returns the configured day basis for a periodicity.
func (p CalculationParameters) BasisDays(per Periodicity) int {
	if n, ok := p.PeriodDays[per]; ok && n > 0 {
		return n
	}
	return p.DaysPerMonth
}

// ExchangeRate converts one unit of From into Rate units of To.
type ExchangeRate struct {
	From          string          `json:"from"`
	To            string          `json:"to"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate time.Time       `json:"effective_date"`
}

// TaxRule is an externally versioned, date-effective formula.
type TaxRule struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	ConceptCode   string          `json:"concept_code"`
	Version       int             `json:"version"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	Schema        *formula.Schema `json:"schema"`
}

// EffectiveAt reports whether the rule applies on date.
func (r TaxRule) EffectiveAt(date time.Time) bool {
	if date.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || !date.After(*r.EffectiveTo)
}

// =============================================================================
// PER-PERIOD INPUTS
// =============================================================================

// Novelty is a value reported for one employee and period, keyed by concept code.
type Novelty struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id"`
	PayrollID   string          `json:"payroll_id,omitempty"`
	ConceptCode string          `json:"concept_code"`
	Quantity    decimal.Decimal `json:"quantity"`
	Date        time.Time       `json:"date"`
}

// Loan is an outstanding advance repaid by installments.
type Loan struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Installment decimal.Decimal `json:"installment"`
	Remaining   decimal.Decimal `json:"remaining"`
	Active      bool            `json:"active"`
}

// NextInstallment is the installment capped at what is still owed.
func (l Loan) NextInstallment() decimal.Decimal {
	if l.Remaining.LessThan(l.Installment) {
		return l.Remaining
	}
	return l.Installment
}
