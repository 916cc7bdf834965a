/*
Package factory provides JSON to Go payroll configuration conversion.

PURPOSE:
  Converts JSON configuration documents into catalog and leave entities.
  Configuration CRUD lives outside the engine; this loader lets a
  deployment (or a demo) describe payrolls, concepts, tax rules, leave
  policies and employees in one file and feed them to the stores.

JSON SCHEMA:
  {
    "parameters": [{"days_per_month": 30, "hours_per_day": 8}],
    "payrolls": [
      {"id": "pay-mx", "code": "MX-MONTHLY", "company_id": "acme",
       "payroll_type": "ordinary", "periodicity": "monthly", "currency": "MXN"}
    ],
    "concepts": [
      {"id": "c-isr", "code": "ISR", "class": "deduction", "kind": "tax_rule",
       "withholding": true}
    ],
    "assignments": [{"payroll_id": "pay-mx", "concept_id": "c-isr", "priority": 1}],
    "tax_rules": [
      {"id": "r-isr", "concept_code": "ISR", "effective_from": "2024-01-01",
       "schema": {"steps": [...], "output": "isr"}}
    ],
    "employees": [
      {"id": "emp-1", "code": "E001", "base_salary": 10000, "currency": "MXN",
       "hire_date": "2020-01-01", "payroll_ids": ["pay-mx"]}
    ],
    "leave_policies": [
      {"id": "vac", "code": "VAC", "method": "periodic", "rate": 1.25, "frequency": "monthly"}
    ]
  }

KEY FEATURES:
  - Dates are "2006-01-02"; amounts accept JSON numbers or strings
  - Formula schemas are parsed and validated when the file is read
  - Sets sensible defaults: payrolls and employees active, concepts
    approved, leave measured in days
  - Cross-references checked: assignments, employees and novelties must
    point at declared payrolls and concepts
  - Every problem is reported, not only the first

USAGE:
  f := factory.NewConfigFactory()
  cfg, err := f.ParseFile("payroll.json")
  if err != nil {
      log.Fatal(err)
  }
  cfg.LoadCatalog(catalogStore)
  err = cfg.LoadLeave(ctx, store.Leave())

SEE ALSO:
  - presets.go: ready-made leave policy documents
  - catalog/types.go, leave/types.go: target types
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of a payroll configuration.
type ConfigJSON struct {
	Parameters    []ParametersJSON   `json:"parameters,omitempty"`
	Payrolls      []PayrollJSON      `json:"payrolls"`
	Concepts      []ConceptJSON      `json:"concepts"`
	Assignments   []AssignmentJSON   `json:"assignments"`
	TaxRules      []TaxRuleJSON      `json:"tax_rules,omitempty"`
	ExchangeRates []ExchangeRateJSON `json:"exchange_rates,omitempty"`
	Employees     []EmployeeJSON     `json:"employees"`
	Novelties     []NoveltyJSON      `json:"novelties,omitempty"`
	Loans         []LoanJSON         `json:"loans,omitempty"`
	LeavePolicies []LeavePolicyJSON  `json:"leave_policies,omitempty"`
	Absences      []AbsenceJSON      `json:"absences,omitempty"`
}

// ParametersJSON represents per-company calculation constants.
type ParametersJSON struct {
	CompanyID            string           `json:"company_id,omitempty"`
	DaysPerMonth         int              `json:"days_per_month,omitempty"`
	DaysPerYear          int              `json:"days_per_year,omitempty"`
	HoursPerDay          *decimal.Decimal `json:"hours_per_day,omitempty"` // fractions allowed, e.g. 7.5
	PeriodDays           map[string]int   `json:"period_days,omitempty"`
	FiscalYearStartMonth int              `json:"fiscal_year_start_month,omitempty"` // 1-12
}

// PayrollJSON represents a pay group.
type PayrollJSON struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	CompanyID    string `json:"company_id"`
	PayrollType  string `json:"payroll_type"`
	Periodicity  string `json:"periodicity"`
	Currency     string `json:"currency"`
	Active       *bool  `json:"active,omitempty"` // default true
	LoanPriority int    `json:"loan_priority,omitempty"`
}

// ConceptJSON represents a payslip line definition.
type ConceptJSON struct {
	ID            string           `json:"id"`
	Code          string           `json:"code"`
	Name          string           `json:"name"`
	Class         string           `json:"class"`
	Kind          string           `json:"kind"`
	DefaultAmount *decimal.Decimal `json:"default_amount,omitempty"`
	Percentage    *decimal.Decimal `json:"percentage,omitempty"`
	Formula       json.RawMessage  `json:"formula,omitempty"`
	TaxRuleRef    string           `json:"tax_rule_ref,omitempty"`
	Taxable       bool             `json:"taxable,omitempty"`
	BeforeTax     bool             `json:"before_tax,omitempty"`
	Withholding   bool             `json:"withholding,omitempty"`
	ValidFrom     string           `json:"valid_from,omitempty"`
	ValidTo       string           `json:"valid_to,omitempty"`
	State         string           `json:"state,omitempty"` // default approved
}

// AssignmentJSON links a concept to a payroll.
type AssignmentJSON struct {
	ID                 string                     `json:"id,omitempty"`
	PayrollID          string                     `json:"payroll_id"`
	ConceptID          string                     `json:"concept_id"`
	AmountOverride     *decimal.Decimal           `json:"amount_override,omitempty"`
	PercentageOverride *decimal.Decimal           `json:"percentage_override,omitempty"`
	Order              int                        `json:"order,omitempty"`
	Priority           int                        `json:"priority,omitempty"`
	Mandatory          bool                       `json:"mandatory,omitempty"`
	StopIfInsufficient bool                       `json:"stop_if_insufficient,omitempty"`
	Inputs             map[string]decimal.Decimal `json:"inputs,omitempty"`
}

// TaxRuleJSON represents a versioned, date-effective formula.
type TaxRuleJSON struct {
	ID            string          `json:"id"`
	Code          string          `json:"code,omitempty"`
	ConceptCode   string          `json:"concept_code,omitempty"`
	Version       int             `json:"version,omitempty"`
	EffectiveFrom string          `json:"effective_from"`
	EffectiveTo   string          `json:"effective_to,omitempty"`
	Schema        json.RawMessage `json:"schema"`
}

// ExchangeRateJSON converts one unit of From into Rate units of To.
type ExchangeRateJSON struct {
	From          string          `json:"from"`
	To            string          `json:"to"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate string          `json:"effective_date"`
}

// EmployeeJSON represents an employee and the payrolls they belong to.
type EmployeeJSON struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	PersonalID      string          `json:"personal_id"`
	CompanyID       string          `json:"company_id"`
	BaseSalary      decimal.Decimal `json:"base_salary"`
	Currency        string          `json:"currency"`
	HireDate        string          `json:"hire_date"`
	TerminationDate string          `json:"termination_date,omitempty"`
	Active          *bool           `json:"active,omitempty"` // default true
	PayrollIDs      []string        `json:"payroll_ids"`
	Opening         *OpeningJSON    `json:"opening,omitempty"`
}

// OpeningJSON represents year-to-date figures carried over at adoption.
type OpeningJSON struct {
	ImplementationYear int             `json:"implementation_year"`
	LastClosedMonth    int             `json:"last_closed_month"`
	AccumulatedSalary  decimal.Decimal `json:"accumulated_salary"`
	AccumulatedTax     decimal.Decimal `json:"accumulated_tax"`
}

// NoveltyJSON represents a value reported for one employee and period.
type NoveltyJSON struct {
	ID          string          `json:"id,omitempty"`
	EmployeeID  string          `json:"employee_id"`
	PayrollID   string          `json:"payroll_id,omitempty"`
	ConceptCode string          `json:"concept_code"`
	Quantity    decimal.Decimal `json:"quantity"`
	Date        string          `json:"date"`
}

// LoanJSON represents an advance repaid by installments.
type LoanJSON struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id"`
	Code        string          `json:"code,omitempty"`
	Name        string          `json:"name,omitempty"`
	Installment decimal.Decimal `json:"installment"`
	Remaining   decimal.Decimal `json:"remaining"`
	Active      *bool           `json:"active,omitempty"` // default true
}

// LeavePolicyJSON represents how an account earns and spends leave.
type LeavePolicyJSON struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	Name              string           `json:"name"`
	PayrollID         string           `json:"payroll_id,omitempty"`
	CompanyID         string           `json:"company_id,omitempty"`
	Unit              string           `json:"unit,omitempty"` // default days
	Method            string           `json:"method"`
	Rate              decimal.Decimal  `json:"rate"`
	Frequency         string           `json:"frequency,omitempty"`
	Basis             string           `json:"basis,omitempty"`
	Tiers             []TierJSON       `json:"tiers,omitempty"`
	MinServiceDays    int              `json:"min_service_days,omitempty"`
	MaxBalance        *decimal.Decimal `json:"max_balance,omitempty"`
	AllowFractional   *bool            `json:"allow_fractional,omitempty"` // default true
	Rounding          string           `json:"rounding,omitempty"`
	AllowNegative     bool             `json:"allow_negative,omitempty"`
	AccrueDuringLeave *bool            `json:"accrue_during_leave,omitempty"` // default true
	Active            *bool            `json:"active,omitempty"`              // default true
}

// TierJSON is one seniority step.
type TierJSON struct {
	AfterYears int             `json:"after_years"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
}

// AbsenceJSON represents an approved leave-taking record.
type AbsenceJSON struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	PolicyID   string          `json:"policy_id,omitempty"`
	Start      string          `json:"start"`
	End        string          `json:"end"`
	Units      decimal.Decimal `json:"units"`
	Unit       string          `json:"unit,omitempty"`     // default days
	Approved   *bool           `json:"approved,omitempty"` // default true
}

// =============================================================================
// PARSED CONFIGURATION
// =============================================================================

// Member is an employee with the payrolls they belong to.
type Member struct {
	Employee   catalog.Employee
	PayrollIDs []string
}

// Config is a parsed, cross-checked configuration.
type Config struct {
	Parameters    []catalog.CalculationParameters
	Payrolls      []catalog.Payroll
	Concepts      []catalog.Concept
	Assignments   []catalog.Assignment
	TaxRules      []catalog.TaxRule
	ExchangeRates []catalog.ExchangeRate
	Members       []Member
	Novelties     []catalog.Novelty
	Loans         []catalog.Loan
	LeavePolicies []leave.Policy
	Absences      []leave.Absence
}

// CatalogWriter receives catalog entities. store/memory.Catalog implements it.
type CatalogWriter interface {
	PutParameters(p catalog.CalculationParameters)
	PutPayroll(p catalog.Payroll)
	PutConcept(c catalog.Concept)
	Assign(a catalog.Assignment)
	AddTaxRule(r catalog.TaxRule)
	AddExchangeRate(r catalog.ExchangeRate)
	PutEmployee(e catalog.Employee, payrollIDs ...string)
	AddNovelty(n catalog.Novelty)
	AddLoan(l catalog.Loan)
}

// LeaveWriter receives leave policies and absences.
type LeaveWriter interface {
	SavePolicy(ctx context.Context, p leave.Policy) error
	SaveAbsence(ctx context.Context, a leave.Absence) error
}

// LoadCatalog writes every catalog entity to w.
func (c *Config) LoadCatalog(w CatalogWriter) {
	for _, p := range c.Parameters {
		w.PutParameters(p)
	}
	for _, p := range c.Payrolls {
		w.PutPayroll(p)
	}
	for _, concept := range c.Concepts {
		w.PutConcept(concept)
	}
	for _, a := range c.Assignments {
		w.Assign(a)
	}
	for _, r := range c.TaxRules {
		w.AddTaxRule(r)
	}
	for _, r := range c.ExchangeRates {
		w.AddExchangeRate(r)
	}
	for _, m := range c.Members {
		w.PutEmployee(m.Employee, m.PayrollIDs...)
	}
	for _, n := range c.Novelties {
		w.AddNovelty(n)
	}
	for _, l := range c.Loans {
		w.AddLoan(l)
	}
}

// LoadLeave writes leave policies and absences to w.
func (c *Config) LoadLeave(ctx context.Context, w LeaveWriter) error {
	for _, p := range c.LeavePolicies {
		if err := w.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("save leave policy %s: %w", p.Code, err)
		}
	}
	for _, a := range c.Absences {
		if err := w.SaveAbsence(ctx, a); err != nil {
			return fmt.Errorf("save absence %s: %w", a.ID, err)
		}
	}
	return nil
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// ConfigFactory converts JSON configuration to Go structs.
type ConfigFactory struct {
	// newID names entities the document leaves unnamed.
	newID func() string
}

// NewConfigFactory creates a new configuration factory.
func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{newID: generic.NewID}
}

// ParseFile reads and parses a configuration file.
func (f *ConfigFactory) ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return f.Parse(data)
}

// Parse parses a JSON document into a Config.
func (f *ConfigFactory) Parse(data []byte) (*Config, error) {
	var cj ConfigJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config JSON: %v", generic.ErrConfiguration, err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts ConfigJSON to a Config. All problems are returned joined.
func (f *ConfigFactory) FromJSON(cj ConfigJSON) (*Config, error) {
	p := &parser{}
	cfg := &Config{}

	for _, pj := range cj.Parameters {
		cfg.Parameters = append(cfg.Parameters, p.parameters(pj))
	}

	payrolls := make(map[string]bool)
	for _, pj := range cj.Payrolls {
		if pj.ID == "" {
			p.fail("payroll %q: missing id", pj.Code)
			continue
		}
		payrolls[pj.ID] = true
		cfg.Payrolls = append(cfg.Payrolls, p.payroll(pj))
	}

	concepts := make(map[string]bool)
	for _, cjj := range cj.Concepts {
		if cjj.ID == "" {
			p.fail("concept %q: missing id", cjj.Code)
			continue
		}
		concepts[cjj.ID] = true
		cfg.Concepts = append(cfg.Concepts, p.concept(cjj))
	}

	for i, aj := range cj.Assignments {
		if !payrolls[aj.PayrollID] {
			p.fail("assignment %d: unknown payroll %q", i, aj.PayrollID)
		}
		if !concepts[aj.ConceptID] {
			p.fail("assignment %d: unknown concept %q", i, aj.ConceptID)
		}
		a := catalog.Assignment{
			ID:                 aj.ID,
			PayrollID:          aj.PayrollID,
			ConceptID:          aj.ConceptID,
			AmountOverride:     aj.AmountOverride,
			PercentageOverride: aj.PercentageOverride,
			Order:              aj.Order,
			Priority:           aj.Priority,
			Mandatory:          aj.Mandatory,
			StopIfInsufficient: aj.StopIfInsufficient,
			Inputs:             aj.Inputs,
		}
		if a.ID == "" {
			a.ID = f.newID()
		}
		cfg.Assignments = append(cfg.Assignments, a)
	}

	for _, rj := range cj.TaxRules {
		cfg.TaxRules = append(cfg.TaxRules, p.taxRule(rj))
	}

	for _, xj := range cj.ExchangeRates {
		cfg.ExchangeRates = append(cfg.ExchangeRates, catalog.ExchangeRate{
			From:          strings.ToUpper(xj.From),
			To:            strings.ToUpper(xj.To),
			Rate:          xj.Rate,
			EffectiveDate: p.date("exchange rate "+xj.From+"->"+xj.To, "effective_date", xj.EffectiveDate),
		})
	}

	employees := make(map[string]bool)
	for _, ej := range cj.Employees {
		if ej.ID == "" {
			p.fail("employee %q: missing id", ej.Code)
			continue
		}
		for _, pid := range ej.PayrollIDs {
			if !payrolls[pid] {
				p.fail("employee %s: unknown payroll %q", ej.ID, pid)
			}
		}
		employees[ej.ID] = true
		cfg.Members = append(cfg.Members, Member{Employee: p.employee(ej), PayrollIDs: ej.PayrollIDs})
	}

	for _, nj := range cj.Novelties {
		if !employees[nj.EmployeeID] {
			p.fail("novelty %s: unknown employee %q", nj.ID, nj.EmployeeID)
		}
		n := catalog.Novelty{
			ID:          nj.ID,
			EmployeeID:  nj.EmployeeID,
			PayrollID:   nj.PayrollID,
			ConceptCode: nj.ConceptCode,
			Quantity:    nj.Quantity,
			Date:        p.date("novelty "+nj.ID, "date", nj.Date),
		}
		if n.ID == "" {
			n.ID = f.newID()
		}
		cfg.Novelties = append(cfg.Novelties, n)
	}

	for _, lj := range cj.Loans {
		if !employees[lj.EmployeeID] {
			p.fail("loan %s: unknown employee %q", lj.ID, lj.EmployeeID)
		}
		cfg.Loans = append(cfg.Loans, catalog.Loan{
			ID:          lj.ID,
			EmployeeID:  lj.EmployeeID,
			Code:        lj.Code,
			Name:        lj.Name,
			Installment: lj.Installment,
			Remaining:   lj.Remaining,
			Active:      boolOr(lj.Active, true),
		})
	}

	for _, pj := range cj.LeavePolicies {
		cfg.LeavePolicies = append(cfg.LeavePolicies, p.leavePolicy(pj))
	}
	for _, aj := range cj.Absences {
		cfg.Absences = append(cfg.Absences, leave.Absence{
			ID:         aj.ID,
			EmployeeID: aj.EmployeeID,
			PolicyID:   aj.PolicyID,
			Start:      p.date("absence "+aj.ID, "start", aj.Start),
			End:        p.date("absence "+aj.ID, "end", aj.End),
			Units:      aj.Units,
			Unit:       parseLeaveUnit(aj.Unit),
			Approved:   boolOr(aj.Approved, true),
		})
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseLeavePolicy parses one leave policy document, as produced by presets.go.
func (f *ConfigFactory) ParseLeavePolicy(jsonStr string) (leave.Policy, error) {
	var pj LeavePolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return leave.Policy{}, fmt.Errorf("%w: failed to parse leave policy JSON: %v", generic.ErrConfiguration, err)
	}
	p := &parser{}
	pol := p.leavePolicy(pj)
	return pol, p.err()
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// parser collects problems while converting.
type parser struct {
	errs []error
}

func (p *parser) fail(format string, args ...any) {
	p.errs = append(p.errs, fmt.Errorf("%w: %s", generic.ErrConfiguration, fmt.Sprintf(format, args...)))
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

func (p *parser) date(owner, field, s string) time.Time {
	if s == "" {
		p.fail("%s: missing %s", owner, field)
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		p.fail("%s: invalid %s %q", owner, field, s)
		return time.Time{}
	}
	return t
}

func (p *parser) optionalDate(owner, field, s string) *time.Time {
	if s == "" {
		return nil
	}
	t := p.date(owner, field, s)
	return &t
}

func (p *parser) schema(owner string, raw json.RawMessage) *formula.Schema {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s, err := formula.ParseSchema(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", owner, err))
		return nil
	}
	return s
}

func (p *parser) parameters(pj ParametersJSON) catalog.CalculationParameters {
	params := catalog.CalculationParameters{
		CompanyID:    pj.CompanyID,
		DaysPerMonth: pj.DaysPerMonth,
		DaysPerYear:  pj.DaysPerYear,
	}
	if pj.HoursPerDay != nil {
		if !pj.HoursPerDay.IsPositive() || pj.HoursPerDay.GreaterThan(decimal.NewFromInt(24)) {
			p.fail("parameters %q: hours_per_day %s out of range", pj.CompanyID, pj.HoursPerDay)
		} else {
			params.HoursPerDay = *pj.HoursPerDay
		}
	}
	if pj.FiscalYearStartMonth != 0 {
		if pj.FiscalYearStartMonth < 1 || pj.FiscalYearStartMonth > 12 {
			p.fail("parameters %q: fiscal_year_start_month %d out of range", pj.CompanyID, pj.FiscalYearStartMonth)
		} else {
			params.FiscalYearStartMonth = time.Month(pj.FiscalYearStartMonth)
		}
	}
	if len(pj.PeriodDays) > 0 {
		params.PeriodDays = make(map[catalog.Periodicity]int, len(pj.PeriodDays))
		for k, v := range pj.PeriodDays {
			per, ok := parsePeriodicity(k)
			if !ok {
				p.fail("parameters %q: unknown periodicity %q", pj.CompanyID, k)
				continue
			}
			params.PeriodDays[per] = v
		}
	}
	return params
}

func (p *parser) payroll(pj PayrollJSON) catalog.Payroll {
	per, ok := parsePeriodicity(pj.Periodicity)
	if !ok {
		p.fail("payroll %s: unknown periodicity %q", pj.ID, pj.Periodicity)
	}
	return catalog.Payroll{
		ID:           pj.ID,
		Code:         pj.Code,
		Name:         pj.Name,
		CompanyID:    pj.CompanyID,
		PayrollType:  pj.PayrollType,
		Periodicity:  per,
		Currency:     strings.ToUpper(pj.Currency),
		Active:       boolOr(pj.Active, true),
		LoanPriority: pj.LoanPriority,
	}
}

func (p *parser) concept(cj ConceptJSON) catalog.Concept {
	owner := "concept " + cj.Code
	kind, err := catalog.ParseKind(cj.Kind)
	if err != nil {
		p.fail("%s: %v", owner, err)
	}
	class, ok := parseClass(cj.Class)
	if !ok {
		p.fail("%s: unknown class %q", owner, cj.Class)
	}
	state, ok := parseState(cj.State)
	if !ok {
		p.fail("%s: unknown state %q", owner, cj.State)
	}

	c := catalog.Concept{
		ID:            cj.ID,
		Code:          cj.Code,
		Name:          cj.Name,
		Class:         class,
		Kind:          kind,
		DefaultAmount: cj.DefaultAmount,
		Percentage:    cj.Percentage,
		Formula:       p.schema(owner, cj.Formula),
		TaxRuleRef:    cj.TaxRuleRef,
		Taxable:       cj.Taxable,
		BeforeTax:     cj.BeforeTax,
		Withholding:   cj.Withholding,
		ValidFrom:     p.optionalDate(owner, "valid_from", cj.ValidFrom),
		ValidTo:       p.optionalDate(owner, "valid_to", cj.ValidTo),
		State:         state,
	}
	if kind == catalog.KindFormula && c.Formula == nil && len(cj.Formula) == 0 {
		p.fail("%s: formula kind needs a formula", owner)
	}
	if (c.BeforeTax || c.Withholding) && class != catalog.ClassDeduction {
		p.fail("%s: before_tax and withholding apply to deductions only", owner)
	}
	return c
}

func (p *parser) taxRule(rj TaxRuleJSON) catalog.TaxRule {
	owner := "tax rule " + rj.ID
	if rj.Code == "" && rj.ConceptCode == "" {
		p.fail("%s: needs code or concept_code", owner)
	}
	r := catalog.TaxRule{
		ID:            rj.ID,
		Code:          rj.Code,
		ConceptCode:   rj.ConceptCode,
		Version:       rj.Version,
		EffectiveFrom: p.date(owner, "effective_from", rj.EffectiveFrom),
		EffectiveTo:   p.optionalDate(owner, "effective_to", rj.EffectiveTo),
		Schema:        p.schema(owner, rj.Schema),
	}
	if r.Schema == nil && len(rj.Schema) == 0 {
		p.fail("%s: missing schema", owner)
	}
	return r
}

func (p *parser) employee(ej EmployeeJSON) catalog.Employee {
	owner := "employee " + ej.ID
	e := catalog.Employee{
		ID:              ej.ID,
		Code:            ej.Code,
		Name:            ej.Name,
		PersonalID:      ej.PersonalID,
		CompanyID:       ej.CompanyID,
		BaseSalary:      ej.BaseSalary,
		Currency:        strings.ToUpper(ej.Currency),
		HireDate:        p.date(owner, "hire_date", ej.HireDate),
		TerminationDate: p.optionalDate(owner, "termination_date", ej.TerminationDate),
		Active:          boolOr(ej.Active, true),
	}
	if ej.Opening != nil {
		e.Opening = &catalog.OpeningBalances{
			ImplementationYear: ej.Opening.ImplementationYear,
			LastClosedMonth:    ej.Opening.LastClosedMonth,
			AccumulatedSalary:  ej.Opening.AccumulatedSalary,
			AccumulatedTax:     ej.Opening.AccumulatedTax,
		}
	}
	return e
}

func (p *parser) leavePolicy(pj LeavePolicyJSON) leave.Policy {
	pol := leave.Policy{
		ID:                pj.ID,
		Code:              pj.Code,
		Name:              pj.Name,
		PayrollID:         pj.PayrollID,
		CompanyID:         pj.CompanyID,
		Unit:              parseLeaveUnit(pj.Unit),
		Method:            leave.Method(strings.ToLower(pj.Method)),
		Rate:              pj.Rate,
		Frequency:         leave.Frequency(strings.ToLower(pj.Frequency)),
		Basis:             leave.Basis(strings.ToLower(pj.Basis)),
		MinServiceDays:    pj.MinServiceDays,
		MaxBalance:        pj.MaxBalance,
		AllowFractional:   boolOr(pj.AllowFractional, true),
		Rounding:          leave.RoundingRule(strings.ToLower(pj.Rounding)),
		AllowNegative:     pj.AllowNegative,
		AccrueDuringLeave: boolOr(pj.AccrueDuringLeave, true),
		Active:            boolOr(pj.Active, true),
	}
	for _, t := range pj.Tiers {
		pol.Tiers = append(pol.Tiers, leave.Tier{AfterYears: t.AfterYears, AnnualRate: t.AnnualRate})
	}
	if !pol.AllowFractional && pol.Rounding == "" {
		pol.Rounding = leave.RoundDown
	}
	if err := pol.Validate(); err != nil {
		p.errs = append(p.errs, err)
	}
	return pol
}

func parsePeriodicity(s string) (catalog.Periodicity, bool) {
	switch catalog.Periodicity(strings.ToLower(s)) {
	case catalog.Monthly:
		return catalog.Monthly, true
	case catalog.Semimonthly:
		return catalog.Semimonthly, true
	case catalog.Biweekly:
		return catalog.Biweekly, true
	case catalog.Weekly:
		return catalog.Weekly, true
	default:
		return "", false
	}
}

func parseClass(s string) (catalog.Class, bool) {
	switch catalog.Class(strings.ToLower(s)) {
	case catalog.ClassPerception:
		return catalog.ClassPerception, true
	case catalog.ClassDeduction:
		return catalog.ClassDeduction, true
	case catalog.ClassBenefit:
		return catalog.ClassBenefit, true
	default:
		return "", false
	}
}

func parseState(s string) (catalog.State, bool) {
	switch catalog.State(strings.ToLower(s)) {
	case "", catalog.StateApproved:
		return catalog.StateApproved, true
	case catalog.StateDraft:
		return catalog.StateDraft, true
	case catalog.StateInactive:
		return catalog.StateInactive, true
	default:
		return "", false
	}
}

func parseLeaveUnit(s string) leave.Unit {
	switch strings.ToLower(s) {
	case "hours":
		return leave.UnitHours
	default:
		return leave.UnitDays
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
