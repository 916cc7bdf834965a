/*
run.go - Payroll run records and their persistence interface

PURPOSE:
  A Run is the persisted outcome of one Execute call: its status, totals,
  warnings and errors, plus one EmployeeResult per processed employee with
  the payslip lines behind it.

KEY CONCEPTS:
  - Run:            one payroll, one period, one snapshot of configuration
  - EmployeeResult: one processed employee; skipped employees have none
  - Line:           one payslip line (BASE first, then concepts)
  - AuditEntry:     who moved the run, from which status, to which

STORE CONTRACT:
  SaveRun upserts the run header. Results and lines are written once per
  employee and never updated; a recalculation writes a new run instead.

SEE ALSO:
  - engine.go: produces runs
  - store/memory/runs.go, store/sqlite/runs.go: implementations
*/
package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/calc"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
)

// Run is one execution of a payroll for a period.
type Run struct {
	ID              string         `json:"id"`
	PayrollID       string         `json:"payroll_id"`
	CompanyID       string         `json:"company_id"`
	PayrollType     string         `json:"payroll_type"`
	Period          generic.Period `json:"period"`
	CalculationDate time.Time      `json:"calculation_date"`
	ActorID         string         `json:"actor_id"`
	Status          Status         `json:"status"`
	Totals          Totals         `json:"totals"`
	Warnings        []string       `json:"warnings"`
	Errors          []string       `json:"errors"`
	SnapshotID      string         `json:"snapshot_id,omitempty"`

	// Supersedes is the run this one recalculates. SupersededBy is set on the
	// original once the recalculation is committed.
	Supersedes   string `json:"supersedes,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`
	Preview      bool   `json:"preview,omitempty"`

	Employees []EmployeeResult `json:"employees,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Totals sum every processed employee of a run.
type Totals struct {
	Gross       decimal.Decimal `json:"gross"`
	Perceptions decimal.Decimal `json:"perceptions"`
	Deductions  decimal.Decimal `json:"deductions"`
	Benefits    decimal.Decimal `json:"benefits"`
	WithheldTax decimal.Decimal `json:"withheld_tax"`
	Net         decimal.Decimal `json:"net"`
	Employees   int             `json:"employees"`
}

func (t *Totals) add(r EmployeeResult) {
	t.Gross = t.Gross.Add(r.Totals.Gross)
	t.Perceptions = t.Perceptions.Add(r.Totals.Perceptions)
	t.Deductions = t.Deductions.Add(r.Totals.Deductions)
	t.Benefits = t.Benefits.Add(r.Totals.Benefits)
	t.WithheldTax = t.WithheldTax.Add(r.Totals.WithheldTax)
	t.Net = t.Net.Add(r.Totals.Net)
	t.Employees++
}

// EmployeeResult is the persisted calculation of one employee.
type EmployeeResult struct {
	ID           string          `json:"id"`
	RunID        string          `json:"run_id"`
	EmployeeID   string          `json:"employee_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	BaseSalary   decimal.Decimal `json:"base_salary"`
	PeriodSalary decimal.Decimal `json:"period_salary"`
	WorkedDays   int             `json:"worked_days"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Totals       calc.Totals     `json:"totals"`
	TaxableBase  decimal.Decimal `json:"taxable_base"`
	LeaveAccrued decimal.Decimal `json:"leave_accrued"`
	LeaveUsed    decimal.Decimal `json:"leave_used"`
	Lines        []Line          `json:"lines"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// Line returns the first line with code.
func (r EmployeeResult) Line(code string) (Line, bool) {
	for _, l := range r.Lines {
		if l.Code == code {
			return l, true
		}
	}
	return Line{}, false
}

// LoanInstallments returns the amount deducted per loan id. The engine never
// decrements Loan.Remaining; whoever owns the loans does, from the results of
// runs that reach applied.
func (r EmployeeResult) LoanInstallments() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, l := range r.Lines {
		if l.LoanID != "" {
			out[l.LoanID] = out[l.LoanID].Add(l.Amount)
		}
	}
	return out
}

// Line is one payslip line.
type Line struct {
	ID        string          `json:"id"`
	ResultID  string          `json:"result_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	ConceptID string          `json:"concept_id,omitempty"`
	LoanID    string          `json:"loan_id,omitempty"`
	Class     catalog.Class   `json:"class"`
	Amount    decimal.Decimal `json:"amount"`
	Order     int             `json:"order"`
}

// =============================================================================
// AUDIT TRAIL - Separate from run data, tracks who did what when
// =============================================================================

// AuditAction names what happened to a run.
type AuditAction string

const (
	AuditExecuted     AuditAction = "executed"
	AuditFailed       AuditAction = "failed"
	AuditTransitioned AuditAction = "transitioned"
	AuditRecalculated AuditAction = "recalculated"
)

// AuditEntry records a status change.
type AuditEntry struct {
	ID      string      `json:"id"`
	RunID   string      `json:"run_id"`
	At      time.Time   `json:"at"`
	ActorID string      `json:"actor_id"`
	Action  AuditAction `json:"action"`
	From    Status      `json:"from,omitempty"`
	To      Status      `json:"to"`
	Detail  string      `json:"detail,omitempty"`
}

// =============================================================================
// STORE
// =============================================================================

// RunStore persists runs, their employee results and the audit trail.
type RunStore interface {
	// SaveRun inserts or replaces the run header. Employees are ignored.
	SaveRun(ctx context.Context, run *Run) error

	SaveEmployeeResult(ctx context.Context, res EmployeeResult) error

	// GetRun returns the run with its employee results and lines, or
	// generic.ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the headers of every run of a payroll, oldest first.
	ListRuns(ctx context.Context, payrollID string) ([]Run, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	AuditTrail(ctx context.Context, runID string) ([]AuditEntry, error)
}
