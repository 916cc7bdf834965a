/*
Package leave implements the leave accrual and usage ledger.

PURPOSE:
  Employees earn leave (vacation, paid time off) as payroll runs process
  them and spend it through approved absences. Every change is an immutable
  ledger entry; the balance of an account is always the signed sum of its
  entries, never a counter that can drift from history.

KEY CONCEPTS:
  - Policy: how leave is earned (periodic, proportional, seniority), with
    minimum service, maximum balance and rounding rules
  - Account: one employee bound to one policy, optionally to one payroll
  - Entry: accrual (+), usage (-) or reversal with an idempotency key
  - Absence: an approved leave-taking record consumed by ApplyUsage

SCOPE RESOLUTION (most specific wins):
  1. Account explicitly bound to the payroll
  2. Policy scoped to the payroll
  3. Policy scoped to the company
  4. Global policy
  Two matches at the same level is generic.ErrAmbiguousScope.

CONCURRENCY:
  Store.WithAccountLock is the atomic unit: lock the account, recompute the
  balance from its entries, append. Accrual and usage on one account never
  interleave.

SEE ALSO:
  - accrual.go: Method math (pure functions)
  - service.go: Accrue, ApplyUsage, read-only mode
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// QuantityPlaces is the precision leave quantities are stored with when
// fractions are allowed.
const QuantityPlaces = 4

// =============================================================================
// POLICY CONFIGURATION
// =============================================================================

// Method is how a policy earns leave.
type Method string

const (
	MethodPeriodic     Method = "periodic"
	MethodProportional Method = "proportional"
	MethodSeniority    Method = "seniority"
)

// Frequency is the unit a periodic rate is expressed per.
type Frequency string

const (
	FreqWeekly   Frequency = "weekly"
	FreqBiweekly Frequency = "biweekly"
	FreqMonthly  Frequency = "monthly"
	FreqAnnual   Frequency = "annual"
)

// Basis selects what a proportional rate multiplies.
type Basis string

const (
	BasisWorkedDays  Basis = "worked_days"
	BasisWorkedHours Basis = "worked_hours"
)

// RoundingRule applies when fractional units are disallowed.
type RoundingRule string

const (
	RoundDown    RoundingRule = "down"
	RoundUp      RoundingRule = "up"
	RoundNearest RoundingRule = "nearest"
)

// Unit of a leave quantity.
type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

// Tier is one seniority step: from AfterYears of service, AnnualRate per year.
type Tier struct {
	AfterYears int             `json:"after_years"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
}

// Policy defines how an account earns and spends leave.
type Policy struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	PayrollID string `json:"payroll_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	Unit      Unit   `json:"unit"`

	Method    Method          `json:"method"`
	Rate      decimal.Decimal `json:"rate"`
	Frequency Frequency       `json:"frequency,omitempty"`
	Basis     Basis           `json:"basis,omitempty"`
	Tiers     []Tier          `json:"tiers,omitempty"`

	MinServiceDays    int              `json:"min_service_days"`
	MaxBalance        *decimal.Decimal `json:"max_balance,omitempty"`
	AllowFractional   bool             `json:"allow_fractional"`
	Rounding          RoundingRule     `json:"rounding,omitempty"`
	AllowNegative     bool             `json:"allow_negative"`
	AccrueDuringLeave bool             `json:"accrue_during_leave"`
	Active            bool             `json:"active"`
}

// Scope returns how specific the policy is.
func (p Policy) Scope() Scope {
	switch {
	case p.PayrollID != "":
		return ScopePayroll
	case p.CompanyID != "":
		return ScopeCompany
	}
	return ScopeGlobal
}

// Validate checks the policy is internally consistent.
func (p Policy) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: leave policy %s: %s", generic.ErrConfiguration, p.Code, fmt.Sprintf(format, args...))
	}
	switch p.Method {
	case MethodPeriodic:
		switch p.Frequency {
		case FreqWeekly, FreqBiweekly, FreqMonthly, FreqAnnual:
		default:
			return bad("unknown frequency %q", p.Frequency)
		}
	case MethodProportional:
		if p.Basis != BasisWorkedDays && p.Basis != BasisWorkedHours {
			return bad("unknown basis %q", p.Basis)
		}
	case MethodSeniority:
		if len(p.Tiers) == 0 {
			return bad("seniority method needs tiers")
		}
	default:
		return bad("unknown method %q", p.Method)
	}
	if p.Rate.IsNegative() {
		return bad("negative rate")
	}
	if p.MaxBalance != nil && p.MaxBalance.IsNegative() {
		return bad("negative max balance")
	}
	if !p.AllowFractional {
		switch p.Rounding {
		case RoundDown, RoundUp, RoundNearest:
		default:
			return bad("unknown rounding rule %q", p.Rounding)
		}
	}
	if p.Unit != UnitDays && p.Unit != UnitHours {
		return bad("unknown unit %q", p.Unit)
	}
	return nil
}

// Scope is the specificity of an account or policy match.
type Scope int

const (
	ScopeGlobal Scope = iota + 1
	ScopeCompany
	ScopePayroll
	ScopeExplicit
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeCompany:
		return "company"
	case ScopePayroll:
		return "payroll"
	case ScopeExplicit:
		return "explicit"
	}
	return "unknown"
}

// =============================================================================
// ACCOUNTS & LEDGER
// =============================================================================

// Account binds one employee to one policy. PayrollID set means the account
// is explicitly bound to that payroll.
type Account struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	PolicyID   string    `json:"policy_id"`
	PayrollID  string    `json:"payroll_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntryType distinguishes earning from spending.
type EntryType string

const (
	EntryAccrual  EntryType = "accrual"
	EntryUsage    EntryType = "usage"
	EntryReversal EntryType = "reversal"
)

// Entry is an immutable ledger row. Quantity is signed.
type Entry struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Date           time.Time       `json:"date"`
	Type           EntryType       `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Source         string          `json:"source"`
	Reference      string          `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AccrualKey is the idempotency key of the accrual for one payroll-employee record.
func AccrualKey(accountID, recordID string) string {
	return "accrual:" + accountID + ":" + recordID
}

// ReversalKey is the idempotency key of the entry undoing entryID.
func ReversalKey(entryID string) string {
	return "reversal:" + entryID
}

// UsageKey is the idempotency key of the usage for one absence.
func UsageKey(absenceID string) string {
	return "usage:" + absenceID
}

// Sum returns the balance of a set of entries.
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Quantity)
	}
	return total
}

// Absence is an approved leave-taking record awaiting consumption.
type Absence struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	PolicyID   string          `json:"policy_id,omitempty"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Units      decimal.Decimal `json:"units"`
	Unit       Unit            `json:"unit"`
	Approved   bool            `json:"approved"`
	EntryID    string          `json:"entry_id,omitempty"`
}

// Period returns the absence's date range.
func (a Absence) Period() generic.Period {
	return generic.NewPeriod(a.Start, a.End)
}

// =============================================================================
// STORE
// =============================================================================

// Reader is the read side shared by the store and its locked view.
type Reader interface {
	Entries(ctx context.Context, accountID string) ([]Entry, error)
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// LedgerTx is the store view inside an account lock. Writes commit when the
// locked function returns nil.
type LedgerTx interface {
	Reader
	Append(ctx context.Context, e Entry) error
	LinkAbsence(ctx context.Context, absenceID, entryID string) error
}

// Store persists policies, accounts, entries and absences.
type Store interface {
	Reader

	Policies(ctx context.Context) ([]Policy, error)
	Accounts(ctx context.Context, employeeID string) ([]Account, error)

	// EnsureAccount inserts acct unless an account for the same employee,
	// policy and payroll binding exists, in which case that one is returned.
	EnsureAccount(ctx context.Context, acct Account) (Account, error)

	// PendingAbsences returns approved, unlinked absences of the employee
	// overlapping period.
	PendingAbsences(ctx context.Context, employeeID string, period generic.Period) ([]Absence, error)

	// HasApprovedAbsence reports any approved absence overlapping period,
	// linked or not.
	HasApprovedAbsence(ctx context.Context, employeeID string, period generic.Period) (bool, error)

	WithAccountLock(ctx context.Context, accountID string, fn func(tx LedgerTx) error) error
}
