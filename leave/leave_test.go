package leave_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	employee = catalog.Employee{ID: "emp-1", Name: "Ana Ruiz", CompanyID: "acme", HireDate: generic.Date(2020, time.January, 1)}
	payroll  = catalog.Payroll{ID: "pay-1", CompanyID: "acme"}
	january  = generic.NewPeriod(generic.Date(2025, time.January, 1), generic.Date(2025, time.January, 31))
)

func monthlyPolicy() leave.Policy {
	return leave.Policy{
		ID: "vac", Code: "VAC", Unit: leave.UnitDays,
		Method: leave.MethodPeriodic, Rate: d("1.25"), Frequency: leave.FreqMonthly,
		AllowFractional: true, Active: true,
	}
}

func setup(policies ...leave.Policy) (*leave.Service, *memory.Leave) {
	store := memory.NewLeave()
	for _, p := range policies {
		store.AddPolicy(p)
	}
	return leave.NewService(store, nil), store
}

func accrue(t *testing.T, svc *leave.Service, record string, period generic.Period) decimal.Decimal {
	t.Helper()
	q, err := svc.Accrue(context.Background(), leave.AccrualInput{
		Employee: employee, Payroll: payroll, Period: period, RecordID: record, WorkedDays: period.Days(), HoursPerDay: d("8"),
	})
	require.NoError(t, err)
	return q
}

func accountOf(t *testing.T, store *memory.Leave) leave.Account {
	t.Helper()
	accts, err := store.Accounts(context.Background(), employee.ID)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	return accts[0]
}

// =============================================================================
// ACCRUAL
// =============================================================================

func TestAccrue_IdempotentPerRecord(t *testing.T) {
	svc, store := setup(monthlyPolicy())

	// GIVEN: one accrual for record r-1
	assert.True(t, accrue(t, svc, "r-1", january).Equal(d("1.25")))

	// WHEN: the same record is accrued again
	second := accrue(t, svc, "r-1", january)

	// THEN: no-op returning zero, one entry in the ledger
	assert.True(t, second.IsZero())
	entries, err := svc.Entries(context.Background(), accountOf(t, store).ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, leave.EntryAccrual, entries[0].Type)
	assert.Equal(t, "r-1", entries[0].Reference)
}

func TestReverseAccrual_UndoesOneRecordOnce(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(monthlyPolicy())
	february := generic.NewPeriod(generic.Date(2025, time.February, 1), generic.Date(2025, time.February, 28))

	// GIVEN: accruals for two records
	accrue(t, svc, "r-1", january)
	accrue(t, svc, "r-2", february)

	// WHEN: r-2 is reversed twice
	first, err := svc.ReverseAccrual(ctx, employee.ID, "r-2")
	require.NoError(t, err)
	second, err := svc.ReverseAccrual(ctx, employee.ID, "r-2")
	require.NoError(t, err)

	// THEN: one reversal entry, balance back to r-1 only
	assert.True(t, first.Equal(d("1.25")))
	assert.True(t, second.IsZero())
	acct := accountOf(t, store)
	entries, err := svc.Entries(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, leave.EntryReversal, entries[2].Type)
	assert.Equal(t, entries[1].ID, entries[2].Reference)
	balance, err := svc.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("1.25")))

	// THEN: a read-only service never reverses
	q, err := svc.ReadOnly().ReverseAccrual(ctx, employee.ID, "r-1")
	require.NoError(t, err)
	assert.True(t, q.IsZero())
}

func TestAccrue_PeriodicProratedByActualLength(t *testing.T) {
	svc, _ := setup(monthlyPolicy())
	half := generic.NewPeriod(generic.Date(2025, time.January, 1), generic.Date(2025, time.January, 15))

	// 1.25 * 15 / 31
	assert.Equal(t, "0.6048", accrue(t, svc, "r-1", half).String())
}

func TestAccrue_Seniority(t *testing.T) {
	p := leave.Policy{
		ID: "sen", Code: "SEN", Unit: leave.UnitDays, Method: leave.MethodSeniority,
		Tiers: []leave.Tier{
			{AfterYears: 10, AnnualRate: d("24")},
			{AfterYears: 0, AnnualRate: d("12")},
			{AfterYears: 5, AnnualRate: d("18")},
		},
		AllowFractional: true, Active: true,
	}
	svc, _ := setup(p)

	// 5 completed years at Jan 31 2025: 18 * 31 / 365
	assert.Equal(t, "1.5288", accrue(t, svc, "r-1", january).String())
}

func TestAccrue_ProportionalHours(t *testing.T) {
	p := leave.Policy{
		ID: "prop", Code: "PROP", Unit: leave.UnitHours, Method: leave.MethodProportional,
		Rate: d("0.05"), Basis: leave.BasisWorkedHours, AllowFractional: true, Active: true,
	}
	svc, _ := setup(p)

	q, err := svc.Accrue(context.Background(), leave.AccrualInput{
		Employee: employee, Payroll: payroll, Period: january, RecordID: "r-1", WorkedDays: 20, HoursPerDay: d("8"),
	})
	require.NoError(t, err)
	assert.True(t, q.Equal(d("8")))
}

func TestAccrue_MinimumService(t *testing.T) {
	p := monthlyPolicy()
	p.MinServiceDays = 90
	svc, _ := setup(p)

	recent := employee
	recent.HireDate = generic.Date(2025, time.January, 10)
	q, err := svc.Accrue(context.Background(), leave.AccrualInput{Employee: recent, Payroll: payroll, Period: january, RecordID: "r-1"})
	require.NoError(t, err)
	assert.True(t, q.IsZero())
}

func TestAccrue_CappedAtMaxBalance(t *testing.T) {
	p := monthlyPolicy()
	p.MaxBalance = generic.DecimalPtr("2")
	svc, store := setup(p)

	assert.True(t, accrue(t, svc, "r-1", january).Equal(d("1.25")))
	assert.True(t, accrue(t, svc, "r-2", january).Equal(d("0.75")), "partial accrual up to cap")
	assert.True(t, accrue(t, svc, "r-3", january).IsZero(), "already at cap")

	balance, err := svc.Balance(context.Background(), accountOf(t, store).ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("2")))
}

func TestAccrue_WholeUnitRounding(t *testing.T) {
	tests := []struct {
		rule leave.RoundingRule
		want string
	}{
		{leave.RoundDown, "0"},
		{leave.RoundUp, "1"},
		{leave.RoundNearest, "1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.rule), func(t *testing.T) {
			p := monthlyPolicy()
			p.Rate = d("0.5")
			p.AllowFractional = false
			p.Rounding = tt.rule
			svc, store := setup(p)

			got := accrue(t, svc, "r-1", january)
			assert.Equal(t, tt.want, got.String())

			entries, err := svc.Entries(context.Background(), accountOf(t, store).ID)
			require.NoError(t, err)
			if got.IsZero() {
				assert.Empty(t, entries, "zero-rounded result is discarded")
			} else {
				assert.Len(t, entries, 1)
			}
		})
	}
}

func TestAccrue_SuppressedDuringApprovedLeave(t *testing.T) {
	svc, store := setup(monthlyPolicy())
	store.AddAbsence(leave.Absence{
		ID: "abs-1", EmployeeID: employee.ID, Approved: true, Unit: leave.UnitDays, Units: d("3"),
		Start: generic.Date(2025, time.January, 20), End: generic.Date(2025, time.January, 22),
	})

	assert.True(t, accrue(t, svc, "r-1", january).IsZero())

	p := monthlyPolicy()
	p.AccrueDuringLeave = true
	svc, store = setup(p)
	store.AddAbsence(leave.Absence{ID: "abs-1", EmployeeID: employee.ID, Approved: true, Start: january.Start, End: january.End})
	assert.True(t, accrue(t, svc, "r-1", january).Equal(d("1.25")))
}

// =============================================================================
// USAGE
// =============================================================================

func TestApplyUsage_InsufficientBalance(t *testing.T) {
	svc, store := setup(monthlyPolicy())
	accrue(t, svc, "r-1", january)
	store.AddAbsence(leave.Absence{
		ID: "abs-big", EmployeeID: employee.ID, Approved: true, Unit: leave.UnitDays, Units: d("2"),
		Start: generic.Date(2025, time.January, 6), End: generic.Date(2025, time.January, 7),
	})

	// WHEN
	used, err := svc.ApplyUsage(context.Background(), leave.UsageInput{Employee: employee, Payroll: payroll, Period: january})

	// THEN: rejected with a domain error, nothing written
	require.Error(t, err)
	assert.True(t, used.IsZero())
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	var shortage *generic.InsufficientBalanceError
	require.True(t, errors.As(err, &shortage))
	assert.True(t, shortage.Available.Equal(d("1.25")))
	assert.True(t, shortage.Shortfall().Equal(d("0.75")))

	abs, _ := store.Absence("abs-big")
	assert.Empty(t, abs.EntryID)
}

func TestApplyUsage_WritesNegativeEntryAndLinks(t *testing.T) {
	svc, store := setup(monthlyPolicy())
	accrue(t, svc, "r-1", january)
	store.AddAbsence(leave.Absence{
		ID: "abs-1", EmployeeID: employee.ID, Approved: true, Unit: leave.UnitHours, Units: d("8"),
		Start: generic.Date(2025, time.January, 6), End: generic.Date(2025, time.January, 6),
	})
	in := leave.UsageInput{Employee: employee, Payroll: payroll, Period: january, HoursPerDay: d("8")}

	used, err := svc.ApplyUsage(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, used.Equal(d("1")), "8 hours is one day")

	acct := accountOf(t, store)
	balance, err := svc.Balance(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("0.25")))

	abs, _ := store.Absence("abs-1")
	assert.NotEmpty(t, abs.EntryID)

	// consumed absences are not applied twice
	used, err = svc.ApplyUsage(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, used.IsZero())
}

func TestApplyUsage_AllowNegative(t *testing.T) {
	p := monthlyPolicy()
	p.AllowNegative = true
	svc, store := setup(p)
	store.AddAbsence(leave.Absence{
		ID: "abs-1", EmployeeID: employee.ID, Approved: true, Unit: leave.UnitDays, Units: d("3"),
		Start: generic.Date(2025, time.January, 6), End: generic.Date(2025, time.January, 8),
	})

	used, err := svc.ApplyUsage(context.Background(), leave.UsageInput{Employee: employee, Payroll: payroll, Period: january})
	require.NoError(t, err)
	assert.True(t, used.Equal(d("3")))

	balance, err := svc.Balance(context.Background(), accountOf(t, store).ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("-3")))
}

func TestApplyUsage_InvalidAbsence(t *testing.T) {
	p := monthlyPolicy()
	p.AllowNegative = true
	svc, store := setup(p)
	store.AddAbsence(leave.Absence{
		ID: "abs-backwards", EmployeeID: employee.ID, Approved: true, Unit: leave.UnitDays, Units: d("1"),
		Start: generic.Date(2025, time.January, 9), End: generic.Date(2025, time.January, 8),
	})
	store.AddAbsence(leave.Absence{
		ID: "abs-unit", EmployeeID: employee.ID, Approved: true, Unit: "weeks", Units: d("1"),
		Start: generic.Date(2025, time.January, 10), End: generic.Date(2025, time.January, 10),
	})
	store.AddAbsence(leave.Absence{
		ID: "abs-ok", EmployeeID: employee.ID, Approved: true, Unit: leave.UnitDays, Units: d("1"),
		Start: generic.Date(2025, time.January, 13), End: generic.Date(2025, time.January, 13),
	})

	used, err := svc.ApplyUsage(context.Background(), leave.UsageInput{Employee: employee, Payroll: payroll, Period: january})

	assert.ErrorIs(t, err, generic.ErrInvalidAbsence)
	assert.Contains(t, err.Error(), "abs-backwards")
	assert.Contains(t, err.Error(), "abs-unit")
	assert.True(t, used.Equal(d("1")), "valid absences still apply")
}

// =============================================================================
// READ-ONLY MODE
// =============================================================================

func TestReadOnly_ComputesWithoutWriting(t *testing.T) {
	svc, store := setup(monthlyPolicy())
	store.AddAbsence(leave.Absence{
		ID: "abs-1", EmployeeID: employee.ID, Approved: true, Unit: leave.UnitDays, Units: d("1"),
		Start: generic.Date(2025, time.February, 3), End: generic.Date(2025, time.February, 3),
	})
	ro := svc.ReadOnly()
	require.True(t, ro.IsReadOnly())
	require.False(t, svc.IsReadOnly())

	q := accrue(t, ro, "r-1", january)
	assert.True(t, q.Equal(d("1.25")))

	accts, err := store.Accounts(context.Background(), employee.ID)
	require.NoError(t, err)
	assert.Empty(t, accts, "no account materialized")

	feb := generic.NewPeriod(generic.Date(2025, time.February, 1), generic.Date(2025, time.February, 28))
	_, err = ro.ApplyUsage(context.Background(), leave.UsageInput{Employee: employee, Payroll: payroll, Period: feb})
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	abs, _ := store.Absence("abs-1")
	assert.Empty(t, abs.EntryID)
}

// =============================================================================
// SCOPE RESOLUTION
// =============================================================================

func TestResolve_MostSpecificWins(t *testing.T) {
	global := monthlyPolicy()
	global.ID, global.Code = "global", "G"
	company := monthlyPolicy()
	company.ID, company.Code, company.CompanyID = "company", "C", "acme"
	byPayroll := monthlyPolicy()
	byPayroll.ID, byPayroll.Code, byPayroll.PayrollID = "payroll", "P", payroll.ID
	otherCompany := monthlyPolicy()
	otherCompany.ID, otherCompany.Code, otherCompany.CompanyID = "other", "O", "globex"

	ctx := context.Background()

	svc, _ := setup(global, company, byPayroll, otherCompany)
	res, ok, err := svc.Resolve(ctx, employee, payroll)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payroll", res.Policy.ID)
	assert.Equal(t, leave.ScopePayroll, res.Scope)

	svc, _ = setup(global, company, otherCompany)
	res, _, err = svc.Resolve(ctx, employee, payroll)
	require.NoError(t, err)
	assert.Equal(t, "company", res.Policy.ID)

	svc, _ = setup(global, otherCompany)
	res, _, err = svc.Resolve(ctx, employee, payroll)
	require.NoError(t, err)
	assert.Equal(t, "global", res.Policy.ID)

	// explicit payroll binding beats every policy scope
	svc, store := setup(global, byPayroll)
	store.AddAccount(leave.Account{ID: "bound", EmployeeID: employee.ID, PolicyID: "global", PayrollID: payroll.ID})
	res, _, err = svc.Resolve(ctx, employee, payroll)
	require.NoError(t, err)
	assert.Equal(t, "bound", res.Account.ID)
	assert.Equal(t, leave.ScopeExplicit, res.Scope)
}

func TestResolve_AmbiguousScope(t *testing.T) {
	a := monthlyPolicy()
	b := monthlyPolicy()
	b.ID = "vac-2"
	svc, _ := setup(a, b)

	_, err := svc.Accrue(context.Background(), leave.AccrualInput{Employee: employee, Payroll: payroll, Period: january, RecordID: "r-1"})
	assert.ErrorIs(t, err, generic.ErrAmbiguousScope)
}

func TestResolve_NoPolicy(t *testing.T) {
	svc, _ := setup()
	q := accrue(t, svc, "r-1", january)
	assert.True(t, q.IsZero())
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, monthlyPolicy().Validate())

	p := monthlyPolicy()
	p.Method = "lottery"
	assert.ErrorIs(t, p.Validate(), generic.ErrConfiguration)

	p = monthlyPolicy()
	p.AllowFractional = false
	assert.Error(t, p.Validate(), "whole units need a rounding rule")
}
