package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/accumulation"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/snapshot"
	"github.com/warp/payroll-engine/store/memory"
	"github.com/warp/payroll-engine/store/sqlite"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// Compile-time interface checks.
var (
	_ leave.Store        = (*sqlite.LeaveStore)(nil)
	_ accumulation.Store = (*sqlite.AccumulationStore)(nil)
	_ payroll.RunStore   = (*sqlite.RunStore)(nil)
	_ snapshot.Store     = (*sqlite.SnapshotStore)(nil)
)

// =============================================================================
// LEAVE
// =============================================================================

func TestLeave_EnsureAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newStore(t).Leave()

	first, err := l.EnsureAccount(ctx, leave.Account{ID: "a-1", EmployeeID: "emp-1", PolicyID: "vac", CreatedAt: time.Now()})
	require.NoError(t, err)
	second, err := l.EnsureAccount(ctx, leave.Account{ID: "a-2", EmployeeID: "emp-1", PolicyID: "vac", CreatedAt: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, "a-1", first.ID)
	assert.Equal(t, "a-1", second.ID, "existing account returned")

	// A payroll-bound account for the same policy is distinct.
	bound, err := l.EnsureAccount(ctx, leave.Account{ID: "a-3", EmployeeID: "emp-1", PolicyID: "vac", PayrollID: "pay-1", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "a-3", bound.ID)

	accts, err := l.Accounts(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, accts, 2)
}

func TestLeave_LedgerIsAppendOnlyAndIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newStore(t).Leave()
	require.NoError(t, l.SaveAccount(ctx, leave.Account{ID: "a-1", EmployeeID: "emp-1", PolicyID: "vac"}))

	entry := func(id, key, qty string) leave.Entry {
		return leave.Entry{
			ID: id, AccountID: "a-1", Date: generic.Date(2025, time.January, 31), Type: leave.EntryAccrual,
			Quantity: d(qty), Source: "payroll", IdempotencyKey: key, CreatedAt: time.Now(),
		}
	}

	// GIVEN: two accruals in one locked section
	err := l.WithAccountLock(ctx, "a-1", func(tx leave.LedgerTx) error {
		if err := tx.Append(ctx, entry("e-1", "k-1", "1.25")); err != nil {
			return err
		}
		seen, err := tx.Entries(ctx, "a-1")
		require.NoError(t, err)
		assert.Len(t, seen, 1, "own writes visible inside the lock")
		return tx.Append(ctx, entry("e-2", "k-2", "1.25"))
	})
	require.NoError(t, err)

	// WHEN: the first key is replayed
	err = l.WithAccountLock(ctx, "a-1", func(tx leave.LedgerTx) error {
		return tx.Append(ctx, entry("e-3", "k-1", "1.25"))
	})

	// THEN: rejected, ledger unchanged
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	entries, err := l.Entries(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e-1", entries[0].ID)
	assert.True(t, leave.Sum(entries).Equal(d("2.5")))

	exists, err := l.Exists(ctx, "k-2")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLeave_FailedSectionWritesNothing(t *testing.T) {
	ctx := context.Background()
	l := newStore(t).Leave()
	require.NoError(t, l.SaveAccount(ctx, leave.Account{ID: "a-1", EmployeeID: "emp-1", PolicyID: "vac"}))
	require.NoError(t, l.SaveAbsence(ctx, leave.Absence{
		ID: "abs-1", EmployeeID: "emp-1", Start: generic.Date(2025, time.March, 3), End: generic.Date(2025, time.March, 4),
		Units: d("2"), Unit: leave.UnitDays, Approved: true,
	}))

	boom := errors.New("boom")
	err := l.WithAccountLock(ctx, "a-1", func(tx leave.LedgerTx) error {
		require.NoError(t, tx.Append(ctx, leave.Entry{ID: "e-1", AccountID: "a-1", Type: leave.EntryUsage, Quantity: d("-2"), IdempotencyKey: leave.UsageKey("abs-1")}))
		require.NoError(t, tx.LinkAbsence(ctx, "abs-1", "e-1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := l.Entries(ctx, "a-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	abs, err := l.Absence(ctx, "abs-1")
	require.NoError(t, err)
	assert.Empty(t, abs.EntryID)
}

func TestLeave_PendingAbsences(t *testing.T) {
	ctx := context.Background()
	l := newStore(t).Leave()
	march := generic.Period{Start: generic.StartOfMonth(2025, time.March), End: generic.EndOfMonth(2025, time.March)}

	for _, a := range []leave.Absence{
		{ID: "late", EmployeeID: "emp-1", Start: generic.Date(2025, time.March, 20), End: generic.Date(2025, time.March, 21), Units: d("2"), Unit: leave.UnitDays, Approved: true},
		{ID: "early", EmployeeID: "emp-1", Start: generic.Date(2025, time.February, 27), End: generic.Date(2025, time.March, 3), Units: d("3"), Unit: leave.UnitDays, Approved: true},
		{ID: "unapproved", EmployeeID: "emp-1", Start: generic.Date(2025, time.March, 10), End: generic.Date(2025, time.March, 10), Units: d("1"), Unit: leave.UnitDays},
		{ID: "linked", EmployeeID: "emp-1", Start: generic.Date(2025, time.March, 12), End: generic.Date(2025, time.March, 12), Units: d("1"), Unit: leave.UnitDays, Approved: true, EntryID: "e-9"},
		{ID: "april", EmployeeID: "emp-1", Start: generic.Date(2025, time.April, 1), End: generic.Date(2025, time.April, 1), Units: d("1"), Unit: leave.UnitDays, Approved: true},
		{ID: "other", EmployeeID: "emp-2", Start: generic.Date(2025, time.March, 5), End: generic.Date(2025, time.March, 5), Units: d("1"), Unit: leave.UnitDays, Approved: true},
	} {
		require.NoError(t, l.SaveAbsence(ctx, a))
	}

	pending, err := l.PendingAbsences(ctx, "emp-1", march)
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, a := range pending {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"early", "late"}, ids)
	assert.True(t, pending[0].Units.Equal(d("3")))

	has, err := l.HasApprovedAbsence(ctx, "emp-1", generic.Period{Start: generic.Date(2025, time.March, 12), End: generic.Date(2025, time.March, 12)})
	require.NoError(t, err)
	assert.True(t, has, "linked absences still count")

	has, err = l.HasApprovedAbsence(ctx, "emp-1", generic.Period{Start: generic.Date(2025, time.March, 10), End: generic.Date(2025, time.March, 10)})
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLeave_PoliciesRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newStore(t).Leave()
	max := d("15")
	require.NoError(t, l.SavePolicy(ctx, leave.Policy{
		ID: "vac", Code: "VAC", Unit: leave.UnitDays, Method: leave.MethodPeriodic, Rate: d("1.25"),
		Frequency: leave.FreqMonthly, MaxBalance: &max, Active: true,
	}))
	require.NoError(t, l.SavePolicy(ctx, leave.Policy{ID: "vac", Code: "VAC", Unit: leave.UnitDays, Rate: d("2"), Active: true}))

	policies, err := l.Policies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1, "saving the same id updates")
	assert.True(t, policies[0].Rate.Equal(d("2")))
	assert.Nil(t, policies[0].MaxBalance)
}

// =============================================================================
// ACCUMULATION
// =============================================================================

func TestAccumulation_RepositoryOnSQLite(t *testing.T) {
	ctx := context.Background()
	store := newStore(t).Accumulations()
	repo := accumulation.NewRepository(store, nil)
	key := accumulation.Key{EmployeeID: "emp-1", PayrollType: "ordinary", CompanyID: "acme", FiscalPeriodStart: generic.Date(2025, time.January, 1)}

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	// WHEN: two periods are accumulated
	for _, m := range []time.Month{time.January, time.February} {
		_, err := repo.Accumulate(ctx, key, nil, accumulation.Contribution{
			Gross: d("10500"), Taxable: d("10500"), Tax: d("1050"), PeriodSalary: d("10000"),
			PeriodEnd: generic.EndOfMonth(2025, m), Periods: 1,
		})
		require.NoError(t, err)
	}

	// THEN: totals add up and month-to-date salary reset in February
	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.Gross.Equal(d("21000")), rec.Gross.String())
	assert.True(t, rec.WithheldTax.Equal(d("2100")))
	assert.Equal(t, 2, rec.PeriodsProcessed)
	assert.True(t, rec.MonthSalary.Equal(d("10000")))
	require.NotNil(t, rec.MonthPeriodEnd)
	assert.True(t, rec.MonthPeriodEnd.Equal(generic.EndOfMonth(2025, time.February)))
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestSnapshots_DuplicateAndMissing(t *testing.T) {
	ctx := context.Background()
	ss := newStore(t).Snapshots()
	snap := &snapshot.Snapshot{ID: "s-1", Content: snapshot.Content{Payroll: catalog.Payroll{ID: "pay-1"}}}

	require.NoError(t, ss.SaveSnapshot(ctx, snap))
	assert.Error(t, ss.SaveSnapshot(ctx, snap))

	_, err := ss.GetSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_ExecuteAndRecalculateOnSQLite(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	cat := memory.NewCatalog()
	pay := catalog.Payroll{
		ID: "pay-1", Code: "MX-MONTHLY", Name: "Monthly", CompanyID: "acme", PayrollType: "ordinary",
		Periodicity: catalog.Monthly, Currency: "MXN", Active: true,
	}
	cat.PutPayroll(pay)
	cat.PutEmployee(catalog.Employee{
		ID: "emp-1", Code: "E001", Name: "Ana Ruiz", PersonalID: "PID-1", CompanyID: "acme",
		BaseSalary: d("10000"), Currency: "MXN", HireDate: generic.Date(2020, time.January, 1), Active: true,
	}, pay.ID)

	isr, err := formula.ParseSchema([]byte(`{
		"steps": [{"name": "isr", "type": "calculation", "expression": "taxable_gross * 0.1"}],
		"output": "isr"
	}`))
	require.NoError(t, err)
	cat.PutConcept(catalog.Concept{ID: "c-bonus", Code: "BONUS", Name: "Bonus", Class: catalog.ClassPerception, Kind: catalog.KindFixed, DefaultAmount: generic.DecimalPtr("500"), Taxable: true})
	cat.PutConcept(catalog.Concept{ID: "c-isr", Code: "ISR", Name: "Income tax", Class: catalog.ClassDeduction, Kind: catalog.KindTaxRule, Withholding: true})
	cat.AddTaxRule(catalog.TaxRule{ID: "r-isr-1", ConceptCode: "ISR", Version: 1, EffectiveFrom: generic.Date(2024, time.January, 1), Schema: isr})
	cat.Assign(catalog.Assignment{ID: "a-bonus", PayrollID: pay.ID, ConceptID: "c-bonus", Order: 1})
	cat.Assign(catalog.Assignment{ID: "a-isr", PayrollID: pay.ID, ConceptID: "c-isr", Priority: 1})

	require.NoError(t, store.Leave().SavePolicy(ctx, leave.Policy{
		ID: "vac", Code: "VAC", Unit: leave.UnitDays, Method: leave.MethodPeriodic, Rate: d("1.25"),
		Frequency: leave.FreqMonthly, AllowFractional: true, Active: true,
	}))

	engine, err := payroll.NewEngine(payroll.Dependencies{
		Directory:     cat,
		Config:        cat,
		Runs:          store.Runs(),
		Snapshots:     store.Snapshots(),
		Accumulations: store.Accumulations(),
		Leave:         store.Leave(),
	})
	require.NoError(t, err)

	// WHEN: January is executed
	run, err := engine.Execute(ctx, payroll.Request{
		PayrollID: pay.ID, PeriodStart: generic.StartOfMonth(2025, time.January), PeriodEnd: generic.EndOfMonth(2025, time.January), ActorID: "u-1",
	})
	require.NoError(t, err)
	require.Equal(t, payroll.StatusGenerated, run.Status)

	// THEN: the stored run reads back with lines in order
	stored, err := engine.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusGenerated, stored.Status)
	assert.True(t, stored.Totals.Net.Equal(d("9450")), stored.Totals.Net.String())
	require.Len(t, stored.Employees, 1)
	res := stored.Employees[0]
	codes := make([]string, 0, len(res.Lines))
	for _, l := range res.Lines {
		codes = append(codes, l.Code)
	}
	assert.Equal(t, []string{"BASE", "BONUS", "ISR"}, codes)
	assert.True(t, res.LeaveAccrued.Equal(d("1.25")))
	assert.True(t, stored.Period.Start.Equal(generic.StartOfMonth(2025, time.January)))

	// WHEN: approved, then recalculated from the stored snapshot
	_, err = engine.Transition(ctx, run.ID, payroll.StatusApproved, payroll.Action{Actor: "u-2"})
	require.NoError(t, err)
	recalc, err := engine.Recalculate(ctx, run.ID, payroll.RecalcOptions{ActorID: "u-2"})
	require.NoError(t, err)

	// THEN: same numbers, original marked superseded
	assert.True(t, recalc.Totals.Net.Equal(d("9450")))
	orig, err := engine.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, recalc.ID, orig.SupersededBy)
	assert.Equal(t, payroll.StatusApproved, orig.Status)

	rec, err := store.Accumulations().Get(ctx, accumulation.Key{
		EmployeeID: "emp-1", PayrollType: "ordinary", CompanyID: "acme", FiscalPeriodStart: generic.Date(2025, time.January, 1),
	})
	require.NoError(t, err)
	assert.True(t, rec.Gross.Equal(d("10500")))
	assert.Equal(t, 1, rec.PeriodsProcessed)

	trail, err := engine.AuditTrail(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, payroll.AuditExecuted, trail[0].Action)
	assert.Equal(t, payroll.StatusGenerated, trail[1].From)
	assert.Equal(t, payroll.StatusApproved, trail[1].To)
	assert.Equal(t, "u-2", trail[1].ActorID)

	runs, err := store.Runs().ListRuns(ctx, pay.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Leave().SavePolicy(ctx, leave.Policy{ID: "vac", Code: "VAC"}))

	require.NoError(t, store.Reset(ctx))

	policies, err := store.Leave().Policies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)
}
