package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/payroll-engine/accumulation"
	"github.com/warp/payroll-engine/generic"
)

// AccumulationStore implements accumulation.Store.
type AccumulationStore struct {
	s *Store
}

// Accumulations returns the accumulation view of the store.
func (s *Store) Accumulations() *AccumulationStore {
	return &AccumulationStore{s: s}
}

func (a *AccumulationStore) Get(ctx context.Context, key accumulation.Key) (accumulation.Record, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return getAccumulation(ctx, a.s.db, key)
}

// WithLock runs fn in one transaction under the store's write lock.
func (a *AccumulationStore) WithLock(ctx context.Context, _ accumulation.Key, fn func(accumulation.Tx) error) error {
	return a.s.inTx(ctx, func(q querier) error {
		return fn(accumulationTx{q: q})
	})
}

type accumulationTx struct {
	q querier
}

func (tx accumulationTx) Get(ctx context.Context, key accumulation.Key) (accumulation.Record, error) {
	return getAccumulation(ctx, tx.q, key)
}

func (tx accumulationTx) Save(ctx context.Context, rec accumulation.Record) error {
	var monthEnd sql.NullString
	if rec.MonthPeriodEnd != nil {
		monthEnd = sql.NullString{String: formatTime(*rec.MonthPeriodEnd), Valid: true}
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO accumulations (
			id, employee_id, payroll_type, company_id, fiscal_period_start,
			gross, taxable, pre_tax_deductions, withheld_tax, periods_processed,
			month_salary, month_period_end, bootstrapped, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, payroll_type, company_id, fiscal_period_start) DO UPDATE SET
			gross = excluded.gross,
			taxable = excluded.taxable,
			pre_tax_deductions = excluded.pre_tax_deductions,
			withheld_tax = excluded.withheld_tax,
			periods_processed = excluded.periods_processed,
			month_salary = excluded.month_salary,
			month_period_end = excluded.month_period_end,
			bootstrapped = excluded.bootstrapped,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Key.EmployeeID, rec.Key.PayrollType, rec.Key.CompanyID, formatTime(rec.Key.FiscalPeriodStart),
		rec.Gross, rec.Taxable, rec.PreTaxDeductions, rec.WithheldTax, rec.PeriodsProcessed,
		rec.MonthSalary, monthEnd, rec.Bootstrapped, formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save accumulation %s: %w", rec.Key, err)
	}
	return nil
}

func getAccumulation(ctx context.Context, q querier, key accumulation.Key) (accumulation.Record, error) {
	rec := accumulation.Record{Key: key}
	var monthEnd sql.NullString
	var updatedAt string
	err := q.QueryRowContext(ctx, `
		SELECT id, gross, taxable, pre_tax_deductions, withheld_tax, periods_processed,
		       month_salary, month_period_end, bootstrapped, updated_at
		FROM accumulations
		WHERE employee_id = ? AND payroll_type = ? AND company_id = ? AND fiscal_period_start = ?
	`, key.EmployeeID, key.PayrollType, key.CompanyID, formatTime(key.FiscalPeriodStart)).Scan(
		&rec.ID, &rec.Gross, &rec.Taxable, &rec.PreTaxDeductions, &rec.WithheldTax, &rec.PeriodsProcessed,
		&rec.MonthSalary, &monthEnd, &rec.Bootstrapped, &updatedAt)
	if isNoRows(err) {
		return accumulation.Record{}, generic.ErrNotFound
	}
	if err != nil {
		return accumulation.Record{}, err
	}
	if monthEnd.Valid {
		t := parseTime(monthEnd.String)
		rec.MonthPeriodEnd = &t
	}
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}
