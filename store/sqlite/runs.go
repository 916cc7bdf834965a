package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// RunStore implements payroll.RunStore.
type RunStore struct {
	s *Store
}

// Runs returns the payroll run view of the store.
func (s *Store) Runs() *RunStore {
	return &RunStore{s: s}
}

// =============================================================================
// RUNS
// =============================================================================

func (r *RunStore) SaveRun(ctx context.Context, run *payroll.Run) error {
	totals, err := json.Marshal(run.Totals)
	if err != nil {
		return fmt.Errorf("failed to marshal totals: %w", err)
	}
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO payroll_runs (
			id, payroll_id, company_id, payroll_type, period_start, period_end, calculation_date,
			actor_id, status, totals_json, warnings_json, errors_json, snapshot_id,
			supersedes, superseded_by, preview, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			totals_json = excluded.totals_json,
			warnings_json = excluded.warnings_json,
			errors_json = excluded.errors_json,
			snapshot_id = excluded.snapshot_id,
			supersedes = excluded.supersedes,
			superseded_by = excluded.superseded_by,
			updated_at = excluded.updated_at
	`, run.ID, run.PayrollID, run.CompanyID, run.PayrollType,
		formatTime(run.Period.Start), formatTime(run.Period.End), formatTime(run.CalculationDate),
		nullString(run.ActorID), string(run.Status), string(totals), string(warnings), string(errs),
		nullString(run.SnapshotID), nullString(run.Supersedes), nullString(run.SupersededBy),
		run.Preview, formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

// SaveEmployeeResult writes a result and its lines in one transaction.
func (r *RunStore) SaveEmployeeResult(ctx context.Context, res payroll.EmployeeResult) error {
	totals, err := json.Marshal(res.Totals)
	if err != nil {
		return fmt.Errorf("failed to marshal totals: %w", err)
	}
	warnings, err := json.Marshal(res.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	return r.s.inTx(ctx, func(q querier) error {
		var n int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payroll_runs WHERE id = ?`, res.RunID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: run %s", generic.ErrNotFound, res.RunID)
		}

		_, err := q.ExecContext(ctx, `
			INSERT INTO employee_results (
				id, run_id, employee_id, code, name, base_salary, period_salary, worked_days,
				currency, exchange_rate, totals_json, taxable_base, leave_accrued, leave_used, warnings_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, res.ID, res.RunID, res.EmployeeID, res.Code, res.Name, res.BaseSalary, res.PeriodSalary,
			res.WorkedDays, res.Currency, res.ExchangeRate, string(totals), res.TaxableBase,
			res.LeaveAccrued, res.LeaveUsed, string(warnings))
		if isUniqueConstraintError(err) {
			return fmt.Errorf("result for employee %s already saved on run %s", res.EmployeeID, res.RunID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert employee result: %w", err)
		}

		for _, l := range res.Lines {
			_, err := q.ExecContext(ctx, `
				INSERT INTO payroll_lines (id, result_id, code, name, concept_id, loan_id, class, amount, line_order)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, l.ID, res.ID, l.Code, l.Name, nullString(l.ConceptID), nullString(l.LoanID), string(l.Class), l.Amount, l.Order)
			if err != nil {
				return fmt.Errorf("failed to insert line %s: %w", l.Code, err)
			}
		}
		return nil
	})
}

func (r *RunStore) GetRun(ctx context.Context, id string) (*payroll.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, runSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: run %s", generic.ErrNotFound, id)
	}
	run := runs[0]

	run.Employees, err = r.results(ctx, id)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunStore) ListRuns(ctx context.Context, payrollID string) ([]payroll.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, runSelect+` WHERE payroll_id = ? ORDER BY created_at, id`, payrollID)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

// results loads the employee results of a run. Caller holds the read lock.
func (r *RunStore) results(ctx context.Context, runID string) ([]payroll.EmployeeResult, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, run_id, employee_id, code, name, base_salary, period_salary, worked_days,
		       currency, exchange_rate, totals_json, taxable_base, leave_accrued, leave_used, warnings_json
		FROM employee_results WHERE run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.EmployeeResult
	index := make(map[string]int)
	for rows.Next() {
		var res payroll.EmployeeResult
		var code, name, currency sql.NullString
		var totals, warnings string
		if err := rows.Scan(&res.ID, &res.RunID, &res.EmployeeID, &code, &name, &res.BaseSalary,
			&res.PeriodSalary, &res.WorkedDays, &currency, &res.ExchangeRate, &totals,
			&res.TaxableBase, &res.LeaveAccrued, &res.LeaveUsed, &warnings); err != nil {
			return nil, err
		}
		res.Code = code.String
		res.Name = name.String
		res.Currency = currency.String
		if err := json.Unmarshal([]byte(totals), &res.Totals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal totals: %w", err)
		}
		if err := json.Unmarshal([]byte(warnings), &res.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
		index[res.ID] = len(out)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	lines, err := r.s.db.QueryContext(ctx, `
		SELECT l.id, l.result_id, l.code, l.name, l.concept_id, l.loan_id, l.class, l.amount, l.line_order
		FROM payroll_lines l
		JOIN employee_results r ON r.id = l.result_id
		WHERE r.run_id = ?
		ORDER BY l.result_id, l.line_order
	`, runID)
	if err != nil {
		return nil, err
	}
	defer lines.Close()

	for lines.Next() {
		var l payroll.Line
		var name, conceptID, loanID sql.NullString
		var class string
		if err := lines.Scan(&l.ID, &l.ResultID, &l.Code, &name, &conceptID, &loanID, &class, &l.Amount, &l.Order); err != nil {
			return nil, err
		}
		l.Name = name.String
		l.ConceptID = conceptID.String
		l.LoanID = loanID.String
		l.Class = catalog.Class(class)
		if i, ok := index[l.ResultID]; ok {
			out[i].Lines = append(out[i].Lines, l)
		}
	}
	return out, lines.Err()
}

// =============================================================================
// AUDIT
// =============================================================================

func (r *RunStore) AppendAudit(ctx context.Context, e payroll.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO run_audit (id, run_id, at, actor_id, action, from_status, to_status, detail, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM run_audit))
	`, e.ID, e.RunID, formatTime(e.At), nullString(e.ActorID), string(e.Action),
		nullString(string(e.From)), string(e.To), nullString(e.Detail))
	return err
}

func (r *RunStore) AuditTrail(ctx context.Context, runID string) ([]payroll.AuditEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, run_id, at, actor_id, action, from_status, to_status, detail
		FROM run_audit WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.AuditEntry
	for rows.Next() {
		var e payroll.AuditEntry
		var at, action, to string
		var actor, from, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &at, &actor, &action, &from, &to, &detail); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		e.ActorID = actor.String
		e.Action = payroll.AuditAction(action)
		e.From = payroll.Status(from.String)
		e.To = payroll.Status(to)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// QUERIES
// =============================================================================

const runSelect = `
	SELECT id, payroll_id, company_id, payroll_type, period_start, period_end, calculation_date,
	       actor_id, status, totals_json, warnings_json, errors_json, snapshot_id,
	       supersedes, superseded_by, preview, created_at, updated_at
	FROM payroll_runs`

func scanRuns(rows *sql.Rows) ([]payroll.Run, error) {
	defer rows.Close()

	var out []payroll.Run
	for rows.Next() {
		var run payroll.Run
		var start, end, calcDate, status, totals, warnings, errs, createdAt, updatedAt string
		var actor, snapshotID, supersedes, supersededBy sql.NullString
		if err := rows.Scan(&run.ID, &run.PayrollID, &run.CompanyID, &run.PayrollType,
			&start, &end, &calcDate, &actor, &status, &totals, &warnings, &errs,
			&snapshotID, &supersedes, &supersededBy, &run.Preview, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		run.Period = generic.Period{Start: parseTime(start), End: parseTime(end)}
		run.CalculationDate = parseTime(calcDate)
		run.ActorID = actor.String
		run.Status = payroll.Status(status)
		run.SnapshotID = snapshotID.String
		run.Supersedes = supersedes.String
		run.SupersededBy = supersededBy.String
		run.CreatedAt = parseTime(createdAt)
		run.UpdatedAt = parseTime(updatedAt)
		if err := json.Unmarshal([]byte(totals), &run.Totals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal totals: %w", err)
		}
		if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
		if err := json.Unmarshal([]byte(errs), &run.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
