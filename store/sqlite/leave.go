package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// =============================================================================
// LEAVE STORE
// =============================================================================

// LeaveStore implements leave.Store.
type LeaveStore struct {
	s *Store
}

// Leave returns the leave view of the store.
func (s *Store) Leave() *LeaveStore {
	return &LeaveStore{s: s}
}

// SavePolicy creates or updates a policy.
func (l *LeaveStore) SavePolicy(ctx context.Context, p leave.Policy) error {
	configJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	_, err = l.s.db.ExecContext(ctx, `
		INSERT INTO leave_policies (id, code, config_json, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, p.ID, p.Code, string(configJSON))
	return err
}

// SaveAccount registers an account as-is, allowing explicit payroll bindings.
func (l *LeaveStore) SaveAccount(ctx context.Context, a leave.Account) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return insertAccount(ctx, l.s.db, a)
}

// SaveAbsence creates or updates a leave-taking record.
func (l *LeaveStore) SaveAbsence(ctx context.Context, a leave.Absence) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	_, err := l.s.db.ExecContext(ctx, `
		INSERT INTO absences (id, employee_id, policy_id, start_date, end_date, units, unit, approved, entry_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			policy_id = excluded.policy_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			units = excluded.units,
			unit = excluded.unit,
			approved = excluded.approved,
			entry_id = excluded.entry_id
	`, a.ID, a.EmployeeID, a.PolicyID, formatTime(a.Start), formatTime(a.End),
		a.Units, string(a.Unit), a.Approved, a.EntryID)
	return err
}

// Absence returns an absence by id.
func (l *LeaveStore) Absence(ctx context.Context, id string) (leave.Absence, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	rows, err := l.s.db.QueryContext(ctx, absenceSelect+` WHERE id = ?`, id)
	if err != nil {
		return leave.Absence{}, err
	}
	out, err := scanAbsences(rows)
	if err != nil {
		return leave.Absence{}, err
	}
	if len(out) == 0 {
		return leave.Absence{}, fmt.Errorf("%w: absence %s", generic.ErrNotFound, id)
	}
	return out[0], nil
}

func (l *LeaveStore) Policies(ctx context.Context) ([]leave.Policy, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	rows, err := l.s.db.QueryContext(ctx, `SELECT config_json FROM leave_policies ORDER BY code, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []leave.Policy
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, err
		}
		var p leave.Policy
		if err := json.Unmarshal([]byte(configJSON), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (l *LeaveStore) Accounts(ctx context.Context, employeeID string) ([]leave.Account, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	rows, err := l.s.db.QueryContext(ctx, `
		SELECT id, employee_id, policy_id, payroll_id, created_at
		FROM leave_accounts WHERE employee_id = ?
		ORDER BY created_at, id
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []leave.Account
	for rows.Next() {
		var a leave.Account
		var createdAt string
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.PolicyID, &a.PayrollID, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (l *LeaveStore) EnsureAccount(ctx context.Context, acct leave.Account) (leave.Account, error) {
	var out leave.Account
	err := l.s.inTx(ctx, func(q querier) error {
		var id, createdAt string
		err := q.QueryRowContext(ctx, `
			SELECT id, created_at FROM leave_accounts
			WHERE employee_id = ? AND policy_id = ? AND payroll_id = ?
		`, acct.EmployeeID, acct.PolicyID, acct.PayrollID).Scan(&id, &createdAt)
		if err == nil {
			out = acct
			out.ID = id
			out.CreatedAt = parseTime(createdAt)
			return nil
		}
		if !isNoRows(err) {
			return err
		}
		out = acct
		return insertAccount(ctx, q, acct)
	})
	return out, err
}

func (l *LeaveStore) Entries(ctx context.Context, accountID string) ([]leave.Entry, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	return entries(ctx, l.s.db, accountID)
}

func (l *LeaveStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	return keyExists(ctx, l.s.db, idempotencyKey)
}

func (l *LeaveStore) PendingAbsences(ctx context.Context, employeeID string, period generic.Period) ([]leave.Absence, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	rows, err := l.s.db.QueryContext(ctx, absenceSelect+`
		WHERE employee_id = ? AND approved = 1 AND entry_id = ''
		  AND start_date <= ? AND end_date >= ?
		ORDER BY start_date, id
	`, employeeID, formatTime(period.End), formatTime(period.Start))
	if err != nil {
		return nil, err
	}
	return scanAbsences(rows)
}

func (l *LeaveStore) HasApprovedAbsence(ctx context.Context, employeeID string, period generic.Period) (bool, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var n int
	err := l.s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM absences
		WHERE employee_id = ? AND approved = 1 AND start_date <= ? AND end_date >= ?
	`, employeeID, formatTime(period.End), formatTime(period.Start)).Scan(&n)
	return n > 0, err
}

// WithAccountLock runs fn in one transaction. Nothing fn writes is visible
// until it returns nil.
func (l *LeaveStore) WithAccountLock(ctx context.Context, _ string, fn func(leave.LedgerTx) error) error {
	return l.s.inTx(ctx, func(q querier) error {
		return fn(&ledgerTx{q: q})
	})
}

// =============================================================================
// LEDGER TRANSACTION
// =============================================================================

type ledgerTx struct {
	q querier
}

func (tx *ledgerTx) Entries(ctx context.Context, accountID string) ([]leave.Entry, error) {
	return entries(ctx, tx.q, accountID)
}

func (tx *ledgerTx) Exists(ctx context.Context, key string) (bool, error) {
	return keyExists(ctx, tx.q, key)
}

func (tx *ledgerTx) Append(ctx context.Context, e leave.Entry) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO leave_entries (id, account_id, date, entry_type, quantity, source, reference, idempotency_key, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM leave_entries))
	`, e.ID, e.AccountID, formatTime(e.Date), string(e.Type), e.Quantity,
		nullString(e.Source), nullString(e.Reference), nullString(e.IdempotencyKey), formatTime(e.CreatedAt))
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateIdempotencyKey
	}
	return err
}

func (tx *ledgerTx) LinkAbsence(ctx context.Context, absenceID, entryID string) error {
	res, err := tx.q.ExecContext(ctx, `UPDATE absences SET entry_id = ? WHERE id = ?`, entryID, absenceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrNotFound
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

const absenceSelect = `
	SELECT id, employee_id, policy_id, start_date, end_date, units, unit, approved, entry_id
	FROM absences`

func insertAccount(ctx context.Context, q querier, a leave.Account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO leave_accounts (id, employee_id, policy_id, payroll_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.EmployeeID, a.PolicyID, a.PayrollID, formatTime(a.CreatedAt))
	return err
}

func entries(ctx context.Context, q querier, accountID string) ([]leave.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, date, entry_type, quantity, source, reference, idempotency_key, created_at
		FROM leave_entries WHERE account_id = ?
		ORDER BY seq
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.Entry
	for rows.Next() {
		var e leave.Entry
		var date, entryType, createdAt string
		var source, reference, key sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &date, &entryType, &e.Quantity,
			&source, &reference, &key, &createdAt); err != nil {
			return nil, err
		}
		e.Date = parseTime(date)
		e.Type = leave.EntryType(entryType)
		e.Source = source.String
		e.Reference = reference.String
		e.IdempotencyKey = key.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func keyExists(ctx context.Context, q querier, key string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM leave_entries WHERE idempotency_key = ?`, key).Scan(&n)
	return n > 0, err
}

func scanAbsences(rows *sql.Rows) ([]leave.Absence, error) {
	defer rows.Close()

	var out []leave.Absence
	for rows.Next() {
		var a leave.Absence
		var start, end, unit string
		var units decimal.Decimal
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.PolicyID, &start, &end,
			&units, &unit, &a.Approved, &a.EntryID); err != nil {
			return nil, err
		}
		a.Start = parseTime(start)
		a.End = parseTime(end)
		a.Units = units
		a.Unit = leave.Unit(unit)
		out = append(out, a)
	}
	return out, rows.Err()
}
