/*
Package sqlite provides a SQLite-backed implementation of the engine's stores.

PURPOSE:
  Implements every persistence interface the engine consumes on one
  database. Each interface is served by a small view over the shared Store
  so method names of different interfaces never collide:

    store.Leave()         -> leave.Store
    store.Accumulations() -> accumulation.Store
    store.Runs()          -> payroll.RunStore
    store.Snapshots()     -> snapshot.Store

APPEND-ONLY ENFORCEMENT:
  leave_entries is never updated or deleted. Corrections are new entries.
  idempotency_key is UNIQUE, so a retried accrual or usage is rejected with
  generic.ErrDuplicateIdempotencyKey.

KEY TABLES:
  leave_policies, leave_accounts, leave_entries, absences
  accumulations:     year-to-date totals, one row per key
  payroll_runs:      run headers
  employee_results:  one row per processed employee
  payroll_lines:     payslip lines
  run_audit:         status history
  config_snapshots:  frozen configuration, JSON with checksum

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Locked sections (WithAccountLock,
  WithLock) hold the write lock and a database transaction; inside them all
  reads go through the transaction.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, _ := payroll.NewEngine(payroll.Dependencies{
      Runs: store.Runs(), Leave: store.Leave(), ...
  })

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the database connection.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Leave policies (configuration stored as JSON)
	CREATE TABLE IF NOT EXISTS leave_policies (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Leave accounts: employee <-> policy, optionally bound to a payroll
	CREATE TABLE IF NOT EXISTS leave_accounts (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		payroll_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(employee_id, policy_id, payroll_id)
	);

	CREATE INDEX IF NOT EXISTS idx_leave_accounts_employee
		ON leave_accounts(employee_id);

	-- Leave ledger (append-only)
	CREATE TABLE IF NOT EXISTS leave_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES leave_accounts(id),
		date TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		source TEXT,
		reference TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_entries_account
		ON leave_entries(account_id, seq);

	-- Approved leave-taking records
	CREATE TABLE IF NOT EXISTS absences (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		units TEXT NOT NULL,
		unit TEXT NOT NULL,
		approved BOOLEAN NOT NULL DEFAULT FALSE,
		entry_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_absences_employee_dates
		ON absences(employee_id, start_date, end_date);

	-- Year-to-date accumulation
	CREATE TABLE IF NOT EXISTS accumulations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		payroll_type TEXT NOT NULL,
		company_id TEXT NOT NULL,
		fiscal_period_start TEXT NOT NULL,
		gross TEXT NOT NULL,
		taxable TEXT NOT NULL,
		pre_tax_deductions TEXT NOT NULL,
		withheld_tax TEXT NOT NULL,
		periods_processed INTEGER NOT NULL DEFAULT 0,
		month_salary TEXT NOT NULL,
		month_period_end TEXT,
		bootstrapped BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, payroll_type, company_id, fiscal_period_start)
	);

	-- Payroll runs
	CREATE TABLE IF NOT EXISTS payroll_runs (
		id TEXT PRIMARY KEY,
		payroll_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		payroll_type TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		calculation_date TEXT NOT NULL,
		actor_id TEXT,
		status TEXT NOT NULL,
		totals_json TEXT NOT NULL,
		warnings_json TEXT NOT NULL,
		errors_json TEXT NOT NULL,
		snapshot_id TEXT,
		supersedes TEXT,
		superseded_by TEXT,
		preview BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_runs_payroll
		ON payroll_runs(payroll_id, period_start, period_end);

	CREATE TABLE IF NOT EXISTS employee_results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES payroll_runs(id),
		employee_id TEXT NOT NULL,
		code TEXT,
		name TEXT,
		base_salary TEXT NOT NULL,
		period_salary TEXT NOT NULL,
		worked_days INTEGER NOT NULL,
		currency TEXT,
		exchange_rate TEXT NOT NULL,
		totals_json TEXT NOT NULL,
		taxable_base TEXT NOT NULL,
		leave_accrued TEXT NOT NULL,
		leave_used TEXT NOT NULL,
		warnings_json TEXT NOT NULL,
		UNIQUE(run_id, employee_id)
	);

	CREATE TABLE IF NOT EXISTS payroll_lines (
		id TEXT PRIMARY KEY,
		result_id TEXT NOT NULL REFERENCES employee_results(id),
		code TEXT NOT NULL,
		name TEXT,
		concept_id TEXT,
		loan_id TEXT,
		class TEXT NOT NULL,
		amount TEXT NOT NULL,
		line_order INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_lines_result
		ON payroll_lines(result_id, line_order);

	CREATE TABLE IF NOT EXISTS run_audit (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		at TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		detail TEXT,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_run_audit_run
		ON run_audit(run_id, seq);

	-- Frozen configuration of a run
	CREATE TABLE IF NOT EXISTS config_snapshots (
		id TEXT PRIMARY KEY,
		payroll_id TEXT NOT NULL,
		checksum TEXT NOT NULL,
		content_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// inTx runs fn in a database transaction under the write lock.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"payroll_lines", "employee_results", "run_audit", "payroll_runs", "config_snapshots",
		"accumulations", "leave_entries", "absences", "leave_accounts", "leave_policies",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
