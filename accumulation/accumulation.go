/*
Package accumulation maintains year-to-date payroll totals per employee.

PURPOSE:
  Progressive tax and seniority formulas need what an employee has already
  earned and had withheld this fiscal year. Each record is keyed by
  (employee, payroll type, company, fiscal period start) and updated once
  per processed run.

KEY CONCEPTS:
  - Key: identifies one fiscal year of one employee in one payroll type
  - Record: YTD gross, taxable, pre-tax deductions, withheld tax,
    periods processed and month-to-date salary
  - Opening balances: figures carried over when the system is adopted
    mid-year. They seed the implementation year's record only.

CONCURRENCY:
  Store.WithLock serializes read-modify-write per key. Two runs touching
  the same employee in overlapping payrolls of the same type queue up.

SEE ALSO:
  - store/memory, store/sqlite: Store implementations
  - payroll/: calls Accumulate after persisting each employee result
*/
package accumulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// TYPES
// =============================================================================

// Key identifies one accumulation record.
type Key struct {
	EmployeeID        string
	PayrollType       string
	CompanyID         string
	FiscalPeriodStart time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.EmployeeID, k.PayrollType, k.CompanyID, k.FiscalPeriodStart.Format(time.DateOnly))
}

// Record holds year-to-date totals.
type Record struct {
	ID               string
	Key              Key
	Gross            decimal.Decimal
	Taxable          decimal.Decimal
	PreTaxDeductions decimal.Decimal
	WithheldTax      decimal.Decimal
	PeriodsProcessed int

	// MonthSalary is reset whenever a later month is counted. Corrections of
	// an earlier month leave it alone.
	MonthSalary    decimal.Decimal
	MonthPeriodEnd *time.Time

	Bootstrapped bool
	UpdatedAt    time.Time
}

// Contribution is what one processed employee result adds to a record.
type Contribution struct {
	Gross        decimal.Decimal
	Taxable      decimal.Decimal
	PreTax       decimal.Decimal
	Tax          decimal.Decimal
	PeriodSalary decimal.Decimal
	PeriodEnd    time.Time

	// Periods is added to PeriodsProcessed: 1 for a newly processed period,
	// 0 for a recalculation delta, -1 when a processed period is undone.
	Periods int
}

// Add returns c + o field by field. The period end is c's, or o's when c
// has none.
func (c Contribution) Add(o Contribution) Contribution {
	end := c.PeriodEnd
	if end.IsZero() {
		end = o.PeriodEnd
	}
	return Contribution{
		Gross:        c.Gross.Add(o.Gross),
		Taxable:      c.Taxable.Add(o.Taxable),
		PreTax:       c.PreTax.Add(o.PreTax),
		Tax:          c.Tax.Add(o.Tax),
		PeriodSalary: c.PeriodSalary.Add(o.PeriodSalary),
		PeriodEnd:    end,
		Periods:      c.Periods + o.Periods,
	}
}

// Sub returns c - o field by field.
func (c Contribution) Sub(o Contribution) Contribution {
	return c.Add(o.Neg())
}

// Neg returns the contribution that undoes c.
func (c Contribution) Neg() Contribution {
	return Contribution{
		Gross:        c.Gross.Neg(),
		Taxable:      c.Taxable.Neg(),
		PreTax:       c.PreTax.Neg(),
		Tax:          c.Tax.Neg(),
		PeriodSalary: c.PeriodSalary.Neg(),
		PeriodEnd:    c.PeriodEnd,
		Periods:      -c.Periods,
	}
}

// IsZero reports whether the contribution changes nothing.
func (c Contribution) IsZero() bool {
	return c.Gross.IsZero() && c.Taxable.IsZero() && c.PreTax.IsZero() &&
		c.Tax.IsZero() && c.PeriodSalary.IsZero() && c.Periods == 0
}

// =============================================================================
// STORE
// =============================================================================

// Tx is the view of the store inside a per-key lock.
type Tx interface {
	// Get returns the record or generic.ErrNotFound.
	Get(ctx context.Context, key Key) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// Store persists records.
type Store interface {
	Get(ctx context.Context, key Key) (Record, error)

	// WithLock runs fn holding the lock for key. Writes made through tx are
	// committed only when fn returns nil.
	WithLock(ctx context.Context, key Key, fn func(tx Tx) error) error
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository implements get-or-create with bootstrap, and accumulation.
type Repository struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRepository(store Store, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{store: store, logger: logger, now: time.Now}
}

// Seed builds the initial record for key. Opening balances apply only when
// the fiscal period starts in the implementation year.
func Seed(key Key, opening *catalog.OpeningBalances) Record {
	rec := Record{Key: key}
	if opening != nil && key.FiscalPeriodStart.Year() == opening.ImplementationYear {
		rec.Gross = generic.RoundMoney(opening.AccumulatedSalary)
		rec.WithheldTax = generic.RoundMoney(opening.AccumulatedTax)
		rec.PeriodsProcessed = opening.LastClosedMonth
		rec.Bootstrapped = true
	}
	return rec
}

// GetOrCreate returns the record for key, creating and persisting it first
// if needed.
func (r *Repository) GetOrCreate(ctx context.Context, key Key, opening *catalog.OpeningBalances) (Record, error) {
	var out Record
	err := r.store.WithLock(ctx, key, func(tx Tx) error {
		rec, err := r.getOrCreate(ctx, tx, key, opening)
		out = rec
		return err
	})
	return out, err
}

// Peek returns the record for key or the record GetOrCreate would create,
// without writing anything.
func (r *Repository) Peek(ctx context.Context, key Key, opening *catalog.OpeningBalances) (Record, error) {
	rec, err := r.store.Get(ctx, key)
	if errors.Is(err, generic.ErrNotFound) {
		return Seed(key, opening), nil
	}
	return rec, err
}

func (r *Repository) getOrCreate(ctx context.Context, tx Tx, key Key, opening *catalog.OpeningBalances) (Record, error) {
	rec, err := tx.Get(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, generic.ErrNotFound) {
		return Record{}, fmt.Errorf("load accumulation %s: %w", key, err)
	}

	rec = Seed(key, opening)
	rec.ID = generic.NewID()
	rec.UpdatedAt = r.now()
	if err := tx.Save(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("create accumulation %s: %w", key, err)
	}
	if rec.Bootstrapped {
		r.logger.Info("accumulation seeded from opening balances",
			"key", key.String(), "gross", rec.Gross.String(), "periods", rec.PeriodsProcessed)
	}
	return rec, nil
}

// Accumulate adds c into the record for key under its lock.
func (r *Repository) Accumulate(ctx context.Context, key Key, opening *catalog.OpeningBalances, c Contribution) (Record, error) {
	var out Record
	err := r.store.WithLock(ctx, key, func(tx Tx) error {
		rec, err := r.getOrCreate(ctx, tx, key, opening)
		if err != nil {
			return err
		}

		rec = Apply(rec, c)
		rec.UpdatedAt = r.now()
		if err := tx.Save(ctx, rec); err != nil {
			return fmt.Errorf("save accumulation %s: %w", key, err)
		}
		out = rec
		return nil
	})
	return out, err
}

// Apply returns rec with c added.
//
// A contribution counting a new period in a later month than MonthPeriodEnd
// starts a new month. Anything else touches MonthSalary only when it lands
// in the same month, and MonthPeriodEnd never moves backwards.
func Apply(rec Record, c Contribution) Record {
	rec.Gross = generic.RoundMoney(rec.Gross.Add(c.Gross))
	rec.Taxable = generic.RoundMoney(rec.Taxable.Add(c.Taxable))
	rec.PreTaxDeductions = generic.RoundMoney(rec.PreTaxDeductions.Add(c.PreTax))
	rec.WithheldTax = generic.RoundMoney(rec.WithheldTax.Add(c.Tax))
	rec.PeriodsProcessed += c.Periods

	if c.PeriodEnd.IsZero() {
		rec.MonthSalary = generic.RoundMoney(rec.MonthSalary.Add(c.PeriodSalary))
		return rec
	}
	end := generic.TruncateDay(c.PeriodEnd)
	switch {
	case rec.MonthPeriodEnd == nil:
		rec.MonthSalary = decimal.Zero
		rec.MonthPeriodEnd = &end
	case generic.SameMonth(*rec.MonthPeriodEnd, end):
		if end.After(*rec.MonthPeriodEnd) {
			rec.MonthPeriodEnd = &end
		}
	case end.After(*rec.MonthPeriodEnd) && c.Periods > 0:
		rec.MonthSalary = decimal.Zero
		rec.MonthPeriodEnd = &end
	default:
		return rec
	}
	rec.MonthSalary = generic.RoundMoney(rec.MonthSalary.Add(c.PeriodSalary))
	return rec
}

// MonthSalaryAt is the salary already accumulated for the month of end.
func (r Record) MonthSalaryAt(end time.Time) decimal.Decimal {
	if r.MonthPeriodEnd == nil || !generic.SameMonth(*r.MonthPeriodEnd, end) {
		return decimal.Zero
	}
	return r.MonthSalary
}
