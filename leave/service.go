package leave

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
// SERVICE
// =============================================================================

// Service accrues and consumes leave. A read-only service computes the same
// quantities without writing anything.
type Service struct {
	store    Store
	logger   *slog.Logger
	readOnly bool
	now      func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// ReadOnly returns a copy that never writes. Used for recalculation.
func (s *Service) ReadOnly() *Service {
	cp := *s
	cp.readOnly = true
	return &cp
}

// IsReadOnly reports whether writes are suppressed.
func (s *Service) IsReadOnly() bool { return s.readOnly }

// AccrualInput identifies one employee in one processed run.
type AccrualInput struct {
	Employee    catalog.Employee
	Payroll     catalog.Payroll
	Period      generic.Period
	RecordID    string // payroll-employee record, the idempotency anchor
	WorkedDays  int
	HoursPerDay decimal.Decimal
}

// UsageInput identifies the absences to consume.
type UsageInput struct {
	Employee    catalog.Employee
	Payroll     catalog.Payroll
	Period      generic.Period
	HoursPerDay decimal.Decimal
}

// =============================================================================
// SCOPE RESOLUTION
// =============================================================================

// Resolution is the account and policy selected for an employee and payroll.
type Resolution struct {
	Account Account
	Policy  Policy
	Scope   Scope
}

// Resolve picks the account for employee on payroll. ok is false when no
// policy applies. Outside read-only mode a missing account is materialized.
func (s *Service) Resolve(ctx context.Context, emp catalog.Employee, p catalog.Payroll) (Resolution, bool, error) {
	policies, err := s.store.Policies(ctx)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("load leave policies: %w", err)
	}
	byID := make(map[string]Policy, len(policies))
	for _, pol := range policies {
		byID[pol.ID] = pol
	}

	accounts, err := s.store.Accounts(ctx, emp.ID)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("load leave accounts: %w", err)
	}

	// 1. explicit payroll binding
	var explicit []Account
	for _, a := range accounts {
		if a.PayrollID == p.ID {
			explicit = append(explicit, a)
		}
	}
	switch len(explicit) {
	case 0:
	case 1:
		pol, ok := byID[explicit[0].PolicyID]
		if !ok {
			return Resolution{}, false, fmt.Errorf("%w: account %s references unknown policy %s",
				generic.ErrConfiguration, explicit[0].ID, explicit[0].PolicyID)
		}
		return Resolution{Account: explicit[0], Policy: pol, Scope: ScopeExplicit}, true, nil
	default:
		return Resolution{}, false, fmt.Errorf("%w: employee %s has %d accounts bound to payroll %s",
			generic.ErrAmbiguousScope, emp.ID, len(explicit), p.ID)
	}

	// 2-4. most specific policy
	pol, scope, ok, err := selectPolicy(policies, emp, p)
	if err != nil || !ok {
		return Resolution{}, false, err
	}

	var matches []Account
	for _, a := range accounts {
		if a.PolicyID == pol.ID && a.PayrollID == "" {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		acct := Account{EmployeeID: emp.ID, PolicyID: pol.ID}
		if !s.readOnly {
			acct.ID = generic.NewID()
			acct.CreatedAt = s.now()
			acct, err = s.store.EnsureAccount(ctx, acct)
			if err != nil {
				return Resolution{}, false, fmt.Errorf("create leave account: %w", err)
			}
		}
		return Resolution{Account: acct, Policy: pol, Scope: scope}, true, nil
	case 1:
		return Resolution{Account: matches[0], Policy: pol, Scope: scope}, true, nil
	}
	return Resolution{}, false, fmt.Errorf("%w: employee %s has %d accounts for policy %s",
		generic.ErrAmbiguousScope, emp.ID, len(matches), pol.Code)
}

func selectPolicy(policies []Policy, emp catalog.Employee, p catalog.Payroll) (Policy, Scope, bool, error) {
	company := p.CompanyID
	if company == "" {
		company = emp.CompanyID
	}
	levels := []struct {
		scope Scope
		match func(Policy) bool
	}{
		{ScopePayroll, func(pol Policy) bool { return pol.PayrollID == p.ID }},
		{ScopeCompany, func(pol Policy) bool { return pol.PayrollID == "" && pol.CompanyID != "" && pol.CompanyID == company }},
		{ScopeGlobal, func(pol Policy) bool { return pol.PayrollID == "" && pol.CompanyID == "" }},
	}
	for _, lvl := range levels {
		var found []Policy
		for _, pol := range policies {
			if pol.Active && lvl.match(pol) {
				found = append(found, pol)
			}
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0], lvl.scope, true, nil
		default:
			return Policy{}, 0, false, fmt.Errorf("%w: %d %s-scoped policies match payroll %s",
				generic.ErrAmbiguousScope, len(found), lvl.scope, p.ID)
		}
	}
	return Policy{}, 0, false, nil
}

// =============================================================================
// ACCRUAL
// =============================================================================

// Accrue earns leave for one processed payroll-employee record and returns
// the quantity written (or that would be written in read-only mode).
func (s *Service) Accrue(ctx context.Context, in AccrualInput) (decimal.Decimal, error) {
	res, ok, err := s.Resolve(ctx, in.Employee, in.Payroll)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	pol := res.Policy

	if ServiceDays(in.Employee.HireDate, in.Period.End) < pol.MinServiceDays {
		return decimal.Zero, nil
	}
	if !pol.AccrueDuringLeave {
		onLeave, err := s.store.HasApprovedAbsence(ctx, in.Employee.ID, in.Period)
		if err != nil {
			return decimal.Zero, fmt.Errorf("check absences: %w", err)
		}
		if onLeave {
			return decimal.Zero, nil
		}
	}

	raw := RawAccrual(pol, AccrualBasis{
		Period:      in.Period,
		WorkedDays:  in.WorkedDays,
		HoursPerDay: in.HoursPerDay,
		HireDate:    in.Employee.HireDate,
	})
	key := AccrualKey(res.Account.ID, in.RecordID)

	compute := func(r Reader) (decimal.Decimal, error) {
		if res.Account.ID == "" {
			return s.finishAccrual(pol, raw, decimal.Zero), nil
		}
		exists, err := r.Exists(ctx, key)
		if err != nil {
			return decimal.Zero, err
		}
		if exists {
			return decimal.Zero, nil
		}
		entries, err := r.Entries(ctx, res.Account.ID)
		if err != nil {
			return decimal.Zero, err
		}
		return s.finishAccrual(pol, raw, Sum(entries)), nil
	}

	if s.readOnly {
		return compute(s.store)
	}

	var accrued decimal.Decimal
	err = s.store.WithAccountLock(ctx, res.Account.ID, func(tx LedgerTx) error {
		q, err := compute(tx)
		if err != nil || q.IsZero() {
			return err
		}
		accrued = q
		return tx.Append(ctx, Entry{
			ID:             generic.NewID(),
			AccountID:      res.Account.ID,
			Date:           in.Period.End,
			Type:           EntryAccrual,
			Quantity:       q,
			Source:         "payroll",
			Reference:      in.RecordID,
			IdempotencyKey: key,
			CreatedAt:      s.now(),
		})
	})
	if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("accrue leave for %s: %w", in.Employee.ID, err)
	}
	if accrued.IsPositive() {
		s.logger.Debug("leave accrued", "employee", in.Employee.ID, "account", res.Account.ID, "quantity", accrued.String())
	}
	return accrued, nil
}

// finishAccrual caps then rounds. A result rounded to zero is discarded.
func (s *Service) finishAccrual(pol Policy, raw, balance decimal.Decimal) decimal.Decimal {
	if !raw.IsPositive() {
		return decimal.Zero
	}
	q := pol.Quantize(Cap(raw, balance, pol.MaxBalance))
	if pol.MaxBalance != nil && balance.Add(q).GreaterThan(*pol.MaxBalance) {
		q = pol.MaxBalance.Sub(balance).Floor()
	}
	if !q.IsPositive() {
		return decimal.Zero
	}
	return q
}

// =============================================================================
// REVERSAL
// =============================================================================

// ReverseAccrual undoes the accruals written for one payroll-employee record
// by appending opposite entries. Already reversed accruals are skipped. It
// returns the quantity taken back.
func (s *Service) ReverseAccrual(ctx context.Context, employeeID, recordID string) (decimal.Decimal, error) {
	if s.readOnly {
		return decimal.Zero, nil
	}
	accounts, err := s.store.Accounts(ctx, employeeID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load leave accounts: %w", err)
	}

	reversed := decimal.Zero
	for _, acct := range accounts {
		err := s.store.WithAccountLock(ctx, acct.ID, func(tx LedgerTx) error {
			entries, err := tx.Entries(ctx, acct.ID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.Type != EntryAccrual || e.Reference != recordID {
					continue
				}
				key := ReversalKey(e.ID)
				exists, err := tx.Exists(ctx, key)
				if err != nil {
					return err
				}
				if exists {
					continue
				}
				if err := tx.Append(ctx, Entry{
					ID:             generic.NewID(),
					AccountID:      acct.ID,
					Date:           e.Date,
					Type:           EntryReversal,
					Quantity:       e.Quantity.Neg(),
					Source:         "payroll",
					Reference:      e.ID,
					IdempotencyKey: key,
					CreatedAt:      s.now(),
				}); err != nil {
					return err
				}
				reversed = reversed.Add(e.Quantity)
			}
			return nil
		})
		if err != nil {
			return decimal.Zero, fmt.Errorf("reverse leave accrual of %s: %w", recordID, err)
		}
	}
	if reversed.IsPositive() {
		s.logger.Debug("leave accrual reversed", "employee", employeeID, "record", recordID, "quantity", reversed.String())
	}
	return reversed, nil
}

// =============================================================================
// USAGE
// =============================================================================

// ApplyUsage consumes every approved, unlinked absence of the employee that
// overlaps the period. It returns the total quantity used. Absences that
// fail validation or would overdraw the account are reported in the joined
// error; the others are still applied.
func (s *Service) ApplyUsage(ctx context.Context, in UsageInput) (decimal.Decimal, error) {
	absences, err := s.store.PendingAbsences(ctx, in.Employee.ID, in.Period)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load absences: %w", err)
	}
	if len(absences) == 0 {
		return decimal.Zero, nil
	}

	res, ok, err := s.Resolve(ctx, in.Employee, in.Payroll)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	pol := res.Policy

	used := decimal.Zero
	var errs []error
	var pending decimal.Decimal // read-only mode: usage not yet written

	for _, abs := range absences {
		if abs.PolicyID != "" && abs.PolicyID != pol.ID {
			continue
		}
		q, err := usageQuantity(abs, pol, in.HoursPerDay)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		check := func(r Reader) error {
			balance := decimal.Zero
			if res.Account.ID != "" {
				entries, err := r.Entries(ctx, res.Account.ID)
				if err != nil {
					return err
				}
				balance = Sum(entries)
			}
			balance = balance.Sub(pending)
			if !pol.AllowNegative && balance.Sub(q).IsNegative() {
				return &generic.InsufficientBalanceError{AccountID: res.Account.ID, Available: balance, Requested: q}
			}
			return nil
		}

		if s.readOnly {
			if err := check(s.store); err != nil {
				errs = append(errs, err)
				continue
			}
			pending = pending.Add(q)
			used = used.Add(q)
			continue
		}

		err = s.store.WithAccountLock(ctx, res.Account.ID, func(tx LedgerTx) error {
			if err := check(tx); err != nil {
				return err
			}
			entry := Entry{
				ID:             generic.NewID(),
				AccountID:      res.Account.ID,
				Date:           generic.TruncateDay(abs.Start),
				Type:           EntryUsage,
				Quantity:       q.Neg(),
				Source:         "absence",
				Reference:      abs.ID,
				IdempotencyKey: UsageKey(abs.ID),
				CreatedAt:      s.now(),
			}
			if err := tx.Append(ctx, entry); err != nil {
				return err
			}
			return tx.LinkAbsence(ctx, abs.ID, entry.ID)
		})
		if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		used = used.Add(q)
	}
	return used, errors.Join(errs...)
}

func usageQuantity(abs Absence, pol Policy, hoursPerDay decimal.Decimal) (decimal.Decimal, error) {
	if abs.End.Before(abs.Start) {
		return decimal.Zero, fmt.Errorf("%w %s: start %s after end %s", generic.ErrInvalidAbsence, abs.ID,
			abs.Start.Format(time.DateOnly), abs.End.Format(time.DateOnly))
	}
	if !abs.Units.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w %s: units must be positive, got %s", generic.ErrInvalidAbsence, abs.ID, abs.Units)
	}
	if abs.Unit != UnitDays && abs.Unit != UnitHours {
		return decimal.Zero, fmt.Errorf("%w %s: unknown unit %q", generic.ErrInvalidAbsence, abs.ID, abs.Unit)
	}
	q := pol.Quantize(ConvertUnits(abs.Units, abs.Unit, pol.Unit, hoursPerDay))
	if !q.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w %s: %s %s rounds to zero", generic.ErrInvalidAbsence, abs.ID, abs.Units, abs.Unit)
	}
	return q, nil
}

// =============================================================================
// INSPECTION
// =============================================================================

// Balance is the signed sum of the account's entries.
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	entries, err := s.store.Entries(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(entries), nil
}

// Entries returns the account's ledger in insertion order.
func (s *Service) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	return s.store.Entries(ctx, accountID)
}
