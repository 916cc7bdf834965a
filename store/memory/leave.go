package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// =============================================================================
// LEAVE STORE
// =============================================================================

// Leave implements leave.Store. Entries are kept per account in insertion
// order; idempotency keys are tracked globally.
type Leave struct {
	mu          sync.RWMutex
	policies    []leave.Policy
	accounts    []leave.Account
	entries     map[string][]leave.Entry
	idempotency map[string]bool
	absences    []leave.Absence
	keys        keyedMutex
}

func NewLeave() *Leave {
	return &Leave{
		entries:     make(map[string][]leave.Entry),
		idempotency: make(map[string]bool),
	}
}

// AddPolicy registers a policy.
func (l *Leave) AddPolicy(p leave.Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies = append(l.policies, p)
}

// AddAccount registers an account as-is, allowing explicit payroll bindings.
func (l *Leave) AddAccount(a leave.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = append(l.accounts, a)
}

// AddAbsence registers a leave-taking record.
func (l *Leave) AddAbsence(a leave.Absence) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.absences = append(l.absences, a)
}

// SavePolicy registers or replaces a policy by id.
func (l *Leave) SavePolicy(_ context.Context, p leave.Policy) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.policies {
		if l.policies[i].ID == p.ID {
			l.policies[i] = p
			return nil
		}
	}
	l.policies = append(l.policies, p)
	return nil
}

// SaveAbsence registers or replaces an absence by id.
func (l *Leave) SaveAbsence(_ context.Context, a leave.Absence) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.absences {
		if l.absences[i].ID == a.ID {
			l.absences[i] = a
			return nil
		}
	}
	l.absences = append(l.absences, a)
	return nil
}

// Absence returns an absence by id.
func (l *Leave) Absence(id string) (leave.Absence, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.absences {
		if a.ID == id {
			return a, true
		}
	}
	return leave.Absence{}, false
}

func (l *Leave) Policies(_ context.Context) ([]leave.Policy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]leave.Policy(nil), l.policies...), nil
}

func (l *Leave) Accounts(_ context.Context, employeeID string) ([]leave.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []leave.Account
	for _, a := range l.accounts {
		if a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *Leave) EnsureAccount(_ context.Context, acct leave.Account) (leave.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.accounts {
		if a.EmployeeID == acct.EmployeeID && a.PolicyID == acct.PolicyID && a.PayrollID == acct.PayrollID {
			return a, nil
		}
	}
	l.accounts = append(l.accounts, acct)
	return acct, nil
}

func (l *Leave) Entries(_ context.Context, accountID string) ([]leave.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]leave.Entry(nil), l.entries[accountID]...), nil
}

func (l *Leave) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.idempotency[idempotencyKey], nil
}

func (l *Leave) PendingAbsences(_ context.Context, employeeID string, period generic.Period) ([]leave.Absence, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []leave.Absence
	for _, a := range l.absences {
		if a.EmployeeID == employeeID && a.Approved && a.EntryID == "" && a.Period().Overlaps(period) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (l *Leave) HasApprovedAbsence(_ context.Context, employeeID string, period generic.Period) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.absences {
		if a.EmployeeID == employeeID && a.Approved && a.Period().Overlaps(period) {
			return true, nil
		}
	}
	return false, nil
}

// WithAccountLock serializes fn per account. Appends and links are buffered
// and applied atomically when fn succeeds.
func (l *Leave) WithAccountLock(_ context.Context, accountID string, fn func(leave.LedgerTx) error) error {
	unlock := l.keys.lock(accountID)
	defer unlock()

	tx := &leaveTx{parent: l, links: make(map[string]string)}
	if err := fn(tx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range tx.appended {
		if e.IdempotencyKey != "" && l.idempotency[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
	}
	for _, e := range tx.appended {
		l.entries[e.AccountID] = append(l.entries[e.AccountID], e)
		if e.IdempotencyKey != "" {
			l.idempotency[e.IdempotencyKey] = true
		}
	}
	for i := range l.absences {
		if entryID, ok := tx.links[l.absences[i].ID]; ok {
			l.absences[i].EntryID = entryID
		}
	}
	return nil
}

type leaveTx struct {
	parent   *Leave
	appended []leave.Entry
	links    map[string]string
}

func (tx *leaveTx) Entries(ctx context.Context, accountID string) ([]leave.Entry, error) {
	out, err := tx.parent.Entries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, e := range tx.appended {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (tx *leaveTx) Exists(ctx context.Context, key string) (bool, error) {
	for _, e := range tx.appended {
		if e.IdempotencyKey == key {
			return true, nil
		}
	}
	return tx.parent.Exists(ctx, key)
}

func (tx *leaveTx) Append(ctx context.Context, e leave.Entry) error {
	if e.IdempotencyKey != "" {
		exists, err := tx.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return generic.ErrDuplicateIdempotencyKey
		}
	}
	tx.appended = append(tx.appended, e)
	return nil
}

func (tx *leaveTx) LinkAbsence(_ context.Context, absenceID, entryID string) error {
	if _, ok := tx.parent.Absence(absenceID); !ok {
		return generic.ErrNotFound
	}
	tx.links[absenceID] = entryID
	return nil
}
