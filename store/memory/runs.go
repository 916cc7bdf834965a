package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// Runs implements payroll.RunStore.
type Runs struct {
	mu      sync.RWMutex
	runs    map[string]payroll.Run
	results map[string][]payroll.EmployeeResult // run id -> results
	audit   map[string][]payroll.AuditEntry
}

func NewRuns() *Runs {
	return &Runs{
		runs:    make(map[string]payroll.Run),
		results: make(map[string][]payroll.EmployeeResult),
		audit:   make(map[string][]payroll.AuditEntry),
	}
}

func (s *Runs) SaveRun(_ context.Context, run *payroll.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	header := *run
	header.Employees = nil
	header.Warnings = append([]string(nil), run.Warnings...)
	header.Errors = append([]string(nil), run.Errors...)
	s.runs[run.ID] = header
	return nil
}

func (s *Runs) SaveEmployeeResult(_ context.Context, res payroll.EmployeeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[res.RunID]; !ok {
		return fmt.Errorf("%w: run %s", generic.ErrNotFound, res.RunID)
	}
	for _, existing := range s.results[res.RunID] {
		if existing.EmployeeID == res.EmployeeID {
			return fmt.Errorf("result for employee %s already saved on run %s", res.EmployeeID, res.RunID)
		}
	}
	res.Lines = append([]payroll.Line(nil), res.Lines...)
	s.results[res.RunID] = append(s.results[res.RunID], res)
	return nil
}

func (s *Runs) GetRun(_ context.Context, id string) (*payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", generic.ErrNotFound, id)
	}
	run.Employees = append([]payroll.EmployeeResult(nil), s.results[id]...)
	return &run, nil
}

func (s *Runs) ListRuns(_ context.Context, payrollID string) ([]payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []payroll.Run
	for _, r := range s.runs {
		if r.PayrollID == payrollID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Runs) AppendAudit(_ context.Context, e payroll.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[e.RunID] = append(s.audit[e.RunID], e)
	return nil
}

func (s *Runs) AuditTrail(_ context.Context, runID string) ([]payroll.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]payroll.AuditEntry(nil), s.audit[runID]...), nil
}
