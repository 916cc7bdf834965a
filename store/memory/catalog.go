package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// CATALOG - catalog.Directory and catalog.ConfigSource over maps
// =============================================================================

// Catalog holds live configuration and per-period inputs.
type Catalog struct {
	mu          sync.RWMutex
	payrolls    map[string]catalog.Payroll
	employees   map[string]catalog.Employee
	members     map[string][]string // payroll -> employee ids
	concepts    map[string]catalog.Concept
	assignments []catalog.Assignment
	params      map[string]catalog.CalculationParameters
	rules       []catalog.TaxRule
	rates       []catalog.ExchangeRate
	novelties   []catalog.Novelty
	loans       []catalog.Loan
}

func NewCatalog() *Catalog {
	return &Catalog{
		payrolls:  make(map[string]catalog.Payroll),
		employees: make(map[string]catalog.Employee),
		members:   make(map[string][]string),
		concepts:  make(map[string]catalog.Concept),
		params:    make(map[string]catalog.CalculationParameters),
	}
}

// -----------------------------------------------------------------------------
// Writers (configuration management lives outside the engine; these feed it)
// -----------------------------------------------------------------------------

func (c *Catalog) PutPayroll(p catalog.Payroll) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payrolls[p.ID] = p
}

func (c *Catalog) PutEmployee(e catalog.Employee, payrollIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.employees[e.ID] = e
	for _, pid := range payrollIDs {
		if !contains(c.members[pid], e.ID) {
			c.members[pid] = append(c.members[pid], e.ID)
		}
	}
}

func (c *Catalog) PutConcept(concept catalog.Concept) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.concepts[concept.ID] = concept
}

func (c *Catalog) Assign(a catalog.Assignment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.assignments {
		if existing.ID != "" && existing.ID == a.ID {
			c.assignments[i] = a
			return
		}
	}
	c.assignments = append(c.assignments, a)
}

func (c *Catalog) PutParameters(p catalog.CalculationParameters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[p.CompanyID] = p
}

func (c *Catalog) AddTaxRule(r catalog.TaxRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, r)
}

func (c *Catalog) AddExchangeRate(r catalog.ExchangeRate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates = append(c.rates, r)
}

func (c *Catalog) AddNovelty(n catalog.Novelty) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.novelties = append(c.novelties, n)
}

func (c *Catalog) AddLoan(l catalog.Loan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loans = append(c.loans, l)
}

// -----------------------------------------------------------------------------
// catalog.Directory
// -----------------------------------------------------------------------------

func (c *Catalog) Payroll(_ context.Context, id string) (catalog.Payroll, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.payrolls[id]
	if !ok {
		return catalog.Payroll{}, fmt.Errorf("%w: payroll %s", generic.ErrNotFound, id)
	}
	return p, nil
}

func (c *Catalog) PayrollEmployees(_ context.Context, payrollID string) ([]catalog.Employee, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.Employee, 0, len(c.members[payrollID]))
	for _, id := range c.members[payrollID] {
		out = append(out, c.employees[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) Novelties(_ context.Context, employeeID, payrollID string, from, to time.Time) ([]catalog.Novelty, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	period := generic.NewPeriod(from, to)
	var out []catalog.Novelty
	for _, n := range c.novelties {
		if n.EmployeeID != employeeID || !period.Contains(n.Date) {
			continue
		}
		if n.PayrollID != "" && n.PayrollID != payrollID {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (c *Catalog) Loans(_ context.Context, employeeID string) ([]catalog.Loan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []catalog.Loan
	for _, l := range c.loans {
		if l.EmployeeID == employeeID && l.Active && l.Remaining.IsPositive() {
			out = append(out, l)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// catalog.ConfigSource
// -----------------------------------------------------------------------------

func (c *Catalog) Parameters(_ context.Context, companyID string) (catalog.CalculationParameters, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.params[companyID]; ok {
		return p.WithDefaults(), nil
	}
	if p, ok := c.params[""]; ok {
		return p.WithDefaults(), nil
	}
	return catalog.DefaultParameters(), nil
}

func (c *Catalog) Assignments(_ context.Context, payrollID string) ([]catalog.AssignedConcept, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []catalog.AssignedConcept
	for _, a := range c.assignments {
		if a.PayrollID != payrollID {
			continue
		}
		concept, ok := c.concepts[a.ConceptID]
		if !ok {
			return nil, fmt.Errorf("%w: assignment %s references unknown concept %s", generic.ErrConfiguration, a.ID, a.ConceptID)
		}
		out = append(out, catalog.AssignedConcept{Assignment: a, Concept: concept})
	}
	return out, nil
}

func (c *Catalog) TaxRule(_ context.Context, ref, conceptCode string, at time.Time) (catalog.TaxRule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := catalog.SelectTaxRule(c.rules, ref, conceptCode, at); ok {
		return r, nil
	}
	return catalog.TaxRule{}, fmt.Errorf("%w: tax rule %q/%q", generic.ErrNotFound, ref, conceptCode)
}

func (c *Catalog) ExchangeRate(_ context.Context, from, to string, at time.Time) (catalog.ExchangeRate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := catalog.SelectExchangeRate(c.rates, from, to, at); ok {
		return r, nil
	}
	return catalog.ExchangeRate{}, fmt.Errorf("%w: exchange rate %s->%s", generic.ErrNotFound, from, to)
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
