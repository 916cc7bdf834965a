/*
Package payroll executes payroll runs.

PURPOSE:
  The Engine validates a requested run, freezes the configuration it reads
  into a snapshot, calculates every employee in order, persists the results
  and feeds year-to-date accumulators and leave ledgers.

EXECUTION ORDER (per employee):
  1. Validate (active, hire/termination dates, personal id, salary, company,
     exchange rate when currencies differ). Failures skip the employee.
  2. Prorate the monthly salary to the period (first gross line, BASE)
  3. Perceptions in configured order
  4. Deductions and loan installments in priority order, with
     insufficiency rules (see applyDeductions)
  5. Benefits, totalled apart from net pay
  6. Leave accrual and usage
  7. net = max(0, gross - deductions)
  8. Persist the result, then accumulate year-to-date totals

UNDO:
  A run that aborts on a storage failure, or is cancelled once calculated,
  takes back its year-to-date contributions and leave accruals, so a new run
  for the same period counts every employee once. Leave usage stays: it
  belongs to the absence, which is never consumed twice.

ERROR POLICY:
  Run-level validation problems end the run in StatusError with the reasons
  in Run.Errors and no Go error. Employee problems skip that employee and
  land in Run.Errors. Concept problems become warnings and a zero amount.
  Only structural failures (unknown payroll, storage failing) are returned.

SEE ALSO:
  - status.go: run state machine
  - recalc.go: recalculation from a snapshot
  - dispatcher.go: concurrent execution of independent runs
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/accumulation"
	"github.com/warp/payroll-engine/calc"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/snapshot"
)

// Dependencies wires an Engine. Leave, Logger and Now are optional.
type Dependencies struct {
	Directory     catalog.Directory
	Config        catalog.ConfigSource
	Runs          RunStore
	Snapshots     snapshot.Store
	Accumulations accumulation.Store
	Leave         leave.Store
	Logger        *slog.Logger
	Now           func() time.Time
}

// Engine executes payroll runs.
type Engine struct {
	dir       catalog.Directory
	config    catalog.ConfigSource
	runs      RunStore
	snapshots *snapshot.Service
	acc       *accumulation.Repository
	leave     *leave.Service
	logger    *slog.Logger
	now       func() time.Time

	locks    sync.Map // payroll id -> *sync.Mutex
	progress sync.Map // run id -> *Progress
}

// NewEngine validates deps and builds an engine.
func NewEngine(deps Dependencies) (*Engine, error) {
	var missing []string
	if deps.Directory == nil {
		missing = append(missing, "directory")
	}
	if deps.Config == nil {
		missing = append(missing, "config source")
	}
	if deps.Runs == nil {
		missing = append(missing, "run store")
	}
	if deps.Snapshots == nil {
		missing = append(missing, "snapshot store")
	}
	if deps.Accumulations == nil {
		missing = append(missing, "accumulation store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: engine missing %s", generic.ErrConfiguration, strings.Join(missing, ", "))
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		dir:       deps.Directory,
		config:    deps.Config,
		runs:      deps.Runs,
		snapshots: snapshot.NewService(deps.Snapshots, logger),
		acc:       accumulation.NewRepository(deps.Accumulations, logger),
		logger:    logger,
		now:       time.Now,
	}
	if deps.Now != nil {
		e.now = deps.Now
	}
	if deps.Leave != nil {
		e.leave = leave.NewService(deps.Leave, logger)
	}
	return e, nil
}

// Request asks for one run.
type Request struct {
	PayrollID       string    `json:"payroll_id"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	CalculationDate time.Time `json:"calculation_date"` // defaults to PeriodEnd
	ActorID         string    `json:"actor_id"`
}

// Run returns the persisted run with its employee results.
func (e *Engine) Run(ctx context.Context, id string) (*Run, error) {
	return e.runs.GetRun(ctx, id)
}

// Runs lists the run headers of a payroll, oldest first.
func (e *Engine) Runs(ctx context.Context, payrollID string) ([]Run, error) {
	return e.runs.ListRuns(ctx, payrollID)
}

// AuditTrail returns the status history of a run.
func (e *Engine) AuditTrail(ctx context.Context, runID string) ([]AuditEntry, error) {
	return e.runs.AuditTrail(ctx, runID)
}

// =============================================================================
// EXECUTE
// =============================================================================

// Execute runs a payroll for a period and returns the persisted run.
func (e *Engine) Execute(ctx context.Context, req Request) (*Run, error) {
	p, err := e.dir.Payroll(ctx, req.PayrollID)
	if err != nil {
		return nil, fmt.Errorf("execute payroll %s: %w", req.PayrollID, err)
	}

	calcDate := req.CalculationDate
	if calcDate.IsZero() {
		calcDate = req.PeriodEnd
	}
	run := e.newRun(p, generic.NewPeriod(req.PeriodStart, req.PeriodEnd), generic.TruncateDay(calcDate), req.ActorID)
	log := e.logger.With("run", run.ID, "payroll", p.ID, "period", run.Period.String())

	employees, err := e.dir.PayrollEmployees(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load employees of payroll %s: %w", p.ID, err)
	}

	unlock := e.lockPayroll(p.ID)
	problems, err := e.validateRun(ctx, p, run.Period, employees, "")
	if err != nil {
		unlock()
		return nil, err
	}
	if len(problems) > 0 {
		unlock()
		log.Warn("run rejected", "errors", problems)
		return e.reject(ctx, run, problems)
	}

	snap, err := e.snapshots.Capture(ctx, e.config, snapshot.Request{
		Payroll:         p,
		CompanyIDs:      companies(employees),
		Currencies:      currencies(employees),
		CalculationDate: run.CalculationDate,
	})
	if err != nil {
		unlock()
		return nil, fmt.Errorf("capture configuration: %w", err)
	}
	run.SnapshotID = snap.ID
	run.Status = StatusCalculating
	err = e.runs.SaveRun(ctx, run)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}

	log.Info("run started", "employees", len(employees), "snapshot", snap.ID)
	ps := &pass{
		run:       run,
		payroll:   p,
		src:       snap.Source(),
		employees: employees,
		leave:     e.leave,
		persist:   true,
	}
	if err := e.calculate(ctx, ps); err != nil {
		return nil, e.abort(ctx, ps, err)
	}
	if err := e.finish(ctx, ps, AuditExecuted, ""); err != nil {
		return nil, err
	}
	log.Info("run generated", "status", run.Status, "employees", run.Totals.Employees,
		"net", run.Totals.Net.String(), "warnings", len(run.Warnings), "errors", len(run.Errors))
	return run, nil
}

func (e *Engine) newRun(p catalog.Payroll, period generic.Period, calcDate time.Time, actor string) *Run {
	now := e.now()
	return &Run{
		ID:              generic.NewID(),
		PayrollID:       p.ID,
		CompanyID:       p.CompanyID,
		PayrollType:     p.PayrollType,
		Period:          period,
		CalculationDate: calcDate,
		ActorID:         actor,
		Status:          StatusDraft,
		Warnings:        []string{},
		Errors:          []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// validateRun returns the run-level problems. exclude names a run ignored by
// the overlap check (the run being recalculated).
func (e *Engine) validateRun(ctx context.Context, p catalog.Payroll, period generic.Period, employees []catalog.Employee, exclude string) ([]string, error) {
	var problems []string
	if !p.Active {
		problems = append(problems, fmt.Sprintf("payroll %s is inactive", p.Code))
	}
	if len(employees) == 0 {
		problems = append(problems, fmt.Sprintf("payroll %s has no employees", p.Code))
	}
	if err := period.Validate(); err != nil {
		return append(problems, err.Error()), nil
	}

	existing, err := e.runs.ListRuns(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list runs of payroll %s: %w", p.ID, err)
	}
	for _, r := range existing {
		if r.ID == exclude || r.Preview || !r.Status.BlocksPeriod() {
			continue
		}
		if r.Period.Overlaps(period) {
			problems = append(problems, fmt.Sprintf("period %s overlaps run %s %s (%s)", period, r.ID, r.Period, r.Status))
		}
	}
	return problems, nil
}

// reject persists a run that failed validation.
func (e *Engine) reject(ctx context.Context, run *Run, problems []string) (*Run, error) {
	run.Status = StatusError
	run.Errors = append(run.Errors, problems...)
	run.UpdatedAt = e.now()
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}
	e.audit(ctx, run, AuditFailed, StatusCalculating, StatusError, strings.Join(problems, "; "))
	return run, nil
}

// abort undoes what the pass applied and records a structural failure on a
// run already persisted.
func (e *Engine) abort(ctx context.Context, ps *pass, cause error) error {
	run := ps.run
	e.logger.Error("run aborted", "run", run.ID, "error", cause)
	if err := e.undo(ctx, ps); err != nil {
		e.logger.Error("run writes not undone", "run", run.ID, "error", err)
		cause = errors.Join(cause, fmt.Errorf("undo writes of run %s: %w", run.ID, err))
	}
	run.Status = StatusError
	run.Errors = append(run.Errors, cause.Error())
	run.UpdatedAt = e.now()
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return errors.Join(cause, fmt.Errorf("save run %s: %w", run.ID, err))
	}
	e.audit(ctx, run, AuditFailed, StatusCalculating, StatusError, cause.Error())
	return cause
}

// finish moves a calculated run to generated and persists it. A run
// cancelled while calculating stays cancelled and its writes are undone.
func (e *Engine) finish(ctx context.Context, ps *pass, action AuditAction, detail string) error {
	run := ps.run
	run.Status = StatusGenerated
	var undoErr error
	if cur, err := e.runs.GetRun(ctx, run.ID); err == nil && cur.Status == StatusCancelled {
		run.Status = StatusCancelled
		if undoErr = e.undo(ctx, ps); undoErr != nil {
			run.Errors = append(run.Errors, undoErr.Error())
		}
	}
	run.UpdatedAt = e.now()
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return errors.Join(undoErr, fmt.Errorf("save run %s: %w", run.ID, err))
	}
	e.audit(ctx, run, action, StatusCalculating, run.Status, detail)
	if undoErr != nil {
		return fmt.Errorf("undo writes of cancelled run %s: %w", run.ID, undoErr)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, run *Run, action AuditAction, from, to Status, detail string) {
	err := e.runs.AppendAudit(ctx, AuditEntry{
		ID:      generic.NewID(),
		RunID:   run.ID,
		At:      e.now(),
		ActorID: run.ActorID,
		Action:  action,
		From:    from,
		To:      to,
		Detail:  detail,
	})
	if err != nil {
		e.logger.Warn("audit entry not written", "run", run.ID, "action", action, "error", err)
	}
}

func (e *Engine) lockPayroll(id string) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// =============================================================================
// CALCULATION PASS
// =============================================================================

// pass is one walk over a payroll's employees.
type pass struct {
	run       *Run
	payroll   catalog.Payroll
	src       catalog.ConfigSource
	employees []catalog.Employee
	leave     *leave.Service // nil: no leave processing

	// persist writes results and accumulates. Previews leave it false.
	persist bool

	// prior holds what the recalculated run already accumulated, by employee.
	// Year-to-date values are read without it and only the difference is
	// accumulated.
	prior map[string]accumulation.Contribution

	// applied is what the pass accumulated, by employee. accrued maps the
	// records it accrued leave for to their employee. Both feed undo.
	applied map[string]accumulation.Contribution
	accrued map[string]string
}

// plan is the assigned concepts of a payroll split by class, in order.
type plan struct {
	perceptions []catalog.AssignedConcept
	deductions  []catalog.AssignedConcept
	benefits    []catalog.AssignedConcept
}

func (e *Engine) buildPlan(ctx context.Context, ps *pass) (plan, error) {
	assigned, err := ps.src.Assignments(ctx, ps.payroll.ID)
	if err != nil {
		return plan{}, fmt.Errorf("load assignments of payroll %s: %w", ps.payroll.ID, err)
	}
	var pl plan
	for _, ac := range assigned {
		if !ac.Concept.ActiveAt(ps.run.CalculationDate) {
			continue
		}
		switch ac.Concept.Class {
		case catalog.ClassPerception:
			pl.perceptions = append(pl.perceptions, ac)
		case catalog.ClassDeduction:
			pl.deductions = append(pl.deductions, ac)
		case catalog.ClassBenefit:
			pl.benefits = append(pl.benefits, ac)
		}
	}
	calc.SortPerceptions(pl.perceptions)
	calc.SortDeductions(pl.deductions)
	calc.SortPerceptions(pl.benefits)
	return pl, nil
}

func (e *Engine) calculate(ctx context.Context, ps *pass) error {
	pl, err := e.buildPlan(ctx, ps)
	if err != nil {
		return err
	}
	prog := e.track(ps.run.ID, len(ps.employees))
	defer func() { prog.finish(e.now()) }()

	calculator := calc.NewCalculator(ps.src, e.logger)
	var diags generic.Diagnostics
	seen := make(map[string]bool, len(ps.employees))

	for _, emp := range ps.employees {
		label := employeeLabel(emp)
		res, ds, skip, err := e.employee(ctx, ps, pl, calculator, emp)
		if err != nil {
			return err
		}
		prog.processed.Add(1)
		if skip != nil {
			prog.errored.Add(1)
			diags.Errorf(label, "skipped: %v", skip)
			e.logger.Debug("employee skipped", "run", ps.run.ID, "employee", emp.ID, "reason", skip)
			continue
		}
		for _, d := range ds {
			diags.Warnf(label, "%s", d)
		}
		ps.run.Employees = append(ps.run.Employees, res)
		ps.run.Totals.add(res)
		seen[emp.ID] = true
	}

	// Employees that left the payroll since the recalculated run are taken
	// out of the period.
	if ps.persist && ps.prior != nil {
		for empID, c := range ps.prior {
			if seen[empID] {
				continue
			}
			if err := e.accumulate(ctx, ps, empID, c.Neg()); err != nil {
				return err
			}
		}
	}

	ps.run.Warnings = append(ps.run.Warnings, diags.Warnings()...)
	ps.run.Errors = append(ps.run.Errors, diags.Errors()...)
	return nil
}

// employee calculates one employee. skip is the validation failure that
// excludes the employee; err is a structural failure that aborts the run.
func (e *Engine) employee(ctx context.Context, ps *pass, pl plan, calculator *calc.Calculator, emp catalog.Employee) (res EmployeeResult, ds generic.Diagnostics, skip, err error) {
	run, p := ps.run, ps.payroll

	if skip = validateEmployee(emp, run.Period, run.CalculationDate); skip != nil {
		return res, nil, skip, nil
	}

	params, err := ps.src.Parameters(ctx, emp.CompanyID)
	if err != nil {
		return res, nil, nil, fmt.Errorf("load parameters for company %s: %w", emp.CompanyID, err)
	}
	params = params.WithDefaults()

	cc := calc.NewContext(emp, p, params, run.Period, run.CalculationDate)
	if emp.Currency != "" && p.Currency != "" && emp.Currency != p.Currency {
		rate, rerr := ps.src.ExchangeRate(ctx, emp.Currency, p.Currency, run.CalculationDate)
		if rerr != nil {
			return res, nil, fmt.Errorf("no exchange rate %s->%s on %s", emp.Currency, p.Currency, run.CalculationDate.Format(time.DateOnly)), nil
		}
		cc.ExchangeRate = rate.Rate
		cc.BaseSalary = generic.RoundMoney(emp.BaseSalary.Mul(rate.Rate))
	}

	key := accumulationKey(emp, p, params, run.Period)
	ytd, err := e.acc.Peek(ctx, key, emp.Opening)
	if err != nil {
		return res, nil, nil, fmt.Errorf("read accumulation %s: %w", key, err)
	}
	if prior, ok := ps.prior[emp.ID]; ok {
		ytd = accumulation.Apply(ytd, prior.Neg())
	}
	cc.YTD = calc.YearToDate{
		Gross:            ytd.Gross,
		Taxable:          ytd.Taxable,
		PreTaxDeductions: ytd.PreTaxDeductions,
		WithheldTax:      ytd.WithheldTax,
		PeriodsProcessed: ytd.PeriodsProcessed,
		MonthSalary:      ytd.MonthSalaryAt(run.Period.End),
	}

	// 1. proration
	var hire *time.Time
	if !emp.HireDate.IsZero() {
		hire = &emp.HireDate
	}
	pr := calc.PeriodSalary(calc.ProrationInput{
		MonthlySalary:   cc.BaseSalary,
		Periodicity:     p.Periodicity,
		Params:          params,
		Period:          run.Period,
		HireDate:        hire,
		TerminationDate: emp.TerminationDate,
	})
	cc.SetPeriodSalary(pr.Amount, pr.WorkedDays)

	novelties, err := e.dir.Novelties(ctx, emp.ID, p.ID, run.Period.Start, run.Period.End)
	if err != nil {
		return res, nil, nil, fmt.Errorf("load novelties of %s: %w", emp.ID, err)
	}
	cc.AddNovelties(novelties)

	// 2. perceptions
	for _, ac := range pl.perceptions {
		r := calculator.Calculate(ctx, cc, ac)
		ds.Merge(r.Diagnostics)
		if r.Amount.IsZero() {
			continue
		}
		cc.AddPerception(itemFor(ac, r.Amount), ac.Concept.Taxable)
	}

	// 3-4. deductions and loans
	loans, err := e.dir.Loans(ctx, emp.ID)
	if err != nil {
		return res, nil, nil, fmt.Errorf("load loans of %s: %w", emp.ID, err)
	}
	ds.Merge(applyDeductions(ctx, cc, calculator, deductionSteps(pl.deductions, loans, p.LoanPriority)))

	// 5. benefits
	for _, ac := range pl.benefits {
		r := calculator.Calculate(ctx, cc, ac)
		ds.Merge(r.Diagnostics)
		if r.Amount.IsZero() {
			continue
		}
		cc.AddBenefit(itemFor(ac, r.Amount))
	}

	res = EmployeeResult{
		ID:           generic.NewID(),
		RunID:        run.ID,
		EmployeeID:   emp.ID,
		Code:         emp.Code,
		Name:         emp.Name,
		LeaveAccrued: decimal.Zero,
		LeaveUsed:    decimal.Zero,
	}

	// 6. leave
	if ps.leave != nil {
		res.LeaveAccrued, res.LeaveUsed = e.applyLeave(ctx, ps, cc, res.ID, &ds)
	}

	// 7. net
	if cc.Remaining().IsNegative() {
		ds.Warnf("NET", "deductions %s exceed gross %s by %s, net clamped to 0",
			generic.FormatMoney(cc.Totals.Deductions), generic.FormatMoney(cc.Totals.Gross),
			generic.FormatMoney(cc.Remaining().Neg()))
	}
	cc.Finalize()

	res.BaseSalary = cc.BaseSalary
	res.PeriodSalary = cc.PeriodSalary
	res.WorkedDays = cc.WorkedDays
	res.Currency = cc.Currency
	res.ExchangeRate = cc.ExchangeRate
	res.Totals = cc.Totals
	res.TaxableBase = cc.TaxableBase()
	res.Warnings = ds.Warnings()
	for i, it := range cc.Lines() {
		res.Lines = append(res.Lines, Line{
			ID:        generic.NewID(),
			ResultID:  res.ID,
			Code:      it.Code,
			Name:      it.Name,
			ConceptID: it.ConceptID,
			LoanID:    it.LoanID,
			Class:     it.Class,
			Amount:    it.Amount,
			Order:     i,
		})
	}

	// 8. persist, then accumulate
	if !ps.persist {
		return res, ds, nil, nil
	}
	if err := e.runs.SaveEmployeeResult(ctx, res); err != nil {
		return res, nil, nil, fmt.Errorf("save result of %s: %w", emp.ID, err)
	}
	c := contributionOf(res, run.Period)
	if prior, ok := ps.prior[emp.ID]; ok {
		c = c.Sub(prior)
	}
	if err := e.accumulate(ctx, ps, emp.ID, c); err != nil {
		return res, nil, nil, err
	}
	return res, ds, nil, nil
}

func (e *Engine) applyLeave(ctx context.Context, ps *pass, cc *calc.Context, recordID string, ds *generic.Diagnostics) (accrued, used decimal.Decimal) {
	accrued, err := ps.leave.Accrue(ctx, leave.AccrualInput{
		Employee:    cc.Employee,
		Payroll:     ps.payroll,
		Period:      ps.run.Period,
		RecordID:    recordID,
		WorkedDays:  cc.WorkedDays,
		HoursPerDay: cc.Params.HoursPerDay,
	})
	if err != nil {
		ds.Warnf("LEAVE", "accrual not applied: %v", err)
	}
	if accrued.IsPositive() && !ps.leave.IsReadOnly() {
		if ps.accrued == nil {
			ps.accrued = make(map[string]string)
		}
		ps.accrued[recordID] = cc.Employee.ID
	}
	used, err = ps.leave.ApplyUsage(ctx, leave.UsageInput{
		Employee:    cc.Employee,
		Payroll:     ps.payroll,
		Period:      ps.run.Period,
		HoursPerDay: cc.Params.HoursPerDay,
	})
	for _, cause := range flatten(err) {
		ds.Warnf("LEAVE", "usage not applied: %v", cause)
	}
	return accrued, used
}

// accumulate adds c to the employee's record and remembers it for undo.
func (e *Engine) accumulate(ctx context.Context, ps *pass, employeeID string, c accumulation.Contribution) error {
	if c.IsZero() {
		return nil
	}
	if err := e.contribute(ctx, ps, employeeID, c); err != nil {
		return err
	}
	if ps.applied == nil {
		ps.applied = make(map[string]accumulation.Contribution)
	}
	ps.applied[employeeID] = ps.applied[employeeID].Add(c)
	return nil
}

// undo takes back what ps applied. Whatever was undone is forgotten, so a
// failed undo can be retried.
func (e *Engine) undo(ctx context.Context, ps *pass) error {
	var errs []error
	for empID, c := range ps.applied {
		if !c.IsZero() {
			if err := e.contribute(ctx, ps, empID, c.Neg()); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		delete(ps.applied, empID)
	}
	if e.leave != nil {
		for recordID, empID := range ps.accrued {
			if _, err := e.leave.ReverseAccrual(ctx, empID, recordID); err != nil {
				errs = append(errs, err)
				continue
			}
			delete(ps.accrued, recordID)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) contribute(ctx context.Context, ps *pass, employeeID string, c accumulation.Contribution) error {
	emp, ok := findEmployee(ps.employees, employeeID)
	if !ok {
		// Left the payroll; key it the way the original run did.
		emp = catalog.Employee{ID: employeeID, CompanyID: ps.payroll.CompanyID}
	}
	params, err := ps.src.Parameters(ctx, emp.CompanyID)
	if err != nil {
		return fmt.Errorf("load parameters for company %s: %w", emp.CompanyID, err)
	}
	key := accumulationKey(emp, ps.payroll, params.WithDefaults(), ps.run.Period)
	if _, err := e.acc.Accumulate(ctx, key, emp.Opening, c); err != nil {
		return fmt.Errorf("accumulate %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// DEDUCTIONS
// =============================================================================

// deductionStep is an assigned deduction or a loan installment.
type deductionStep struct {
	ac       catalog.AssignedConcept
	loan     *catalog.Loan
	priority int
	order    int
}

// deductionSteps merges loans into the deductions at the payroll's loan
// priority, after concepts of the same priority.
func deductionSteps(deductions []catalog.AssignedConcept, loans []catalog.Loan, loanPriority int) []deductionStep {
	steps := make([]deductionStep, 0, len(deductions)+len(loans))
	for _, ac := range deductions {
		steps = append(steps, deductionStep{ac: ac, priority: ac.Assignment.Priority, order: ac.Assignment.Order})
	}
	for i := range loans {
		steps = append(steps, deductionStep{loan: &loans[i], priority: loanPriority, order: math.MaxInt32})
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].priority != steps[j].priority {
			return steps[i].priority < steps[j].priority
		}
		return steps[i].order < steps[j].order
	})
	return steps
}

// applyDeductions applies steps in order. A deduction larger than what is
// left of gross is:
//   - mandatory: applied in full
//   - stop-if-insufficient: not applied, and no further deduction runs
//   - otherwise: applied up to what is left, or not at all when nothing is
//
// Mandatory and stop-if-insufficient together apply in full, then stop.
func applyDeductions(ctx context.Context, cc *calc.Context, calculator *calc.Calculator, steps []deductionStep) generic.Diagnostics {
	var ds generic.Diagnostics
	for _, st := range steps {
		var (
			item                   calc.Item
			mandatory, stop        bool
			beforeTax, withholding bool
		)
		if st.loan != nil {
			item = loanItem(*st.loan)
			item.Amount = generic.RoundMoney(st.loan.NextInstallment())
		} else {
			r := calculator.Calculate(ctx, cc, st.ac)
			ds.Merge(r.Diagnostics)
			item = itemFor(st.ac, r.Amount)
			mandatory = st.ac.Assignment.Mandatory
			stop = st.ac.Assignment.StopIfInsufficient
			beforeTax = st.ac.Concept.BeforeTax
			withholding = st.ac.Concept.Withholding
		}
		if item.Amount.IsZero() {
			continue
		}

		remaining := generic.NonNegative(cc.Remaining())
		if !item.Amount.GreaterThan(remaining) {
			cc.AddDeduction(item, beforeTax, withholding)
			continue
		}

		switch {
		case mandatory:
			cc.AddDeduction(item, beforeTax, withholding)
			if stop {
				ds.Warnf(item.Code, "insufficient gross for %s (available %s), applied as mandatory; remaining deductions skipped",
					generic.FormatMoney(item.Amount), generic.FormatMoney(remaining))
				return ds
			}
		case stop:
			ds.Warnf(item.Code, "insufficient gross for %s (available %s), not applied; remaining deductions skipped",
				generic.FormatMoney(item.Amount), generic.FormatMoney(remaining))
			return ds
		case remaining.IsPositive():
			ds.Warnf(item.Code, "partially applied %s of %s, excess %s not deducted",
				generic.FormatMoney(remaining), generic.FormatMoney(item.Amount), generic.FormatMoney(item.Amount.Sub(remaining)))
			item.Amount = remaining
			cc.AddDeduction(item, beforeTax, withholding)
		default:
			ds.Warnf(item.Code, "not applied, no gross left for %s", generic.FormatMoney(item.Amount))
		}
	}
	return ds
}

func loanItem(l catalog.Loan) calc.Item {
	code := l.Code
	if code == "" {
		code = "LOAN-" + l.ID
	}
	name := l.Name
	if name == "" {
		name = "Loan installment"
	}
	return calc.Item{Code: code, Name: name, LoanID: l.ID}
}

// =============================================================================
// HELPERS
// =============================================================================

// validateEmployee returns why emp cannot be paid for period, or nil.
func validateEmployee(emp catalog.Employee, period generic.Period, calcDate time.Time) error {
	var errs []error
	if !emp.Active {
		errs = append(errs, errors.New("employee is inactive"))
	}
	if !emp.HireDate.IsZero() {
		hire := generic.TruncateDay(emp.HireDate)
		if hire.After(calcDate) {
			errs = append(errs, fmt.Errorf("hire date %s is in the future", hire.Format(time.DateOnly)))
		} else if hire.After(period.End) {
			errs = append(errs, fmt.Errorf("hire date %s is after the period end", hire.Format(time.DateOnly)))
		}
	}
	if emp.TerminationDate != nil && generic.TruncateDay(*emp.TerminationDate).Before(period.Start) {
		errs = append(errs, fmt.Errorf("terminated on %s, before the period start", emp.TerminationDate.Format(time.DateOnly)))
	}
	if strings.TrimSpace(emp.PersonalID) == "" {
		errs = append(errs, errors.New("missing personal identifier"))
	}
	if !emp.BaseSalary.IsPositive() {
		errs = append(errs, fmt.Errorf("base salary %s must be greater than zero", emp.BaseSalary))
	}
	if emp.CompanyID == "" {
		errs = append(errs, errors.New("no company assigned"))
	}
	return errors.Join(errs...)
}

func accumulationKey(emp catalog.Employee, p catalog.Payroll, params catalog.CalculationParameters, period generic.Period) accumulation.Key {
	fiscal := generic.FiscalCalendar{StartMonth: params.FiscalYearStartMonth}.PeriodFor(period.End)
	return accumulation.Key{
		EmployeeID:        emp.ID,
		PayrollType:       p.PayrollType,
		CompanyID:         emp.CompanyID,
		FiscalPeriodStart: fiscal.Start,
	}
}

// contributionOf is what a result adds to its accumulation record.
func contributionOf(res EmployeeResult, period generic.Period) accumulation.Contribution {
	return accumulation.Contribution{
		Gross:        res.Totals.Gross,
		Taxable:      res.Totals.TaxableGross,
		PreTax:       res.Totals.PreTaxDeductions,
		Tax:          res.Totals.WithheldTax,
		PeriodSalary: res.PeriodSalary,
		PeriodEnd:    period.End,
		Periods:      1,
	}
}

func itemFor(ac catalog.AssignedConcept, amount decimal.Decimal) calc.Item {
	return calc.Item{
		Code:      ac.Concept.Code,
		Name:      ac.Concept.Name,
		ConceptID: ac.Concept.ID,
		Amount:    amount,
		Order:     ac.Assignment.Order,
	}
}

func employeeLabel(emp catalog.Employee) string {
	switch {
	case emp.Name != "" && emp.Code != "":
		return emp.Name + " (" + emp.Code + ")"
	case emp.Name != "":
		return emp.Name
	case emp.Code != "":
		return emp.Code
	}
	return emp.ID
}

func findEmployee(emps []catalog.Employee, id string) (catalog.Employee, bool) {
	for _, e := range emps {
		if e.ID == id {
			return e, true
		}
	}
	return catalog.Employee{}, false
}

func companies(emps []catalog.Employee) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range emps {
		if e.CompanyID != "" && !seen[e.CompanyID] {
			seen[e.CompanyID] = true
			out = append(out, e.CompanyID)
		}
	}
	return out
}

func currencies(emps []catalog.Employee) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range emps {
		if e.Currency != "" && !seen[e.Currency] {
			seen[e.Currency] = true
			out = append(out, e.Currency)
		}
	}
	return out
}

// flatten splits a joined error into its causes.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
