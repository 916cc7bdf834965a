package payroll

import (
	"context"
	"fmt"

	"github.com/warp/payroll-engine/accumulation"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// TRANSITIONS
// =============================================================================

// Transition moves a run to another status.
func (e *Engine) Transition(ctx context.Context, runID string, to Status, a Action) (*Run, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	unlock := e.lockPayroll(run.PayrollID)
	defer unlock()

	// Re-read under the payroll lock.
	run, err = e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(run.Status, to, a, run.SupersededBy != ""); err != nil {
		return nil, err
	}

	from := run.Status
	run.Status = to
	run.UpdatedAt = e.now()
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}
	err = e.runs.AppendAudit(ctx, AuditEntry{
		ID:      generic.NewID(),
		RunID:   run.ID,
		At:      run.UpdatedAt,
		ActorID: a.Actor,
		Action:  AuditTransitioned,
		From:    from,
		To:      to,
		Detail:  a.Reason,
	})
	if err != nil {
		e.logger.Warn("audit entry not written", "run", run.ID, "error", err)
	}
	e.logger.Info("run transitioned", "run", run.ID, "from", from, "to", to, "actor", a.Actor)

	// A superseded run's numbers already live on in its recalculation.
	if to == StatusCancelled && recalculable[from] && run.SupersededBy == "" {
		if err := e.reverse(ctx, run); err != nil {
			return nil, fmt.Errorf("undo cancelled run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// reverse undoes the writes of a calculated run being cancelled. A
// recalculation whose original is still live hands the period back to the
// original. Any other run takes its employees out of the period, leave
// accrued by the runs it recalculated included.
func (e *Engine) reverse(ctx context.Context, run *Run) error {
	snap, err := e.snapshots.Load(ctx, run.SnapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot of run %s: %w", run.ID, err)
	}
	employees, err := e.dir.PayrollEmployees(ctx, run.PayrollID)
	if err != nil {
		return fmt.Errorf("load employees of payroll %s: %w", run.PayrollID, err)
	}
	ps := &pass{
		run:       run,
		payroll:   snap.Payroll,
		src:       snap.Source(),
		employees: employees,
		applied:   contributions(run),
		accrued:   make(map[string]string),
	}

	var orig *Run
	if run.Supersedes != "" {
		if orig, err = e.runs.GetRun(ctx, run.Supersedes); err != nil {
			return fmt.Errorf("load superseded run %s: %w", run.Supersedes, err)
		}
	}
	restore := orig != nil && orig.Status != StatusCancelled
	if restore {
		for empID, c := range contributions(orig) {
			ps.applied[empID] = ps.applied[empID].Sub(c)
		}
	} else {
		r := run
		for {
			for _, res := range r.Employees {
				ps.accrued[res.ID] = res.EmployeeID
			}
			if r.Supersedes == "" {
				break
			}
			if r, err = e.runs.GetRun(ctx, r.Supersedes); err != nil {
				return fmt.Errorf("load superseded run: %w", err)
			}
		}
	}

	if err := e.undo(ctx, ps); err != nil {
		return err
	}
	if restore {
		orig.SupersededBy = ""
		orig.UpdatedAt = e.now()
		if err := e.runs.SaveRun(ctx, orig); err != nil {
			return fmt.Errorf("restore run %s: %w", orig.ID, err)
		}
	}
	e.logger.Info("cancelled run undone", "run", run.ID, "restored", restore)
	return nil
}

// =============================================================================
// RECALCULATION
// =============================================================================

// RecalcOptions controls Recalculate.
type RecalcOptions struct {
	// Preview computes without persisting anything, leave included.
	Preview bool
	ActorID string
}

// recalculable are the statuses a recalculation may start from, the ones
// whose results are persisted and accumulated.
var recalculable = map[Status]bool{
	StatusGenerated: true,
	StatusApproved:  true,
	StatusApplied:   true,
}

// Recalculate recomputes a run against the configuration snapshot it was
// executed with. Employees and novelties are read live.
//
// A preview returns the new numbers and writes nothing. Otherwise a new run
// superseding the original is persisted, leave ledgers are left untouched
// and only the difference to the original is accumulated. The original keeps
// its status; it is cancelled through Transition.
func (e *Engine) Recalculate(ctx context.Context, runID string, opts RecalcOptions) (*Run, error) {
	orig, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !recalculable[orig.Status] {
		return nil, &generic.TransitionError{From: string(orig.Status), To: "recalculated",
			Reason: fmt.Errorf("%w: only generated, approved or applied runs are recalculated", generic.ErrInvalidTransition)}
	}
	if orig.SupersededBy != "" {
		return nil, &generic.TransitionError{From: string(orig.Status), To: "recalculated",
			Reason: fmt.Errorf("%w: already superseded by %s", generic.ErrInvalidTransition, orig.SupersededBy)}
	}

	snap, err := e.snapshots.Load(ctx, orig.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot of run %s: %w", orig.ID, err)
	}
	p := snap.Payroll

	employees, err := e.dir.PayrollEmployees(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load employees of payroll %s: %w", p.ID, err)
	}

	actor := opts.ActorID
	if actor == "" {
		actor = orig.ActorID
	}
	run := e.newRun(p, orig.Period, snap.CalculationDate, actor)
	run.SnapshotID = snap.ID
	run.Supersedes = orig.ID
	run.Preview = opts.Preview
	log := e.logger.With("run", run.ID, "supersedes", orig.ID, "preview", opts.Preview)

	ps := &pass{
		run:       run,
		payroll:   p,
		src:       snap.Source(),
		employees: employees,
		persist:   !opts.Preview,
		prior:     contributions(orig),
	}
	if e.leave != nil {
		ps.leave = e.leave.ReadOnly()
	}

	if opts.Preview {
		run.Status = StatusCalculating
		if err := e.calculate(ctx, ps); err != nil {
			return nil, err
		}
		run.Status = StatusGenerated
		log.Info("recalculation previewed", "net", run.Totals.Net.String())
		return run, nil
	}

	unlock := e.lockPayroll(p.ID)
	problems, err := e.validateRun(ctx, p, run.Period, employees, orig.ID)
	if err != nil {
		unlock()
		return nil, err
	}
	if len(problems) > 0 {
		unlock()
		return e.reject(ctx, run, problems)
	}
	run.Status = StatusCalculating
	err = e.runs.SaveRun(ctx, run)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if err := e.calculate(ctx, ps); err != nil {
		return nil, e.abort(ctx, ps, err)
	}
	if err := e.finish(ctx, ps, AuditRecalculated, "supersedes "+orig.ID); err != nil {
		return nil, err
	}
	if run.Status == StatusCancelled {
		log.Warn("recalculation cancelled while calculating")
		return run, nil
	}

	unlock = e.lockPayroll(p.ID)
	defer unlock()
	if cur, err := e.runs.GetRun(ctx, orig.ID); err == nil {
		orig = cur
	}
	orig.SupersededBy = run.ID
	orig.UpdatedAt = e.now()
	if err := e.runs.SaveRun(ctx, orig); err != nil {
		return nil, fmt.Errorf("mark run %s superseded: %w", orig.ID, err)
	}
	log.Info("run recalculated", "net", run.Totals.Net.String(), "original_net", orig.Totals.Net.String())
	return run, nil
}

// contributions is what each employee result of run accumulated.
func contributions(run *Run) map[string]accumulation.Contribution {
	out := make(map[string]accumulation.Contribution, len(run.Employees))
	for _, res := range run.Employees {
		out[res.EmployeeID] = contributionOf(res, run.Period)
	}
	return out
}
