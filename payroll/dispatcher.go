package payroll

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one dispatched request.
type Outcome struct {
	Request Request `json:"request"`
	Run     *Run    `json:"run,omitempty"`
	Err     error   `json:"-"`
}

// Dispatcher executes independent run requests on a bounded worker pool.
// Requests for the same payroll run one after another, in the order given,
// so a period's overlap check sees the run before it.
type Dispatcher struct {
	engine  *Engine
	workers int
	logger  *slog.Logger
}

func NewDispatcher(engine *Engine, workers int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{engine: engine, workers: workers, logger: logger}
}

// Dispatch executes reqs and returns one outcome per request, in order.
// A failing request does not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))

	var order []string
	groups := make(map[string][]int)
	for i, r := range reqs {
		if _, ok := groups[r.PayrollID]; !ok {
			order = append(order, r.PayrollID)
		}
		groups[r.PayrollID] = append(groups[r.PayrollID], i)
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, payrollID := range order {
		payrollID := payrollID
		idxs := groups[payrollID]
		g.Go(func() error {
			for _, i := range idxs {
				out[i].Request = reqs[i]
				if err := ctx.Err(); err != nil {
					out[i].Err = err
					continue
				}
				out[i].Run, out[i].Err = d.engine.Execute(ctx, reqs[i])
				if out[i].Err != nil {
					d.logger.Error("dispatched run failed", "payroll", payrollID, "error", out[i].Err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
