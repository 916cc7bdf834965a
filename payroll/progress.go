package payroll

import (
	"sync/atomic"
	"time"
)

// ProgressRetention is how long a finished run's counters stay readable.
const ProgressRetention = time.Hour

// Progress counts employees of a run as they are handled. Counters only grow
// and are written by the single goroutine calculating the run, so readers
// need no lock.
type Progress struct {
	total     atomic.Int64
	processed atomic.Int64
	errored   atomic.Int64
	done      atomic.Bool
	doneAt    atomic.Int64 // unix nanoseconds
}

// ProgressView is a point-in-time copy of a run's counters.
type ProgressView struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Errored   int64 `json:"errored"`
	Done      bool  `json:"done"`
}

func (p *Progress) view() ProgressView {
	return ProgressView{
		Total:     p.total.Load(),
		Processed: p.processed.Load(),
		Errored:   p.errored.Load(),
		Done:      p.done.Load(),
	}
}

func (p *Progress) finish(at time.Time) {
	p.doneAt.Store(at.UnixNano())
	p.done.Store(true)
}

// track registers a run's counters and drops those finished more than
// ProgressRetention ago.
func (e *Engine) track(runID string, total int) *Progress {
	cutoff := e.now().Add(-ProgressRetention).UnixNano()
	e.progress.Range(func(k, v any) bool {
		if p := v.(*Progress); p.done.Load() && p.doneAt.Load() < cutoff {
			e.progress.Delete(k)
		}
		return true
	})

	p := &Progress{}
	p.total.Store(int64(total))
	e.progress.Store(runID, p)
	return p
}

// Progress returns the counters of a run calculated by this engine.
func (e *Engine) Progress(runID string) (ProgressView, bool) {
	v, ok := e.progress.Load(runID)
	if !ok {
		return ProgressView{}, false
	}
	return v.(*Progress).view(), true
}
