package payroll

import (
	"errors"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// RUN STATE MACHINE
// =============================================================================
//
//   draft -> calculating -> generated -> approved -> applied -> paid
//      \          |  \           \           \          \
//       \         |   -> error    \           \          -> cancelled (superseded only)
//        -------> cancelled <------------------
//
// Linear steps are free. Every other move needs an authorized action.

// Status of a payroll run.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusCalculating Status = "calculating"
	StatusGenerated   Status = "generated"
	StatusApproved    Status = "approved"
	StatusApplied     Status = "applied"
	StatusPaid        Status = "paid"
	StatusCancelled   Status = "cancelled"
	StatusError       Status = "error"
)

var next = map[Status]Status{
	StatusDraft:       StatusCalculating,
	StatusCalculating: StatusGenerated,
	StatusGenerated:   StatusApproved,
	StatusApproved:    StatusApplied,
	StatusApplied:     StatusPaid,
}

var errNotSuperseded = errors.New("applied runs are replaced through recalculation first")

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusCalculating, StatusGenerated, StatusApproved,
		StatusApplied, StatusPaid, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Final reports whether no further transition is possible.
func (s Status) Final() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusError
}

// BlocksPeriod reports whether a run in this status reserves its period.
// Cancelled and failed runs never block a new run.
func (s Status) BlocksPeriod() bool {
	return s != StatusCancelled && s != StatusError
}

// Action is who asks for a transition and whether they hold the permission
// for non-linear moves. Authorization itself is decided outside the engine.
type Action struct {
	Actor      string
	Authorized bool
	Reason     string
}

// SystemAction is used by the engine for its own moves.
func SystemAction() Action {
	return Action{Actor: "system", Authorized: true}
}

// CheckTransition validates from -> to for the given action.
// superseded tells whether an applied run has been replaced by a recalculation.
func CheckTransition(from, to Status, a Action, superseded bool) error {
	fail := func(reason error) error {
		return &generic.TransitionError{From: string(from), To: string(to), Reason: reason}
	}
	if !to.Valid() {
		return fail(generic.ErrInvalidTransition)
	}
	if next[from] == to {
		return nil
	}

	switch to {
	case StatusCancelled:
		if from == StatusPaid || from == StatusCancelled {
			return fail(generic.ErrInvalidTransition)
		}
		if from == StatusApplied && !superseded {
			return fail(errors.Join(generic.ErrInvalidTransition, errNotSuperseded))
		}
	case StatusError:
		if from != StatusCalculating {
			return fail(generic.ErrInvalidTransition)
		}
	default:
		return fail(generic.ErrInvalidTransition)
	}

	if !a.Authorized {
		return fail(generic.ErrUnauthorized)
	}
	return nil
}
