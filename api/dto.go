/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Runs, results, lines
  and audit entries already carry JSON tags and are returned as-is; the
  types here cover request bodies and the few responses that reshape
  domain data.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Runs:
    ExecuteRunRequest, TransitionRequest, RecalculateRequest

  Batch:
    BatchRequest, BatchResponse, OutcomeDTO

  Leave:
    LeaveAccountDTO

  Configuration:
    LoadConfigResponse

DATES:
  Period boundaries and calculation dates are plain "2006-01-02" strings.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/run.go: Run, EmployeeResult, Line, AuditEntry
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

const dateLayout = "2006-01-02"

// =============================================================================
// RUN REQUESTS
// =============================================================================

// ExecuteRunRequest is the request to execute a payroll for a period.
type ExecuteRunRequest struct {
	PayrollID       string `json:"payroll_id"`
	PeriodStart     string `json:"period_start"`
	PeriodEnd       string `json:"period_end"`
	CalculationDate string `json:"calculation_date,omitempty"`
	ActorID         string `json:"actor_id"`
}

// toRequest converts the body into an engine request.
func (r ExecuteRunRequest) toRequest() (payroll.Request, error) {
	if r.PayrollID == "" {
		return payroll.Request{}, fmt.Errorf("%w: payroll_id is required", errInvalidInput)
	}
	start, err := parseDate("period_start", r.PeriodStart)
	if err != nil {
		return payroll.Request{}, err
	}
	end, err := parseDate("period_end", r.PeriodEnd)
	if err != nil {
		return payroll.Request{}, err
	}
	req := payroll.Request{
		PayrollID:   r.PayrollID,
		PeriodStart: start,
		PeriodEnd:   end,
		ActorID:     r.ActorID,
	}
	if r.CalculationDate != "" {
		if req.CalculationDate, err = parseDate("calculation_date", r.CalculationDate); err != nil {
			return payroll.Request{}, err
		}
	}
	return req, nil
}

// TransitionRequest is the request to move a run to another status.
type TransitionRequest struct {
	To         string `json:"to"`
	ActorID    string `json:"actor_id"`
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

// RecalculateRequest is the request to recalculate a run.
type RecalculateRequest struct {
	Preview bool   `json:"preview"`
	ActorID string `json:"actor_id"`
}

// =============================================================================
// BATCH
// =============================================================================

// BatchRequest executes several runs at once.
type BatchRequest struct {
	Runs []ExecuteRunRequest `json:"runs"`
}

// OutcomeDTO is the result of one batched run.
type OutcomeDTO struct {
	PayrollID string       `json:"payroll_id"`
	Run       *payroll.Run `json:"run,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// BatchResponse lists outcomes in request order.
type BatchResponse struct {
	Outcomes  []OutcomeDTO `json:"outcomes"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// =============================================================================
// LEAVE
// =============================================================================

// LeaveAccountDTO is one leave account with its current balance.
type LeaveAccountDTO struct {
	ID        string          `json:"id"`
	PolicyID  string          `json:"policy_id"`
	PayrollID string          `json:"payroll_id,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Entries   int             `json:"entries"`
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// LoadConfigResponse summarizes a loaded configuration document.
type LoadConfigResponse struct {
	Payrolls      int `json:"payrolls"`
	Concepts      int `json:"concepts"`
	Assignments   int `json:"assignments"`
	TaxRules      int `json:"tax_rules"`
	Employees     int `json:"employees"`
	LeavePolicies int `json:"leave_policies"`
	Absences      int `json:"absences"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", errInvalidInput, field)
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s %q", errInvalidInput, field, value)
	}
	return t, nil
}
