/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll run orchestrator via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Runs:
    POST   /api/runs                    Execute a payroll for a period
    POST   /api/runs/batch              Execute several runs on the dispatcher
    GET    /api/runs/{id}               Run with employee results and lines
    GET    /api/runs/{id}/audit         Status history
    GET    /api/runs/{id}/progress      Employee counters while calculating
    POST   /api/runs/{id}/transition    Move to another status
    POST   /api/runs/{id}/recalculate   Recalculate (preview or commit)

  Payrolls:
    GET    /api/payrolls/{id}/runs      Run headers of a payroll

  Leave:
    GET    /api/employees/{id}/leave    Leave accounts with balances

  Configuration:
    POST   /api/config                  Load a configuration document

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: executes, transitions and recalculates runs
  - Dispatcher: bounded worker pool for batches
  - Leave: ledger store for balances and configuration loading
  - Catalog: receives configuration entities

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, malformed configuration
  - 403: Transition needs authorization
  - 404: Run, payroll or record not found
  - 409: Conflict (illegal transition, duplicate)
  - 422: Run rejected by validation (body carries the run and its errors)
  - 500: Internal errors

SECURITY NOTE:
  Authorization is decided by the caller and passed in the transition body.
  There is no authentication middleware.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
)

// maxConfigBytes bounds a configuration upload.
const maxConfigBytes = 10 << 20

var errInvalidInput = errors.New("invalid input")

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// LeaveStore is the leave ledger plus the writes configuration loading needs.
type LeaveStore interface {
	leave.Store
	factory.LeaveWriter
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *payroll.Engine
	Dispatcher *payroll.Dispatcher
	Leave      LeaveStore
	Catalog    factory.CatalogWriter
	Factory    *factory.ConfigFactory

	logger *slog.Logger
}

// NewHandler creates a handler. leaveStore and cat may be nil, which disables
// the leave and configuration endpoints.
func NewHandler(engine *payroll.Engine, dispatcher *payroll.Dispatcher, leaveStore LeaveStore, cat factory.CatalogWriter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:     engine,
		Dispatcher: dispatcher,
		Leave:      leaveStore,
		Catalog:    cat,
		Factory:    factory.NewConfigFactory(),
		logger:     logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ExecuteRun executes a payroll for a period. A run rejected by validation is
// persisted with status error and returned with 422.
func (h *Handler) ExecuteRun(w http.ResponseWriter, r *http.Request) {
	var body ExecuteRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run request", err)
		return
	}

	run, err := h.Engine.Execute(r.Context(), req)
	if err != nil {
		h.fail(w, "Failed to execute run", err)
		return
	}
	if run.Status == payroll.StatusError {
		writeJSON(w, http.StatusUnprocessableEntity, run)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// ExecuteBatch executes several runs on the dispatcher. Every request is
// validated before any is executed.
func (h *Handler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(body.Runs) == 0 {
		writeError(w, http.StatusBadRequest, "No runs requested", nil)
		return
	}

	reqs := make([]payroll.Request, len(body.Runs))
	for i, br := range body.Runs {
		req, err := br.toRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid run request #%d", i), err)
			return
		}
		reqs[i] = req
	}

	outcomes := h.Dispatcher.Dispatch(r.Context(), reqs)

	resp := BatchResponse{Outcomes: make([]OutcomeDTO, len(outcomes))}
	for i, o := range outcomes {
		dto := OutcomeDTO{PayrollID: o.Request.PayrollID, Run: o.Run}
		if o.Err != nil {
			dto.Error = o.Err.Error()
		}
		if o.Err != nil || (o.Run != nil && o.Run.Status == payroll.StatusError) {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Outcomes[i] = dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRun returns a run with its employee results.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Engine.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListPayrollRuns returns the run headers of a payroll, oldest first.
func (h *Handler) ListPayrollRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Engine.Runs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []payroll.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetAuditTrail returns the status history of a run.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Engine.Run(r.Context(), id); err != nil {
		h.fail(w, "Failed to get run", err)
		return
	}
	trail, err := h.Engine.AuditTrail(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to get audit trail", err)
		return
	}
	if trail == nil {
		trail = []payroll.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, trail)
}

// GetProgress returns the employee counters of a run calculated by this
// process.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	view, ok := h.Engine.Progress(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "No progress tracked for run", nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// TransitionRun moves a run to another status.
func (h *Handler) TransitionRun(w http.ResponseWriter, r *http.Request) {
	var body TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	to := payroll.Status(body.To)
	if !to.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown status", fmt.Errorf("%w: %q", errInvalidInput, body.To))
		return
	}

	run, err := h.Engine.Transition(r.Context(), chi.URLParam(r, "id"), to, payroll.Action{
		Actor:      body.ActorID,
		Authorized: body.Authorized,
		Reason:     body.Reason,
	})
	if err != nil {
		h.fail(w, "Transition rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// RecalculateRun recalculates a run against its snapshot. A preview answers
// 200 and writes nothing; a committed recalculation answers 201 with the new
// run.
func (h *Handler) RecalculateRun(w http.ResponseWriter, r *http.Request) {
	var body RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	run, err := h.Engine.Recalculate(r.Context(), chi.URLParam(r, "id"), payroll.RecalcOptions{
		Preview: body.Preview,
		ActorID: body.ActorID,
	})
	if err != nil {
		h.fail(w, "Recalculation failed", err)
		return
	}
	status := http.StatusCreated
	if body.Preview {
		status = http.StatusOK
	}
	writeJSON(w, status, run)
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

// GetLeaveBalances returns an employee's leave accounts with their balances.
func (h *Handler) GetLeaveBalances(w http.ResponseWriter, r *http.Request) {
	if h.Leave == nil {
		writeError(w, http.StatusNotFound, "Leave ledger not configured", nil)
		return
	}
	ctx := r.Context()
	svc := leave.NewService(h.Leave, h.logger)

	accounts, err := h.Leave.Accounts(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to list leave accounts", err)
		return
	}

	dtos := make([]LeaveAccountDTO, 0, len(accounts))
	for _, a := range accounts {
		entries, err := svc.Entries(ctx, a.ID)
		if err != nil {
			h.fail(w, "Failed to read leave ledger", err)
			return
		}
		dtos = append(dtos, LeaveAccountDTO{
			ID:        a.ID,
			PolicyID:  a.PolicyID,
			PayrollID: a.PayrollID,
			Balance:   leave.Sum(entries),
			Entries:   len(entries),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// LoadConfig parses a configuration document and loads it into the catalog
// and the leave store. Nothing is loaded when the document has any problem.
func (h *Handler) LoadConfig(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil || h.Leave == nil {
		writeError(w, http.StatusNotFound, "Configuration loading not enabled", nil)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read configuration", err)
		return
	}
	cfg, err := h.Factory.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration", err)
		return
	}

	cfg.LoadCatalog(h.Catalog)
	if err := cfg.LoadLeave(r.Context(), h.Leave); err != nil {
		h.fail(w, "Failed to load leave configuration", err)
		return
	}

	h.logger.Info("configuration loaded", "payrolls", len(cfg.Payrolls), "concepts", len(cfg.Concepts),
		"employees", len(cfg.Members), "leave_policies", len(cfg.LeavePolicies))
	writeJSON(w, http.StatusOK, LoadConfigResponse{
		Payrolls:      len(cfg.Payrolls),
		Concepts:      len(cfg.Concepts),
		Assignments:   len(cfg.Assignments),
		TaxRules:      len(cfg.TaxRules),
		Employees:     len(cfg.Members),
		LeavePolicies: len(cfg.LeavePolicies),
		Absences:      len(cfg.Absences),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// fail maps err to a status and writes it. Internal errors are logged.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message, "error", err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrInvalidTransition), errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case errors.Is(err, errInvalidInput), errors.Is(err, generic.ErrConfiguration), generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
