/*
handlers_test.go - Tests for API handlers

Tests for:
- Configuration loading through POST /api/config
- Run execution, lookup, progress and audit trail
- Transitions (linear, unauthorized, illegal) and recalculation
- Batch execution on the dispatcher
- Leave balances and error status mapping
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/memory"
)

type testServer struct {
	t      *testing.T
	router http.Handler
}

// newServer wires memory stores and loads the example configuration.
func newServer(t *testing.T) *testServer {
	t.Helper()
	cat := memory.NewCatalog()
	lv := memory.NewLeave()
	engine, err := payroll.NewEngine(payroll.Dependencies{
		Directory:     cat,
		Config:        cat,
		Runs:          memory.NewRuns(),
		Snapshots:     memory.NewSnapshots(),
		Accumulations: memory.NewAccumulations(),
		Leave:         lv,
	})
	require.NoError(t, err)

	h := api.NewHandler(engine, payroll.NewDispatcher(engine, 2, nil), lv, cat, nil)
	s := &testServer{t: t, router: api.NewRouter(h, []string{"http://localhost:5173"})}

	doc, err := os.ReadFile("../configs/payroll.example.json")
	require.NoError(t, err)
	rec := s.raw(http.MethodPost, "/api/config", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return s
}

func (s *testServer) raw(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(s.t, err)
	}
	return s.raw(method, path, data)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func january() api.ExecuteRunRequest {
	return api.ExecuteRunRequest{PayrollID: "pay-mx-monthly", PeriodStart: "2025-01-01", PeriodEnd: "2025-01-31", ActorID: "u-1"}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestLoadConfig(t *testing.T) {
	s := newServer(t)

	t.Run("summarizes the loaded document", func(t *testing.T) {
		doc, err := os.ReadFile("../configs/payroll.example.json")
		require.NoError(t, err)

		rec := s.raw(http.MethodPost, "/api/config", doc)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.LoadConfigResponse](t, rec)
		assert.Equal(t, 1, resp.Payrolls)
		assert.Equal(t, 7, resp.Concepts)
		assert.Equal(t, 2, resp.Employees)
		assert.Equal(t, 1, resp.LeavePolicies)
	})

	t.Run("rejects an invalid document", func(t *testing.T) {
		rec := s.raw(http.MethodPost, "/api/config", []byte(`{"payrolls": [{"id": "p", "periodicity": "hourly"}]}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[api.ErrorResponse](t, rec)
		assert.Contains(t, resp.Details, `unknown periodicity "hourly"`)
	})
}

// =============================================================================
// RUNS
// =============================================================================

func TestExecuteRun(t *testing.T) {
	s := newServer(t)

	// WHEN: January is executed
	rec := s.do(http.MethodPost, "/api/runs", january())

	// THEN: the run is created and readable
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[payroll.Run](t, rec)
	assert.Equal(t, payroll.StatusGenerated, run.Status)
	assert.Equal(t, 2, run.Totals.Employees)

	rec = s.do(http.MethodGet, "/api/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[payroll.Run](t, rec)
	assert.Len(t, got.Employees, 2)

	rec = s.do(http.MethodGet, "/api/runs/"+run.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	progress := decode[payroll.ProgressView](t, rec)
	assert.True(t, progress.Done)
	assert.Equal(t, int64(2), progress.Processed)

	rec = s.do(http.MethodGet, "/api/payrolls/pay-mx-monthly/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]payroll.Run](t, rec), 1)
}

func TestExecuteRun_Errors(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/runs", january()).Code)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed body", "not an object", http.StatusBadRequest},
		{"missing payroll", api.ExecuteRunRequest{PeriodStart: "2025-02-01", PeriodEnd: "2025-02-28"}, http.StatusBadRequest},
		{"bad date", api.ExecuteRunRequest{PayrollID: "pay-mx-monthly", PeriodStart: "02/01/2025", PeriodEnd: "2025-02-28"}, http.StatusBadRequest},
		{"unknown payroll", api.ExecuteRunRequest{PayrollID: "nope", PeriodStart: "2025-02-01", PeriodEnd: "2025-02-28"}, http.StatusNotFound},
		{"overlapping period", api.ExecuteRunRequest{PayrollID: "pay-mx-monthly", PeriodStart: "2025-01-15", PeriodEnd: "2025-02-14"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newServer(t)

	for _, path := range []string{"/api/runs/missing", "/api/runs/missing/audit", "/api/runs/missing/progress"} {
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, nil).Code, path)
	}
}

// =============================================================================
// TRANSITIONS & RECALCULATION
// =============================================================================

func TestTransitionRun(t *testing.T) {
	s := newServer(t)
	run := decode[payroll.Run](t, s.do(http.MethodPost, "/api/runs", january()))
	path := "/api/runs/" + run.ID + "/transition"

	// Linear step needs no authorization
	rec := s.do(http.MethodPost, path, api.TransitionRequest{To: "approved", ActorID: "u-2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, payroll.StatusApproved, decode[payroll.Run](t, rec).Status)

	tests := []struct {
		name string
		body api.TransitionRequest
		want int
	}{
		{"unknown status", api.TransitionRequest{To: "archived"}, http.StatusBadRequest},
		{"cancel without authorization", api.TransitionRequest{To: "cancelled", ActorID: "u-2"}, http.StatusForbidden},
		{"skip a step", api.TransitionRequest{To: "paid", ActorID: "u-2", Authorized: true}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec = s.do(http.MethodGet, "/api/runs/"+run.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[[]payroll.AuditEntry](t, rec)
	require.Len(t, trail, 2)
	assert.Equal(t, payroll.StatusApproved, trail[1].To)
}

func TestRecalculateRun(t *testing.T) {
	s := newServer(t)
	run := decode[payroll.Run](t, s.do(http.MethodPost, "/api/runs", january()))

	// WHEN: previewed
	rec := s.do(http.MethodPost, "/api/runs/"+run.ID+"/recalculate", api.RecalculateRequest{Preview: true})

	// THEN: same numbers, nothing persisted
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[payroll.Run](t, rec)
	assert.True(t, preview.Preview)
	assert.True(t, preview.Totals.Net.Equal(run.Totals.Net))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/runs/"+preview.ID, nil).Code)

	// WHEN: committed
	rec = s.do(http.MethodPost, "/api/runs/"+run.ID+"/recalculate", api.RecalculateRequest{ActorID: "u-3"})

	// THEN: a new run supersedes the original
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	replacement := decode[payroll.Run](t, rec)
	assert.Equal(t, run.ID, replacement.Supersedes)

	orig := decode[payroll.Run](t, s.do(http.MethodGet, "/api/runs/"+run.ID, nil))
	assert.Equal(t, replacement.ID, orig.SupersededBy)

	// A superseded run is not recalculated twice
	rec = s.do(http.MethodPost, "/api/runs/"+run.ID+"/recalculate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// BATCH
// =============================================================================

func TestExecuteBatch(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/runs/batch", api.BatchRequest{Runs: []api.ExecuteRunRequest{
		january(),
		{PayrollID: "pay-mx-monthly", PeriodStart: "2025-02-01", PeriodEnd: "2025-02-28"},
		{PayrollID: "pay-mx-monthly", PeriodStart: "2025-02-10", PeriodEnd: "2025-03-09"},
		{PayrollID: "ghost", PeriodStart: "2025-01-01", PeriodEnd: "2025-01-31"},
	}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.BatchResponse](t, rec)
	require.Len(t, resp.Outcomes, 4)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 2, resp.Failed)
	assert.Equal(t, payroll.StatusGenerated, resp.Outcomes[1].Run.Status)
	assert.Equal(t, payroll.StatusError, resp.Outcomes[2].Run.Status, "overlaps February, which ran first")
	assert.NotEmpty(t, resp.Outcomes[3].Error)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/runs/batch", api.BatchRequest{}).Code)
}

// =============================================================================
// LEAVE
// =============================================================================

func TestGetLeaveBalances(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/runs", january()).Code)

	rec := s.do(http.MethodGet, "/api/employees/emp-1/leave", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	accounts := decode[[]api.LeaveAccountDTO](t, rec)
	require.Len(t, accounts, 1)
	assert.Equal(t, "vac-mx", accounts[0].PolicyID)
	assert.Positive(t, accounts[0].Entries)

	rec = s.do(http.MethodGet, "/api/employees/nobody/leave", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.LeaveAccountDTO](t, rec))
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
