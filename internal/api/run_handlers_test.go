package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/store"
)

func TestRunHandlerGetRun(t *testing.T) {
	t.Parallel()

	finished := time.Unix(200, 0).UTC()
	repo := &mockRunRepo{run: store.Run{
		RequestID:  "req-1",
		Company:    "Acme",
		Depth:      "standard",
		StartedAt:  time.Unix(100, 0).UTC(),
		FinishedAt: &finished,
		Status:     store.RunPartial,
		TotalCost:  0.03,
	}}
	handler := NewRunHandler(repo, zap.NewNop())

	req := withRequestIDParam(httptest.NewRequest(http.MethodGet, "/v1/research/req-1/run", nil), "req-1")
	rec := httptest.NewRecorder()
	handler.GetRun(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "partial", body.Run.Status)
	require.Equal(t, "Acme", body.Run.Company)
	require.NotNil(t, body.Run.FinishedAt)
}

func TestRunHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{err: store.ErrNotFound}, zap.NewNop())
	req := withRequestIDParam(httptest.NewRequest(http.MethodGet, "/v1/research/x/run", nil), "x")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHandlerGetRunRepoError(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&mockRunRepo{err: errors.New("db down")}, zap.NewNop())
	req := withRequestIDParam(httptest.NewRequest(http.MethodGet, "/v1/research/x/run", nil), "x")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunHandlerWithoutRepo(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(nil, nil)
	req := withRequestIDParam(httptest.NewRequest(http.MethodGet, "/v1/research/x/run", nil), "x")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerRoutesRunHistory(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{run: store.Run{RequestID: "req-9", Status: store.RunCompleted}}
	server := NewServer(Deps{Research: newFakeResearcher(), Runs: repo}, testConfig())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/research/req-9/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "completed")
}

// ExampleRunHandler_GetRun shows how to serve persisted run history.
func ExampleRunHandler_GetRun() {
	repo := &mockRunRepo{run: store.Run{
		RequestID: "req-1",
		Company:   "Acme",
		Status:    store.RunCompleted,
		StartedAt: time.Unix(0, 0),
	}}
	handler := NewRunHandler(repo, zap.NewNop())

	req := withRequestIDParam(httptest.NewRequest(http.MethodGet, "/v1/research/req-1/run", nil), "req-1")
	rec := httptest.NewRecorder()
	handler.GetRun(rec, req)

	var payload struct {
		Run map[string]any `json:"run"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("status: %v\n", payload.Run["status"])
	// Output:
	// status: completed
}

type mockRunRepo struct {
	run store.Run
	err error
}

func (m *mockRunRepo) StartRun(context.Context, string, string, string, time.Time) error {
	return nil
}

func (m *mockRunRepo) CompleteRun(context.Context, string, time.Time, store.RunStatus, float64, *string) error {
	return nil
}

func (m *mockRunRepo) RecordOutcomes(context.Context, []store.SourceOutcome) error {
	return nil
}

func (m *mockRunRepo) GetRun(_ context.Context, requestID string) (store.Run, error) {
	if m.err != nil {
		return store.Run{}, m.err
	}
	run := m.run
	if run.RequestID == "" {
		run.RequestID = requestID
	}
	return run, nil
}

func withRequestIDParam(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("request_id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
