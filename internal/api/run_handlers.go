package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/store"
)

const runTimeout = 3 * time.Second

// RunHandler exposes persisted run history.
type RunHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger. A nil repo makes every
// request answer 503.
func NewRunHandler(repo store.RunRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: runTimeout,
		logger:  logger,
	}
}

// GetRun handles GET /v1/research/{request_id}/run. It returns {"run": {...}}
// on success, 404 when the repository reports store.ErrNotFound, 503 if run
// history is not configured, or 500 otherwise.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	requestID := chi.URLParam(r, "request_id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.String("request_id", requestID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		RequestID:  run.RequestID,
		Company:    run.Company,
		Depth:      run.Depth,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		TotalCost:  run.TotalCost,
		Error:      run.ErrorMessage,
	}
}

type runDTO struct {
	RequestID  string     `json:"request_id"`
	Company    string     `json:"company_name"`
	Depth      string     `json:"research_depth"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	TotalCost  float64    `json:"total_cost"`
	Error      *string    `json:"error,omitempty"`
}
