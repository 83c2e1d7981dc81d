// Package store declares interfaces for persisting research run history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the research_runs status column.
type RunStatus string

// Run statuses persisted in research_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Run models one research_runs row.
type Run struct {
	// RequestID is the research request identifier.
	RequestID string
	// Company is the request's company label.
	Company string
	// Depth is the resolved research depth.
	Depth string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	// Status is running/completed/partial/failed/canceled.
	Status RunStatus
	// TotalCost is the sum of task costs.
	TotalCost float64
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// SourceOutcome captures one task outcome within a run.
type SourceOutcome struct {
	RequestID string
	Source    string
	Status    string
	Duration  time.Duration
	Cost      float64
	Error     *string
	At        time.Time
}

// RunRepository persists research run history.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) a running row.
	StartRun(ctx context.Context, requestID, company, depth string, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and cost.
	CompleteRun(
		ctx context.Context,
		requestID string,
		finishedAt time.Time,
		status RunStatus,
		totalCost float64,
		errMsg *string,
	) error
	// RecordOutcomes stores task outcomes for a run.
	RecordOutcomes(ctx context.Context, outcomes []SourceOutcome) error
	// GetRun fetches a single run.
	GetRun(ctx context.Context, requestID string) (Run, error)
}
