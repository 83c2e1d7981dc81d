package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/company-research/internal/research"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRequestStart    Stage = "REQUEST_START"
	StageTaskDone        Stage = "TASK_DONE"
	StageSynthesisDone   Stage = "SYNTHESIS_DONE"
	StageRequestDone     Stage = "REQUEST_DONE"
	StageRequestCanceled Stage = "REQUEST_CANCELED"
)

// Terminal reports whether the stage ends a request.
func (s Stage) Terminal() bool {
	return s == StageRequestDone || s == StageRequestCanceled
}

// Event captures a single research lifecycle milestone.
type Event struct {
	// RequestID identifies the research request.
	RequestID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Company is the request's company label; set on REQUEST_START.
	Company string
	// Depth is the resolved research depth.
	Depth string
	// Source scopes task and synthesis events to a provider.
	Source research.SourceKind
	// Status is the task or request outcome.
	Status research.Status
	// Cost is the task cost or the request's total cost.
	Cost float64
	// Dur captures task or request latency.
	Dur time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RequestID == "" {
		return errors.New("request id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRequestStart, StageRequestCanceled:
	case StageTaskDone, StageSynthesisDone:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
		if e.Status == "" {
			return fmt.Errorf("%s requires status", e.Stage)
		}
	case StageRequestDone:
		if !e.Status.Terminal() {
			return errors.New("request done requires a terminal status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Cost < 0 {
		return errors.New("cost must be >= 0")
	}
	return nil
}

// TaskEvent builds a TASK_DONE event from a task result.
func TaskEvent(requestID string, result research.TaskResult) Event {
	return Event{
		RequestID: requestID,
		TS:        result.Timestamp,
		Stage:     StageTaskDone,
		Source:    result.Source,
		Status:    result.Status,
		Cost:      result.CostEstimate,
		Dur:       result.ProcessingTime,
		Note:      result.Error,
	}
}
