package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/research"
)

// Synthesizer turns merged source data into narrative fields. It runs once,
// after every other source has finished.
type Synthesizer interface {
	Synthesize(
		ctx context.Context,
		req research.Request,
		merged map[string]any,
		results []research.TaskResult,
	) (map[string]any, error)
	CostEstimate() float64
	Healthy() bool
}

// HealthTracker carries the availability and error bookkeeping of the
// ai_analysis source. *source.Source satisfies it.
type HealthTracker interface {
	Healthy() bool
	Record(err error)
}

// Stage runs the AI synthesis step without the generic retry wrapper.
type Stage struct {
	synth  Synthesizer
	health HealthTracker
	clock  research.Clock
	logger *zap.Logger
}

// NewStage constructs a Stage. A nil synthesizer yields a stage that always
// fails, which callers surface as fallback text.
func NewStage(synth Synthesizer, clock research.Clock, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{synth: synth, clock: clock, logger: logger}
}

// WithHealth gates the stage on tracker and records every synthesis attempt
// on it. A nil tracker is ignored.
func (s *Stage) WithHealth(tracker HealthTracker) *Stage {
	s.health = tracker
	return s
}

// Outcome is the result of one synthesis run. Result is only set on success.
type Outcome struct {
	Payload map[string]any
	Result  *research.TaskResult
	Err     error
}

// Run executes synthesis once. On success the returned outcome carries a
// Completed ai_analysis task result with the synthesizer's cost; on failure
// only Err is set.
func (s *Stage) Run(
	ctx context.Context,
	req research.Request,
	merged map[string]any,
	results []research.TaskResult,
) (out Outcome) {
	ctx, span := otel.Tracer("github.com/JakeFAU/company-research/internal/aggregate").Start(ctx, "research.synthesis")
	defer span.End()
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{Err: fmt.Errorf("synthesis panic: %v", rec)}
			if s.health != nil {
				s.health.Record(out.Err)
			}
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
			s.logger.Warn("ai synthesis failed, using fallback text", zap.Error(out.Err))
		}
	}()

	if s.synth == nil {
		return Outcome{Err: errors.New("no synthesizer configured")}
	}
	if !s.synth.Healthy() || (s.health != nil && !s.health.Healthy()) {
		return Outcome{Err: research.ErrUnhealthy}
	}
	payload, err := s.synth.Synthesize(ctx, req, merged, results)
	if s.health != nil {
		s.health.Record(err)
	}
	if err != nil {
		return Outcome{Err: err}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	result := research.TaskResult{
		Source:         research.SourceAIAnalysis,
		Status:         research.StatusCompleted,
		Data:           payload,
		ProcessingTime: time.Since(start),
		CostEstimate:   max(0, s.synth.CostEstimate()),
		Timestamp:      s.now(),
	}
	return Outcome{Payload: payload, Result: &result}
}

func (s *Stage) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
