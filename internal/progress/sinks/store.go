package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/progress"
	"github.com/JakeFAU/company-research/internal/research"
	"github.com/JakeFAU/company-research/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Task outcomes in
// a batch are written with a single repository call to reduce round trips.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events to the repository in order. Task outcomes
// are flushed before any terminal event so runs are complete when closed.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var outcomes []store.SourceOutcome
	flush := func() error {
		if len(outcomes) == 0 {
			return nil
		}
		if err := s.repo.RecordOutcomes(ctx, outcomes); err != nil {
			return fmt.Errorf("record outcomes: %w", err)
		}
		outcomes = outcomes[:0]
		return nil
	}

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRequestStart:
			if err := s.repo.StartRun(ctx, evt.RequestID, evt.Company, evt.Depth, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageTaskDone, progress.StageSynthesisDone:
			outcomes = append(outcomes, outcomeFromEvent(evt))
		case progress.StageRequestDone, progress.StageRequestCanceled:
			if err := flush(); err != nil {
				return err
			}
			if err := s.complete(ctx, evt); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event) error {
	status := runStatus(evt)
	var note *string
	if evt.Note != "" {
		msg := evt.Note
		note = &msg
	}
	if err := s.repo.CompleteRun(ctx, evt.RequestID, evt.TS, status, evt.Cost, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func runStatus(evt progress.Event) store.RunStatus {
	if evt.Stage == progress.StageRequestCanceled {
		return store.RunCanceled
	}
	switch evt.Status {
	case research.StatusCompleted:
		return store.RunCompleted
	case research.StatusPartial:
		return store.RunPartial
	default:
		return store.RunFailed
	}
}

func outcomeFromEvent(evt progress.Event) store.SourceOutcome {
	out := store.SourceOutcome{
		RequestID: evt.RequestID,
		Source:    string(evt.Source),
		Status:    string(evt.Status),
		Duration:  evt.Dur,
		Cost:      evt.Cost,
		At:        evt.TS,
	}
	if evt.Note != "" {
		msg := evt.Note
		out.Error = &msg
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
