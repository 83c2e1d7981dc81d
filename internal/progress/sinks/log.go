package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/progress"
)

// LogSink emits structured logs for research milestones. It is useful during
// development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("request_id", evt.RequestID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Company != "" {
			fields = append(fields, zap.String("company", evt.Company))
		}
		if evt.Depth != "" {
			fields = append(fields, zap.String("depth", evt.Depth))
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", string(evt.Source)))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", string(evt.Status)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Cost > 0 {
			fields = append(fields, zap.Float64("cost", evt.Cost))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("research event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
