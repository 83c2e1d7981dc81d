// Package orchestrator exposes the public research operations: synchronous
// and asynchronous submission, progress polling, cancellation, cost
// estimation, and provider diagnostics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/aggregate"
	"github.com/JakeFAU/company-research/internal/executor"
	"github.com/JakeFAU/company-research/internal/metrics"
	"github.com/JakeFAU/company-research/internal/pipeline"
	"github.com/JakeFAU/company-research/internal/progress"
	"github.com/JakeFAU/company-research/internal/research"
	"github.com/JakeFAU/company-research/internal/session"
	"github.com/JakeFAU/company-research/internal/source"
	"github.com/JakeFAU/company-research/internal/usage"
)

const (
	canceledReason    = "Research canceled"
	persistTimeout    = 10 * time.Second
	defaultRefCompany = "Google"
	defaultRefDomain  = "google.com"
)

// Quota gates AI synthesis per user.
type Quota interface {
	Consume(userID string, premium bool) error
	Stats(userID string, premium bool) usage.Stats
}

// CompletionEvent is published after a request finishes.
type CompletionEvent struct {
	RequestID     string                `json:"request_id"`
	CompanyName   string                `json:"company_name"`
	Depth         string                `json:"research_depth"`
	Status        research.Status       `json:"research_status"`
	TotalCost     float64               `json:"total_cost"`
	SourcesUsed   []research.SourceKind `json:"sources_used"`
	FailedSources []research.SourceKind `json:"failed_sources"`
	Timestamp     time.Time             `json:"timestamp"`
}

// Deps wires the orchestrator's collaborators. Table, Sources, Executor,
// Sessions, IDs and Clock are required; the rest are optional.
type Deps struct {
	Table       *pipeline.Table
	Sources     *source.Registry
	Executor    *executor.Executor
	Synthesizer aggregate.Synthesizer
	Sessions    *session.Registry
	Quota       Quota
	Reports     research.ReportStore
	Publisher   research.Publisher
	Topic       string
	Events      progress.Emitter
	IDs         research.IDGenerator
	Clock       research.Clock
	Logger      *zap.Logger

	// ReferenceCompany and ReferenceDomain are probed by TestSources.
	ReferenceCompany string
	ReferenceDomain  string
}

// Orchestrator coordinates research requests end to end.
type Orchestrator struct {
	table     *pipeline.Table
	sources   *source.Registry
	exec      *executor.Executor
	stage     *aggregate.Stage
	sessions  *session.Registry
	quota     Quota
	reports   research.ReportStore
	publisher research.Publisher
	topic     string
	events    progress.Emitter
	ids       research.IDGenerator
	clock     research.Clock
	logger    *zap.Logger
	tracer    trace.Tracer

	refCompany string
	refDomain  string

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New validates dependencies and returns an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Table == nil:
		return nil, errors.New("orchestrator: pipeline table is required")
	case deps.Sources == nil:
		return nil, errors.New("orchestrator: source registry is required")
	case deps.Executor == nil:
		return nil, errors.New("orchestrator: executor is required")
	case deps.Sessions == nil:
		return nil, errors.New("orchestrator: session registry is required")
	case deps.IDs == nil:
		return nil, errors.New("orchestrator: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("orchestrator: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	refCompany, refDomain := deps.ReferenceCompany, deps.ReferenceDomain
	if refCompany == "" && refDomain == "" {
		refCompany, refDomain = defaultRefCompany, defaultRefDomain
	}
	stage := aggregate.NewStage(deps.Synthesizer, deps.Clock, logger.Named("synthesis"))
	if ai, ok := deps.Sources.Get(research.SourceAIAnalysis); ok {
		stage.WithHealth(ai)
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		table:      deps.Table,
		sources:    deps.Sources,
		exec:       deps.Executor,
		stage:      stage,
		sessions:   deps.Sessions,
		quota:      deps.Quota,
		reports:    deps.Reports,
		publisher:  deps.Publisher,
		topic:      deps.Topic,
		events:     deps.Events,
		ids:        deps.IDs,
		clock:      deps.Clock,
		logger:     logger,
		tracer:     otel.Tracer("github.com/JakeFAU/company-research/internal/orchestrator"),
		refCompany: refCompany,
		refDomain:  refDomain,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}, nil
}

// Submit runs a research request synchronously. Validation failures return a
// Failed report together with an error wrapping research.ErrInvalidRequest;
// every other outcome, including provider failures, is reported through the
// returned report.
func (o *Orchestrator) Submit(ctx context.Context, req research.Request) (research.Report, error) {
	started := o.clock.Now()
	req = req.Normalized()
	depth := o.table.Resolve(req.Depth)
	id, err := o.ids.NewID()
	if err != nil {
		return research.Report{}, fmt.Errorf("generate request id: %w", err)
	}
	if err := req.Validate(); err != nil {
		o.logger.Warn("rejected research request", zap.String("request_id", id), zap.Error(err))
		metrics.ObserveRequest(depth, string(research.StatusFailed), 0, 0)
		return aggregate.FailedReport(id, req, depth, err.Error(), started, o.clock.Now()), err
	}
	o.sessions.Register(id, req.Label())
	return o.run(ctx, id, req, depth, started), nil
}

// SubmitAsync registers the request and runs it in the background. The
// returned id can be polled with Progress; the run is detached from ctx.
func (o *Orchestrator) SubmitAsync(_ context.Context, req research.Request) (string, error) {
	started := o.clock.Now()
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return "", err
	}
	depth := o.table.Resolve(req.Depth)
	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	o.sessions.Register(id, req.Label())
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				o.logger.Error("async research crashed", zap.String("request_id", id), zap.Any("panic", rec))
				o.sessions.Finish(id, research.StatusFailed)
			}
		}()
		o.run(o.baseCtx, id, req, depth, started)
	}()
	return id, nil
}

func (o *Orchestrator) run(
	parent context.Context,
	id string,
	req research.Request,
	depth string,
	started time.Time,
) research.Report {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "research.request", trace.WithAttributes(
		attribute.String("research.request_id", id),
		attribute.String("research.depth", depth),
	))
	defer span.End()
	logger := o.logger.With(zap.String("request_id", id), zap.String("depth", depth))

	kinds := o.table.Sources(depth)
	if !o.sessions.Start(id, len(kinds), cancel) {
		return o.canceledReport(id, req, depth, started)
	}
	o.emit(progress.Event{
		RequestID: id,
		TS:        started,
		Stage:     progress.StageRequestStart,
		Company:   req.Label(),
		Depth:     depth,
	})
	logger.Info("research started", zap.Int("tasks", len(kinds)))

	results := o.exec.Run(ctx, req, kinds, &tracker{o: o, id: id})
	if o.sessions.Canceled(id) {
		return o.canceledReport(id, req, depth, started)
	}

	var synthesis map[string]any
	var synthErr error
	if o.table.Includes(depth, research.SourceAIAnalysis) {
		outcome := o.synthesize(ctx, req, aggregate.Merge(results), results)
		synthesis, synthErr = outcome.Payload, outcome.Err
		evt := progress.Event{
			RequestID: id,
			TS:        o.clock.Now(),
			Stage:     progress.StageSynthesisDone,
			Source:    research.SourceAIAnalysis,
			Status:    research.StatusFailed,
		}
		if outcome.Result != nil {
			results = append(results, *outcome.Result)
			o.sessions.TaskFinished(id, *outcome.Result)
			evt = progress.TaskEvent(id, *outcome.Result)
			evt.Stage = progress.StageSynthesisDone
		} else if synthErr != nil {
			evt.Note = synthErr.Error()
		}
		o.emit(evt)
	}

	report := aggregate.Assemble(aggregate.Assembly{
		RequestID:    id,
		Request:      req,
		Depth:        depth,
		Results:      results,
		Synthesis:    synthesis,
		SynthesisErr: synthErr,
		Started:      started,
		Finished:     o.clock.Now(),
	})
	if !o.sessions.Finish(id, report.Status) {
		return o.canceledReport(id, req, depth, started)
	}
	o.emit(progress.Event{
		RequestID: id,
		TS:        report.Timestamp,
		Stage:     progress.StageRequestDone,
		Depth:     depth,
		Status:    report.Status,
		Cost:      report.TotalCost,
		Dur:       report.TotalProcessingTime,
	})
	metrics.ObserveRequest(depth, string(report.Status), report.TotalProcessingTime, report.TotalCost)
	logger.Info("research finished",
		zap.String("status", string(report.Status)),
		zap.Int("sources_used", len(report.SourcesUsed)),
		zap.Int("failed_sources", len(report.FailedSources)),
		zap.Float64("total_cost", report.TotalCost),
	)
	o.persist(ctx, report)
	return report
}

func (o *Orchestrator) synthesize(
	ctx context.Context,
	req research.Request,
	merged map[string]any,
	results []research.TaskResult,
) aggregate.Outcome {
	if o.quota != nil {
		if err := o.quota.Consume(req.UserID, req.Premium); err != nil {
			o.logger.Info("skipping ai synthesis", zap.String("user_id", req.UserID), zap.Error(err))
			return aggregate.Outcome{Err: err}
		}
	}
	return o.stage.Run(ctx, req, merged, results)
}

func (o *Orchestrator) canceledReport(id string, req research.Request, depth string, started time.Time) research.Report {
	now := o.clock.Now()
	metrics.ObserveRequest(depth, string(research.StatusFailed), now.Sub(started), 0)
	return aggregate.FailedReport(id, req, depth, canceledReason, started, now)
}

// persist stores the report and publishes a completion event. Failures are
// logged; the caller still receives the report.
func (o *Orchestrator) persist(ctx context.Context, report research.Report) {
	if o.reports == nil && o.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if o.reports != nil {
		if err := o.reports.SaveReport(ctx, report); err != nil {
			o.logger.Error("save report failed", zap.String("request_id", report.RequestID), zap.Error(err))
		}
	}
	if o.publisher != nil && o.topic != "" {
		evt := CompletionEvent{
			RequestID:     report.RequestID,
			CompanyName:   report.CompanyName,
			Depth:         report.Depth,
			Status:        report.Status,
			TotalCost:     report.TotalCost,
			SourcesUsed:   report.SourcesUsed,
			FailedSources: report.FailedSources,
			Timestamp:     report.Timestamp,
		}
		if _, err := o.publisher.Publish(ctx, o.topic, evt); err != nil {
			o.logger.Error("publish completion failed", zap.String("request_id", report.RequestID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.events != nil {
		o.events.Emit(evt)
	}
}

// Progress returns the current snapshot for a request.
func (o *Orchestrator) Progress(id string) (research.Progress, bool) {
	return o.sessions.Get(id)
}

// Cancel aborts a known request. It reports whether the id was known.
func (o *Orchestrator) Cancel(id string) bool {
	if !o.sessions.Cancel(id) {
		return false
	}
	o.emit(progress.Event{RequestID: id, TS: o.clock.Now(), Stage: progress.StageRequestCanceled})
	return true
}

// ActiveSessions counts requests that have not reached a terminal status.
func (o *Orchestrator) ActiveSessions() int {
	return o.sessions.ActiveCount()
}

// Report loads a persisted report.
func (o *Orchestrator) Report(ctx context.Context, id string) (research.Report, error) {
	if o.reports == nil {
		return research.Report{}, research.ErrNotFound
	}
	report, err := o.reports.GetReport(ctx, id)
	if err != nil {
		return research.Report{}, fmt.Errorf("load report %s: %w", id, err)
	}
	return report, nil
}

// Usage reports the caller's AI quota for today.
func (o *Orchestrator) Usage(userID string, premium bool) (usage.Stats, bool) {
	if o.quota == nil {
		return usage.Stats{}, false
	}
	if userID == "" {
		userID = "default"
	}
	return o.quota.Stats(userID, premium), true
}

// HealthSnapshot returns the health of every registered source.
func (o *Orchestrator) HealthSnapshot() map[research.SourceKind]research.HealthInfo {
	return o.sources.Health()
}

// SourceCatalog describes every registered source.
func (o *Orchestrator) SourceCatalog() []research.SourceInfo {
	return o.sources.Catalog()
}

// SetSourceAvailable toggles a source's manual availability flag. It reports
// false when kind is not registered.
func (o *Orchestrator) SetSourceAvailable(kind research.SourceKind, available bool) bool {
	src, ok := o.sources.Get(kind)
	if !ok {
		return false
	}
	src.SetAvailable(available)
	return true
}

// ResetSourceHealth clears a source's error count so a tripped source is
// tried again.
func (o *Orchestrator) ResetSourceHealth(kind research.SourceKind) bool {
	src, ok := o.sources.Get(kind)
	if !ok {
		return false
	}
	src.ResetHealth()
	o.logger.Info("source health reset", zap.String("source", string(kind)))
	return true
}

// AvailableDepths lists the configured depths in presentation order.
func (o *Orchestrator) AvailableDepths() []string {
	return o.table.Depths()
}

// TestSources probes each registered source once with a reference company
// and reports which ones answered.
func (o *Orchestrator) TestSources(ctx context.Context) map[research.SourceKind]bool {
	kinds := o.sources.Kinds()
	out := make(map[research.SourceKind]bool, len(kinds))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, kind := range kinds {
		src, _ := o.sources.Get(kind)
		wg.Add(1)
		go func(kind research.SourceKind, src *source.Source) {
			defer wg.Done()
			err := src.Check(ctx, o.refCompany, o.refDomain)
			if err != nil {
				o.logger.Warn("source test failed", zap.String("source", string(kind)), zap.Error(err))
			}
			mu.Lock()
			out[kind] = err == nil
			mu.Unlock()
		}(kind, src)
	}
	wg.Wait()
	return out
}

// Close waits for background requests to finish, canceling them if ctx ends
// first.
func (o *Orchestrator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.baseCancel()
		return nil
	case <-ctx.Done():
		o.baseCancel()
		<-done
		return fmt.Errorf("orchestrator close: %w", ctx.Err())
	}
}

type tracker struct {
	o  *Orchestrator
	id string
}

func (t *tracker) TaskStarted(kind research.SourceKind) {
	t.o.sessions.TaskStarted(t.id, kind)
}

func (t *tracker) TaskFinished(result research.TaskResult) {
	t.o.sessions.TaskFinished(t.id, result)
	t.o.emit(progress.TaskEvent(t.id, result))
}
