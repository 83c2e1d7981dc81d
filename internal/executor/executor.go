// Package executor fans a research request out to its selected sources and
// collects the results in completion order.
package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/research"
	"github.com/JakeFAU/company-research/internal/source"
)

// Task executes one source for a company and always yields a result.
type Task interface {
	Execute(ctx context.Context, companyName, companyDomain string) research.TaskResult
}

// Resolver looks up the task registered for a kind.
type Resolver interface {
	Resolve(kind research.SourceKind) (Task, bool)
}

// Tracker observes dispatch and completion of individual tasks.
type Tracker interface {
	TaskStarted(kind research.SourceKind)
	TaskFinished(result research.TaskResult)
}

// FromRegistry adapts a source registry to a Resolver.
func FromRegistry(reg *source.Registry) Resolver {
	return registryResolver{reg: reg}
}

type registryResolver struct {
	reg *source.Registry
}

func (r registryResolver) Resolve(kind research.SourceKind) (Task, bool) {
	src, ok := r.reg.Get(kind)
	if !ok {
		return nil, false
	}
	return src, true
}

// Config tunes the executor.
type Config struct {
	// RequestTimeout bounds the whole fan-out. Zero disables the bound.
	RequestTimeout time.Duration
}

// Executor runs the fan-out/fan-in stage of a research request.
type Executor struct {
	resolver Resolver
	cfg      Config
	clock    research.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New constructs an Executor.
func New(resolver Resolver, cfg Config, clock research.Clock, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &Executor{
		resolver: resolver,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		tracer:   otel.Tracer("github.com/JakeFAU/company-research/internal/executor"),
	}
}

// Run dispatches one goroutine per kind, skipping the AI analysis stage which
// runs after aggregation. Results are returned in completion order. Tasks do
// not cancel their siblings; a failure in one source never aborts the others.
func (e *Executor) Run(
	ctx context.Context,
	req research.Request,
	kinds []research.SourceKind,
	tracker Tracker,
) []research.TaskResult {
	if tracker == nil {
		tracker = nopTracker{}
	}
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "research.fanout", trace.WithAttributes(
		attribute.Int("research.tasks", len(kinds)),
	))
	defer span.End()

	results := make(chan research.TaskResult, len(kinds))
	pending := make(map[research.SourceKind]int, len(kinds))
	dispatched := 0
	for _, kind := range kinds {
		if kind == research.SourceAIAnalysis {
			continue
		}
		tracker.TaskStarted(kind)
		dispatched++
		pending[kind]++
		task, ok := e.resolver.Resolve(kind)
		if !ok {
			results <- e.failed(kind, "no source registered for "+string(kind))
			continue
		}
		go e.runTask(ctx, task, kind, req, results)
	}

	out := make([]research.TaskResult, 0, dispatched)
	collect := func(result research.TaskResult) {
		pending[result.Source]--
		if pending[result.Source] == 0 {
			delete(pending, result.Source)
		}
		tracker.TaskFinished(result)
		out = append(out, result)
	}
	for len(out) < dispatched {
		select {
		case result := <-results:
			collect(result)
		case <-ctx.Done():
			e.drain(ctx, results, pending, collect)
			return out
		}
	}
	return out
}

// drain collects results that are already available and synthesizes failures
// for tasks still running after the request context ended.
func (e *Executor) drain(
	ctx context.Context,
	results <-chan research.TaskResult,
	pending map[research.SourceKind]int,
	collect func(research.TaskResult),
) {
	for len(pending) > 0 {
		select {
		case result := <-results:
			collect(result)
		default:
			kinds := make([]research.SourceKind, 0, len(pending))
			for kind := range pending {
				kinds = append(kinds, kind)
			}
			sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
			msg := fmt.Sprintf("request aborted: %v", ctx.Err())
			for _, kind := range kinds {
				for n := pending[kind]; n > 0; n-- {
					e.logger.Warn("task abandoned", zap.String("source", string(kind)), zap.Error(ctx.Err()))
					collect(e.failed(kind, msg))
				}
			}
			return
		}
	}
}

func (e *Executor) runTask(
	ctx context.Context,
	task Task,
	kind research.SourceKind,
	req research.Request,
	results chan<- research.TaskResult,
) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("task panicked", zap.String("source", string(kind)), zap.Any("panic", rec))
			results <- e.failed(kind, fmt.Sprintf("task crashed: %v", rec))
		}
	}()
	results <- task.Execute(ctx, req.CompanyName, req.CompanyDomain)
}

func (e *Executor) failed(kind research.SourceKind, msg string) research.TaskResult {
	return research.TaskResult{
		Source:    kind,
		Status:    research.StatusFailed,
		Error:     msg,
		Timestamp: e.clock.Now(),
	}
}

type nopTracker struct{}

func (nopTracker) TaskStarted(research.SourceKind)  {}
func (nopTracker) TaskFinished(research.TaskResult) {}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
