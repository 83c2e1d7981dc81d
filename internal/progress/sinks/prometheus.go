package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/company-research/internal/progress"
	"github.com/JakeFAU/company-research/internal/research"
)

// PrometheusSink exports research lifecycle metrics via Prometheus. It owns
// the collectors for requests started/finished/running and per-source task
// outcomes derived from the event stream.
type PrometheusSink struct {
	requestsStarted  prometheus.Counter
	requestsFinished *prometheus.CounterVec
	requestsRunning  prometheus.Gauge
	requestRuntime   *prometheus.HistogramVec

	tasks        *prometheus.CounterVec
	taskCost     *prometheus.CounterVec
	synthesis    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	tracker *requestTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		requestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "research_events_requests_started_total",
			Help: "Research requests that have started.",
		}),
		requestsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_events_requests_finished_total",
			Help: "Research requests finished, partitioned by outcome.",
		}, []string{"result"}),
		requestsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "research_events_requests_running",
			Help: "Research requests currently in flight.",
		}),
		requestRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_events_request_runtime_seconds",
			Help:    "Wall time per finished research request.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_events_tasks_total",
			Help: "Task completions partitioned by source and status.",
		}, []string{"source", "status"}),
		taskCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_events_task_cost_total",
			Help: "Accumulated provider cost per source.",
		}, []string{"source"}),
		synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_events_synthesis_total",
			Help: "AI synthesis runs partitioned by status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_events_task_duration_seconds",
			Help:    "Task duration partitioned by source and status.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source", "status"}),
		tracker: newRequestTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.requestsStarted,
		s.requestsFinished,
		s.requestsRunning,
		s.requestRuntime,
		s.tasks,
		s.taskCost,
		s.synthesis,
		s.taskDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRequestStart:
		s.requestsStarted.Inc()
		if s.tracker.start(evt.RequestID) {
			s.requestsRunning.Inc()
		}
	case progress.StageRequestDone:
		s.finish(evt, string(evt.Status))
	case progress.StageRequestCanceled:
		s.finish(evt, "canceled")
	case progress.StageTaskDone:
		s.handleTaskEvent(evt)
	case progress.StageSynthesisDone:
		s.synthesis.WithLabelValues(string(evt.Status)).Inc()
		s.handleTaskEvent(evt)
	}
}

func (s *PrometheusSink) finish(evt progress.Event, label string) {
	s.requestsFinished.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.requestRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RequestID) {
		s.requestsRunning.Dec()
	}
}

func (s *PrometheusSink) handleTaskEvent(evt progress.Event) {
	source := string(evt.Source)
	status := string(evt.Status)
	if status == "" {
		status = string(research.StatusFailed)
	}
	s.tasks.WithLabelValues(source, status).Inc()
	if evt.Cost > 0 {
		s.taskCost.WithLabelValues(source).Add(evt.Cost)
	}
	if evt.Dur > 0 {
		s.taskDuration.WithLabelValues(source, status).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type requestTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRequestTracker() *requestTracker {
	return &requestTracker{running: make(map[string]struct{})}
}

func (t *requestTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *requestTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
