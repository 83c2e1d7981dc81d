// Package session tracks in-flight research requests so clients can poll
// progress, cancel work, and observe final state for a grace period after
// completion.
package session

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/metrics"
	"github.com/JakeFAU/company-research/internal/research"
)

// DefaultGracePeriod is how long terminal entries remain visible.
const DefaultGracePeriod = 300 * time.Second

const maxInFlightProgress = 99.0

type entry struct {
	progress research.Progress
	total    int
	done     int
	cancel   context.CancelFunc
	frozen   bool
	evict    *time.Timer
}

// Registry is a mutex-guarded map of request id to progress. It is constructed
// once at startup, shared by all requests, and closed at shutdown.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	grace   time.Duration
	clock   research.Clock
	logger  *zap.Logger
	closed  bool
}

// Option customizes a Registry.
type Option func(*Registry)

// WithGracePeriod overrides the eviction delay for terminal entries.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(clock research.Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		grace:   DefaultGracePeriod,
		clock:   utcClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records a new request in Pending status.
func (r *Registry) Register(id, label string) research.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{progress: research.Progress{
		RequestID:      id,
		CompanyName:    label,
		Status:         research.StatusPending,
		CompletedTasks: []research.SourceKind{},
		FailedTasks:    []research.SourceKind{},
		UpdatedAt:      r.clock.Now(),
	}}
	r.entries[id] = e
	r.publishActiveLocked()
	return e.progress.Clone()
}

// Start moves a request to InProgress with total expected tasks. The cancel
// func is invoked if the request is later canceled. Start reports false, and
// cancels immediately, when the request was canceled before it started.
func (r *Registry) Start(id string, total int, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{progress: research.Progress{
			RequestID:      id,
			CompletedTasks: []research.SourceKind{},
			FailedTasks:    []research.SourceKind{},
		}}
		r.entries[id] = e
	}
	if e.frozen {
		if cancel != nil {
			cancel()
		}
		return false
	}
	if total < 1 {
		total = 1
	}
	e.total = total
	e.cancel = cancel
	e.progress.Status = research.StatusInProgress
	e.progress.UpdatedAt = r.clock.Now()
	r.publishActiveLocked()
	return true
}

// TaskStarted records the most recently dispatched task. The value is best
// effort under concurrency.
func (r *Registry) TaskStarted(id string, kind research.SourceKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(id)
	if !ok {
		return
	}
	e.progress.CurrentTask = kind
	e.progress.UpdatedAt = r.clock.Now()
}

// TaskFinished folds a task result into the request's progress. Progress
// stays below 100 until Finish is called.
func (r *Registry) TaskFinished(id string, result research.TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(id)
	if !ok {
		return
	}
	e.done++
	e.progress.CompletedTasks = append(e.progress.CompletedTasks, result.Source)
	if result.Status == research.StatusFailed {
		e.progress.FailedTasks = append(e.progress.FailedTasks, result.Source)
	}
	pct := math.Min(maxInFlightProgress, float64(e.done)/float64(e.total)*100)
	if pct > e.progress.OverallProgress {
		e.progress.OverallProgress = pct
	}
	e.progress.CurrentTask = result.Source
	e.progress.UpdatedAt = r.clock.Now()
}

// Finish marks the request terminal with 100% progress and schedules
// eviction. Canceled requests keep their canceled state.
func (r *Registry) Finish(id string, status research.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(id)
	if !ok {
		return false
	}
	if !status.Terminal() {
		status = research.StatusFailed
	}
	e.progress.Status = status
	e.progress.OverallProgress = 100
	e.progress.CurrentTask = ""
	e.progress.UpdatedAt = r.clock.Now()
	e.cancel = nil
	r.scheduleEvictionLocked(id, e)
	r.publishActiveLocked()
	return true
}

// Get returns a snapshot of the request's progress.
func (r *Registry) Get(id string) (research.Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return research.Progress{}, false
	}
	return e.progress.Clone(), true
}

// Cancel marks a known request Failed with 0% progress, aborts its in-flight
// provider calls, and ignores any later task updates. It reports whether the
// id was known.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.frozen = true
	e.progress.Status = research.StatusFailed
	e.progress.OverallProgress = 0
	e.progress.CurrentTask = ""
	e.progress.UpdatedAt = r.clock.Now()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	r.scheduleEvictionLocked(id, e)
	r.publishActiveLocked()
	r.logger.Info("research request canceled", zap.String("request_id", id))
	return true
}

// Canceled reports whether the request was canceled.
func (r *Registry) Canceled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.frozen
}

// ActiveCount returns the number of non-terminal requests.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// Close stops pending eviction timers and cancels in-flight requests.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, e := range r.entries {
		if e.evict != nil {
			e.evict.Stop()
		}
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
	}
}

func (r *Registry) live(id string) (*entry, bool) {
	e, ok := r.entries[id]
	if !ok || e.frozen || e.progress.Status.Terminal() {
		return nil, false
	}
	return e, true
}

func (r *Registry) scheduleEvictionLocked(id string, e *entry) {
	if r.closed || e.evict != nil {
		return
	}
	e.evict = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.entries[id]; ok && cur == e {
			delete(r.entries, id)
			r.logger.Debug("evicted research session", zap.String("request_id", id))
		}
	})
}

func (r *Registry) activeLocked() int {
	n := 0
	for _, e := range r.entries {
		if !e.progress.Status.Terminal() {
			n++
		}
	}
	return n
}

func (r *Registry) publishActiveLocked() {
	metrics.SetActiveSessions(r.activeLocked())
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
