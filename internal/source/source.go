// Package source implements the provider contract and the resilience wrapper
// shared by every research source: health gating, bounded retries with
// exponential backoff, per-call timeouts, optional throttling, and health
// bookkeeping for diagnostics.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/company-research/internal/metrics"
	"github.com/JakeFAU/company-research/internal/research"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryDelayBase = time.Second
	defaultCallTimeout    = 30 * time.Second
	tracerName            = "github.com/JakeFAU/company-research/internal/source"
)

// Prober is implemented by every concrete provider. Probe may fail for any
// reason; the wrapper turns failures into task results.
type Prober interface {
	Kind() research.SourceKind
	Probe(ctx context.Context, companyName, companyDomain string) (map[string]any, error)
	CostEstimate() float64
	Healthy() bool
	HasCredentials() bool
}

// Describer optionally supplies a catalog description.
type Describer interface {
	Description() string
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config controls retry and throttling behavior for one source.
type Config struct {
	MaxAttempts    int
	RetryDelayBase time.Duration
	CallTimeout    time.Duration
	RateLimit      float64
	RateBurst      int
	// FailureThreshold marks the source unhealthy once this many consecutive
	// requests have failed; zero never trips. ResetHealth clears it.
	FailureThreshold int
}

// Option customizes a Source.
type Option func(*Source)

// WithClock overrides the clock used for timestamps.
func WithClock(clock research.Clock) Option {
	return func(s *Source) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSleep overrides the backoff sleep, mainly for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(s *Source) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Source wraps a Prober with the resilience policy. It is safe for concurrent
// use; health counters are guarded by mu.
type Source struct {
	prober  Prober
	cfg     Config
	clock   research.Clock
	sleep   SleepFunc
	limiter *rate.Limiter
	logger  *zap.Logger
	tracer  trace.Tracer

	mu         sync.Mutex
	available  bool
	lastUsed   *time.Time
	errorCount int
}

// New builds a Source around the provided Prober.
func New(prober Prober, cfg Config, opts ...Option) *Source {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = defaultRetryDelayBase
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	s := &Source{
		prober:    prober,
		cfg:       cfg,
		clock:     wallClock{},
		sleep:     sleepContext,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		available: true,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("source", string(prober.Kind())))
	return s
}

// Kind returns the wrapped provider kind.
func (s *Source) Kind() research.SourceKind {
	return s.prober.Kind()
}

// CostEstimate returns the per-call cost of the wrapped provider. Negative
// estimates read as zero, so report totals can sum results as-is.
func (s *Source) CostEstimate() float64 {
	return max(0, s.prober.CostEstimate())
}

// Description returns the provider description if it offers one.
func (s *Source) Description() string {
	if d, ok := s.prober.(Describer); ok {
		return d.Description()
	}
	return "No description available"
}

// Healthy is a cheap local check: the provider reports itself healthy, the
// source has not been manually disabled and it is under its failure
// threshold. It says nothing about reachability.
func (s *Source) Healthy() bool {
	s.mu.Lock()
	ok := s.available && !s.trippedLocked()
	s.mu.Unlock()
	return ok && s.prober.Healthy()
}

func (s *Source) trippedLocked() bool {
	return s.cfg.FailureThreshold > 0 && s.errorCount >= s.cfg.FailureThreshold
}

// Available reports the manual availability flag.
func (s *Source) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// SetAvailable toggles the manual availability flag.
func (s *Source) SetAvailable(available bool) {
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
	if available {
		s.logger.Info("source marked available")
	} else {
		s.logger.Warn("source marked unavailable")
	}
}

// ResetHealth clears the error counter and last-used timestamp.
func (s *Source) ResetHealth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount = 0
	s.lastUsed = nil
}

// Health returns the diagnostic view of this source.
func (s *Source) Health() research.HealthInfo {
	healthy := s.Healthy()
	s.mu.Lock()
	defer s.mu.Unlock()
	var lastUsed *time.Time
	if s.lastUsed != nil {
		ts := *s.lastUsed
		lastUsed = &ts
	}
	return research.HealthInfo{
		Kind:           s.prober.Kind(),
		IsAvailable:    s.available,
		IsHealthy:      healthy,
		LastUsed:       lastUsed,
		ErrorCount:     s.errorCount,
		HasCredentials: s.prober.HasCredentials(),
	}
}

// Info returns the catalog entry for this source.
func (s *Source) Info() research.SourceInfo {
	return research.SourceInfo{
		Kind:        s.prober.Kind(),
		Description: s.Description(),
		CostPerCall: s.CostEstimate(),
		IsHealthy:   s.Healthy(),
		IsAvailable: s.Available(),
	}
}

// Execute runs the provider under the resilience policy. It never panics and
// always returns a task result; failures are reported through the result's
// status and error message.
func (s *Source) Execute(ctx context.Context, companyName, companyDomain string) (result research.TaskResult) {
	start := time.Now()
	kind := s.prober.Kind()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("unexpected source failure", zap.Any("panic", rec))
			result = s.failed(fmt.Sprintf("unexpected error: %v", rec), time.Since(start), 0)
		}
		metrics.ObserveTask(string(kind), string(result.Status), result.ProcessingTime)
	}()

	if !s.Healthy() {
		return s.failed(research.ErrUnhealthy.Error(), time.Since(start), 0)
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		data, err := s.attempt(ctx, companyName, companyDomain, attempt)
		if err == nil {
			s.recordSuccess()
			return research.TaskResult{
				Source:         kind,
				Status:         research.StatusCompleted,
				Data:           data,
				ProcessingTime: time.Since(start),
				CostEstimate:   s.CostEstimate(),
				Timestamp:      s.clock.Now(),
			}
		}
		lastErr = err
		s.logger.Warn("source attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.cfg.MaxAttempts),
			zap.Error(err),
		)
		if ctx.Err() != nil || attempt == s.cfg.MaxAttempts-1 {
			break
		}
		if err := s.sleep(ctx, s.Backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	s.recordFailure()
	s.logger.Error("all attempts failed", zap.Error(lastErr))
	return s.failed(lastErr.Error(), time.Since(start), s.CostEstimate())
}

// Record updates health bookkeeping for a call made outside Execute, such as
// the single-shot synthesis step: nil counts as a success.
func (s *Source) Record(err error) {
	if err != nil {
		s.recordFailure()
		return
	}
	s.recordSuccess()
}

// Check probes the provider once, bypassing retries and health bookkeeping.
// It is used for on-demand connectivity tests.
func (s *Source) Check(ctx context.Context, companyName, companyDomain string) error {
	if !s.Healthy() {
		return research.ErrUnhealthy
	}
	_, err := s.attempt(ctx, companyName, companyDomain, 0)
	return err
}

// Backoff returns the delay after failed attempt k (0-indexed):
// RetryDelayBase * 2^k.
func (s *Source) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return s.cfg.RetryDelayBase * time.Duration(int64(1)<<uint(attempt))
}

func (s *Source) attempt(
	ctx context.Context,
	companyName string,
	companyDomain string,
	attempt int,
) (data map[string]any, err error) {
	kind := string(s.prober.Kind())
	ctx, span := s.tracer.Start(ctx, "source.probe", trace.WithAttributes(
		attribute.String("research.source", kind),
		attribute.Int("research.attempt", attempt+1),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.ObserveAttempt(kind, "error")
		} else {
			metrics.ObserveAttempt(kind, "success")
		}
		span.End()
	}()

	if err := s.waitForToken(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			data = nil
			err = fmt.Errorf("provider panic: %v", rec)
		}
	}()
	data, err = s.prober.Probe(callCtx, companyName, companyDomain)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func (s *Source) waitForToken(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(string(s.prober.Kind()), waited)
	}
	return nil
}

func (s *Source) recordSuccess() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount = 0
	s.lastUsed = &now
}

func (s *Source) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
}

func (s *Source) failed(msg string, elapsed time.Duration, cost float64) research.TaskResult {
	return research.TaskResult{
		Source:         s.prober.Kind(),
		Status:         research.StatusFailed,
		Error:          msg,
		ProcessingTime: elapsed,
		CostEstimate:   cost,
		Timestamp:      s.clock.Now(),
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// IsUnhealthy reports whether a failed result was short-circuited by the
// health gate.
func IsUnhealthy(result research.TaskResult) bool {
	return result.Status == research.StatusFailed && result.Error == research.ErrUnhealthy.Error()
}
