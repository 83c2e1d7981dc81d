package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-research/internal/research"
)

type fakeProber struct {
	kind      research.SourceKind
	cost      float64
	healthy   bool
	failFirst int
	panicOn   int
	calls     atomic.Int32
	data      map[string]any
}

func (f *fakeProber) Kind() research.SourceKind { return f.kind }
func (f *fakeProber) CostEstimate() float64     { return f.cost }
func (f *fakeProber) Healthy() bool             { return f.healthy }
func (f *fakeProber) HasCredentials() bool      { return true }

func (f *fakeProber) Probe(ctx context.Context, _, _ string) (map[string]any, error) {
	n := int(f.calls.Add(1))
	if f.panicOn == n {
		panic("boom")
	}
	if n <= f.failFirst {
		return nil, errors.New("transient failure")
	}
	return f.data, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestSource(p *fakeProber, rec *sleepRecorder) *Source {
	return New(p, Config{MaxAttempts: 3, RetryDelayBase: time.Second}, WithSleep(rec.sleep))
}

func TestExecuteUnhealthyMakesNoCalls(t *testing.T) {
	t.Parallel()

	p := &fakeProber{kind: research.SourceDomainRegistry, healthy: false, cost: 0.01}
	rec := &sleepRecorder{}
	src := newTestSource(p, rec)

	result := src.Execute(context.Background(), "Acme", "acme.io")
	require.Equal(t, research.StatusFailed, result.Status)
	require.Equal(t, "service unhealthy", result.Error)
	require.Zero(t, p.calls.Load())
	require.Zero(t, result.CostEstimate)
	require.True(t, IsUnhealthy(result))
	require.Empty(t, rec.delays)
}

func TestExecuteRetriesWithExponentialBackoff(t *testing.T) {
	t.Parallel()

	p := &fakeProber{
		kind:      research.SourceWebSearch,
		healthy:   true,
		cost:      0.05,
		failFirst: 2,
		data:      map[string]any{"hits": 3},
	}
	rec := &sleepRecorder{}
	src := newTestSource(p, rec)

	result := src.Execute(context.Background(), "Acme", "")
	require.Equal(t, research.StatusCompleted, result.Status)
	require.Equal(t, 3, result.Data["hits"])
	require.InDelta(t, 0.05, result.CostEstimate, 1e-9)
	require.EqualValues(t, 3, p.calls.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)

	health := src.Health()
	require.Zero(t, health.ErrorCount)
	require.NotNil(t, health.LastUsed)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	t.Parallel()

	p := &fakeProber{kind: research.SourceKnowledgeGraph, healthy: true, failFirst: 10}
	rec := &sleepRecorder{}
	src := newTestSource(p, rec)

	result := src.Execute(context.Background(), "Acme", "")
	require.Equal(t, research.StatusFailed, result.Status)
	require.Equal(t, "transient failure", result.Error)
	require.EqualValues(t, 3, p.calls.Load())
	require.Len(t, rec.delays, 2)
	require.Equal(t, 1, src.Health().ErrorCount)

	src.ResetHealth()
	require.Zero(t, src.Health().ErrorCount)
}

func TestExecuteRecoversProviderPanic(t *testing.T) {
	t.Parallel()

	p := &fakeProber{kind: research.SourceWebSearch, healthy: true, panicOn: 1, data: map[string]any{"ok": true}}
	rec := &sleepRecorder{}
	src := newTestSource(p, rec)

	result := src.Execute(context.Background(), "Acme", "")
	require.Equal(t, research.StatusCompleted, result.Status)
	require.EqualValues(t, 2, p.calls.Load())
}

func TestExecuteStopsOnCancellation(t *testing.T) {
	t.Parallel()

	p := &fakeProber{kind: research.SourceWebSearch, healthy: true, failFirst: 10}
	rec := &sleepRecorder{}
	src := newTestSource(p, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := src.Execute(ctx, "Acme", "")
	require.Equal(t, research.StatusFailed, result.Status)
	require.EqualValues(t, 1, p.calls.Load())
	require.Empty(t, rec.delays)
}

func TestSetAvailableGatesExecution(t *testing.T) {
	t.Parallel()

	p := &fakeProber{kind: research.SourceWebSearch, healthy: true}
	src := newTestSource(p, &sleepRecorder{})
	src.SetAvailable(false)
	require.False(t, src.Healthy())
	require.Equal(t, research.StatusFailed, src.Execute(context.Background(), "Acme", "").Status)

	src.SetAvailable(true)
	require.Equal(t, research.StatusCompleted, src.Execute(context.Background(), "Acme", "").Status)
}

func TestBackoffDoubles(t *testing.T) {
	t.Parallel()

	src := New(&fakeProber{kind: research.SourceWebSearch}, Config{RetryDelayBase: 500 * time.Millisecond})
	require.Equal(t, 500*time.Millisecond, src.Backoff(0))
	require.Equal(t, time.Second, src.Backoff(1))
	require.Equal(t, 2*time.Second, src.Backoff(2))
}

func TestRegistryOrdersAndRejectsDuplicates(t *testing.T) {
	t.Parallel()

	web := New(&fakeProber{kind: research.SourceWebSearch, healthy: true}, Config{})
	whois := New(&fakeProber{kind: research.SourceDomainRegistry, healthy: true}, Config{})

	reg, err := NewRegistry(web, whois)
	require.NoError(t, err)
	require.Equal(t, []research.SourceKind{research.SourceDomainRegistry, research.SourceWebSearch}, reg.Kinds())
	require.Len(t, reg.Catalog(), 2)
	require.Equal(t, "No description available", reg.Catalog()[0].Description)
	require.Len(t, reg.Health(), 2)

	_, err = NewRegistry(web, New(&fakeProber{kind: research.SourceWebSearch}, Config{}))
	require.Error(t, err)
}

func TestCheckProbesOnce(t *testing.T) {
	t.Parallel()

	p := &fakeProber{kind: research.SourceWebSearch, healthy: true, failFirst: 1}
	rec := &sleepRecorder{}
	src := newTestSource(p, rec)

	require.Error(t, src.Check(context.Background(), "Google", "google.com"))
	require.EqualValues(t, 1, p.calls.Load())
	require.NoError(t, src.Check(context.Background(), "Google", "google.com"))
	require.Empty(t, rec.delays)
	require.Zero(t, src.Health().ErrorCount)

	src.SetAvailable(false)
	require.ErrorIs(t, src.Check(context.Background(), "Google", "google.com"), research.ErrUnhealthy)
}

func TestFailureThresholdCountsRequestsNotAttempts(t *testing.T) {
	t.Parallel()

	p := &fakeProber{kind: research.SourcePortfolioResearch, healthy: true, failFirst: 1000}
	rec := &sleepRecorder{}
	src := New(p, Config{MaxAttempts: 3, RetryDelayBase: time.Second, FailureThreshold: 5}, WithSleep(rec.sleep))

	for i := 0; i < 4; i++ {
		result := src.Execute(context.Background(), "Acme", "acme.io")
		require.Equal(t, "transient failure", result.Error)
	}
	require.True(t, src.Healthy())
	require.Equal(t, 4, src.Health().ErrorCount)
	require.EqualValues(t, 12, p.calls.Load())

	src.Execute(context.Background(), "Acme", "acme.io")
	require.False(t, src.Healthy())
	require.False(t, src.Health().IsHealthy)

	result := src.Execute(context.Background(), "Acme", "acme.io")
	require.True(t, IsUnhealthy(result))
	require.EqualValues(t, 15, p.calls.Load())

	src.ResetHealth()
	require.True(t, src.Healthy())
	result = src.Execute(context.Background(), "Acme", "acme.io")
	require.False(t, IsUnhealthy(result))
	require.EqualValues(t, 18, p.calls.Load())
}

func TestRecordUpdatesHealth(t *testing.T) {
	t.Parallel()

	src := New(&fakeProber{kind: research.SourceAIAnalysis, healthy: true}, Config{FailureThreshold: 2})

	src.Record(errors.New("bad completion"))
	health := src.Health()
	require.Equal(t, 1, health.ErrorCount)
	require.Nil(t, health.LastUsed)

	src.Record(nil)
	health = src.Health()
	require.Zero(t, health.ErrorCount)
	require.NotNil(t, health.LastUsed)

	src.Record(errors.New("one"))
	src.Record(errors.New("two"))
	require.False(t, src.Healthy())
}

func TestNegativeCostReadsAsZero(t *testing.T) {
	t.Parallel()

	p := &fakeProber{kind: research.SourceWebSearch, healthy: true, cost: -0.5}
	src := newTestSource(p, &sleepRecorder{})

	require.Zero(t, src.CostEstimate())
	require.Zero(t, src.Info().CostPerCall)
	result := src.Execute(context.Background(), "Acme", "")
	require.Equal(t, research.StatusCompleted, result.Status)
	require.Zero(t, result.CostEstimate)
}
