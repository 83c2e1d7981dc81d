package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-research/internal/research"
)

func completed(kind research.SourceKind, cost float64) research.TaskResult {
	return research.TaskResult{
		Source:       kind,
		Status:       research.StatusCompleted,
		Data:         map[string]any{"source": string(kind)},
		CostEstimate: cost,
	}
}

func failed(kind research.SourceKind, cost float64) research.TaskResult {
	return research.TaskResult{Source: kind, Status: research.StatusFailed, Error: "down", CostEstimate: cost}
}

func TestMergeSkipsFailedTasks(t *testing.T) {
	t.Parallel()

	merged := Merge([]research.TaskResult{
		completed(research.SourceWebSearch, 0.05),
		failed(research.SourceDomainRegistry, 0),
	})
	require.Len(t, merged, 1)
	require.Contains(t, merged, "web_search")
}

func TestAssembleStatuses(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Second)

	cases := []struct {
		name    string
		results []research.TaskResult
		want    research.Status
	}{
		{"all completed", []research.TaskResult{completed(research.SourceWebSearch, 0.05)}, research.StatusCompleted},
		{"mixed", []research.TaskResult{
			completed(research.SourceWebSearch, 0.05),
			failed(research.SourceDomainRegistry, 0),
		}, research.StatusPartial},
		{"all failed", []research.TaskResult{failed(research.SourceWebSearch, 0.05)}, research.StatusFailed},
		{"nothing selected", nil, research.StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			report := Assemble(Assembly{
				RequestID: "r",
				Request:   research.Request{CompanyName: "Acme"},
				Depth:     "standard",
				Results:   tc.results,
				Started:   start,
				Finished:  end,
			})
			require.Equal(t, tc.want, report.Status)
			require.Equal(t, 3*time.Second, report.TotalProcessingTime)
			for _, used := range report.SourcesUsed {
				require.NotContains(t, report.FailedSources, used)
			}
			require.InDelta(t, TotalCost(tc.results), report.TotalCost, 1e-9)
		})
	}
}

func TestAssemblePopulatesPayloadsAndFallbacks(t *testing.T) {
	t.Parallel()

	report := Assemble(Assembly{
		RequestID: "r",
		Request:   research.Request{CompanyDomain: "acme.io"},
		Depth:     "comprehensive",
		Results: []research.TaskResult{
			completed(research.SourceDomainRegistry, 0),
			completed(research.SourceWebSearch, 0.05),
			failed(research.SourceKnowledgeGraph, 0),
		},
		SynthesisErr: errors.New("model overloaded"),
	})
	require.Equal(t, "acme.io", report.CompanyName)
	require.NotNil(t, report.DomainRegistry)
	require.NotNil(t, report.WebSearch)
	require.Nil(t, report.KnowledgeGraph)
	require.Equal(t, FallbackSummary, report.ExecutiveSummary)
	require.Equal(t, FallbackInsights(), report.KeyInsights)
	require.Equal(t, FallbackRisk, report.RiskAssessment)
	require.Equal(t, FallbackRecommendations(), report.Recommendations)
	require.Equal(t, "model overloaded", report.SynthesisError)
	require.Nil(t, report.AIAnalysis)
}

func TestAssemblePromotesSynthesisFields(t *testing.T) {
	t.Parallel()

	report := Assemble(Assembly{
		Request: research.Request{CompanyName: "Acme"},
		Results: []research.TaskResult{completed(research.SourceWebSearch, 0.05)},
		Synthesis: map[string]any{
			"executive_summary":    "Acme is real.",
			"key_insights":         []any{"growing", "profitable"},
			"risk_assessment":      "low",
			"recommendations":      []string{"apply"},
			"company_growth":       map[string]any{"trend": "up"},
			"authenticity_score":   87.5,
			"company_authenticity": map[string]any{"verified": true},
		},
	})
	require.Equal(t, "Acme is real.", report.ExecutiveSummary)
	require.Equal(t, []string{"growing", "profitable"}, report.KeyInsights)
	require.Equal(t, "low", report.RiskAssessment)
	require.Equal(t, []string{"apply"}, report.Recommendations)
	require.Equal(t, "up", report.CompanyGrowth["trend"])
	require.Equal(t, true, report.CompanyAuthenticity["verified"])
	require.InDelta(t, 87.5, report.AuthenticityScore, 1e-9)
	require.NotNil(t, report.AIAnalysis)
}

func TestTotalCostSumsEveryResult(t *testing.T) {
	t.Parallel()

	results := []research.TaskResult{
		{Source: research.SourceWebSearch, Status: research.StatusCompleted, CostEstimate: 0.05},
		{Source: research.SourceKnowledgeGraph, Status: research.StatusFailed, CostEstimate: 0.01},
		{Source: research.SourceDomainRegistry, Status: research.StatusCompleted},
		{Source: research.SourceAIAnalysis, Status: research.StatusCompleted, CostEstimate: 0.02},
	}
	require.InDelta(t, 0.08, TotalCost(results), 1e-9)
	require.Zero(t, TotalCost(nil))
}

func TestFailedReport(t *testing.T) {
	t.Parallel()

	now := time.Now()
	report := FailedReport("r", research.Request{}, "standard", "canceled", now, now)
	require.Equal(t, research.StatusFailed, report.Status)
	require.Equal(t, "Unknown Company", report.CompanyName)
	require.Equal(t, "Research failed: canceled", report.ExecutiveSummary)
	require.Empty(t, report.SourcesUsed)
	require.Empty(t, report.TaskResults)
	require.Zero(t, report.TotalCost)
}

type fakeSynth struct {
	healthy bool
	err     error
	panics  bool
	calls   int
}

func (f *fakeSynth) Synthesize(context.Context, research.Request, map[string]any, []research.TaskResult) (map[string]any, error) {
	f.calls++
	if f.panics {
		panic("model exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"executive_summary": "ok"}, nil
}
func (f *fakeSynth) CostEstimate() float64 { return 0.02 }
func (f *fakeSynth) Healthy() bool         { return f.healthy }

func TestStageRun(t *testing.T) {
	t.Parallel()

	ok := &fakeSynth{healthy: true}
	out := NewStage(ok, nil, nil).Run(context.Background(), research.Request{CompanyName: "Acme"}, nil, nil)
	require.NoError(t, out.Err)
	require.NotNil(t, out.Result)
	require.Equal(t, research.SourceAIAnalysis, out.Result.Source)
	require.InDelta(t, 0.02, out.Result.CostEstimate, 1e-9)
	require.Equal(t, "ok", out.Payload["executive_summary"])

	failing := &fakeSynth{healthy: true, err: errors.New("429")}
	out = NewStage(failing, nil, nil).Run(context.Background(), research.Request{}, nil, nil)
	require.Error(t, out.Err)
	require.Nil(t, out.Result)
	require.Equal(t, 1, failing.calls)

	panicky := &fakeSynth{healthy: true, panics: true}
	out = NewStage(panicky, nil, nil).Run(context.Background(), research.Request{}, nil, nil)
	require.ErrorContains(t, out.Err, "model exploded")

	sick := &fakeSynth{healthy: false}
	out = NewStage(sick, nil, nil).Run(context.Background(), research.Request{}, nil, nil)
	require.ErrorIs(t, out.Err, research.ErrUnhealthy)
	require.Zero(t, sick.calls)

	out = NewStage(nil, nil, nil).Run(context.Background(), research.Request{}, nil, nil)
	require.Error(t, out.Err)
}

type fakeTracker struct {
	healthy  bool
	failures int
	success  int
}

func (f *fakeTracker) Healthy() bool { return f.healthy }

func (f *fakeTracker) Record(err error) {
	if err != nil {
		f.failures++
		return
	}
	f.success++
}

func TestStageRecordsHealth(t *testing.T) {
	t.Parallel()

	tracker := &fakeTracker{healthy: true}
	synth := &fakeSynth{healthy: true}
	stage := NewStage(synth, nil, nil).WithHealth(tracker)

	out := stage.Run(context.Background(), research.Request{CompanyName: "Acme"}, nil, nil)
	require.NoError(t, out.Err)
	require.Equal(t, 1, tracker.success)

	synth.err = errors.New("429")
	out = stage.Run(context.Background(), research.Request{}, nil, nil)
	require.Error(t, out.Err)
	require.Equal(t, 1, tracker.failures)
	require.Equal(t, 2, synth.calls)

	synth.err = nil
	synth.panics = true
	out = stage.Run(context.Background(), research.Request{}, nil, nil)
	require.ErrorContains(t, out.Err, "model exploded")
	require.Equal(t, 2, tracker.failures)

	tracker.healthy = false
	synth.panics = false
	out = stage.Run(context.Background(), research.Request{}, nil, nil)
	require.ErrorIs(t, out.Err, research.ErrUnhealthy)
	require.Equal(t, 3, synth.calls)
	require.Equal(t, 2, tracker.failures)
}
