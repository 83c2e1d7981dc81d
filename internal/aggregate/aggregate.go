// Package aggregate merges per-source payloads, runs the optional AI
// synthesis stage, and assembles the final research report.
package aggregate

import (
	"time"

	"github.com/JakeFAU/company-research/internal/research"
)

// Fallback narrative used whenever AI synthesis did not produce a value.
const (
	FallbackSummary = "Analysis completed successfully."
	FallbackRisk    = "Risk assessment completed"
)

// FallbackInsights returns the default key insights.
func FallbackInsights() []string { return []string{"Research completed with available data"} }

// FallbackRecommendations returns the default recommendations.
func FallbackRecommendations() []string { return []string{"Review all data carefully"} }

// Merge maps source kind names to the payloads of completed tasks. Failed
// tasks contribute nothing.
func Merge(results []research.TaskResult) map[string]any {
	merged := make(map[string]any, len(results))
	for _, r := range results {
		if r.Status != research.StatusCompleted {
			continue
		}
		merged[string(r.Source)] = r.Data
	}
	return merged
}

// Assembly carries everything needed to build a report.
type Assembly struct {
	RequestID string
	Request   research.Request
	Depth     string
	Results   []research.TaskResult
	// Synthesis holds the AI output when the stage succeeded.
	Synthesis map[string]any
	// SynthesisErr is set when the stage was selected but failed.
	SynthesisErr error
	Started      time.Time
	Finished     time.Time
}

// Assemble builds the final report. Status is Completed when every task
// succeeded, Partial on mixed outcomes, and Failed when nothing succeeded.
func Assemble(a Assembly) research.Report {
	used, failed := classify(a.Results)
	report := research.Report{
		RequestID:           a.RequestID,
		CompanyName:         a.Request.Label(),
		CompanyDomain:       a.Request.CompanyDomain,
		Depth:               a.Depth,
		Status:              overallStatus(used, failed),
		TotalProcessingTime: a.Finished.Sub(a.Started),
		TotalCost:           TotalCost(a.Results),
		SourcesUsed:         used,
		FailedSources:       failed,
		Timestamp:           a.Finished,
		TaskResults:         append([]research.TaskResult{}, a.Results...),
	}
	for _, r := range a.Results {
		if r.Status != research.StatusCompleted {
			continue
		}
		switch r.Source {
		case research.SourceDomainRegistry:
			report.DomainRegistry = r.Data
		case research.SourceWebSearch:
			report.WebSearch = r.Data
		case research.SourceKnowledgeGraph:
			report.KnowledgeGraph = r.Data
		case research.SourceLocationVerification:
			report.LocationVerification = r.Data
		case research.SourcePortfolioResearch:
			report.Portfolio = r.Data
		}
	}
	if a.SynthesisErr != nil {
		report.SynthesisError = a.SynthesisErr.Error()
	}
	promote(&report, a.Synthesis)
	return report
}

// FailedReport is returned when a request could not be dispatched or was
// canceled.
func FailedReport(requestID string, req research.Request, depth, reason string, started, now time.Time) research.Report {
	return research.Report{
		RequestID:           requestID,
		CompanyName:         req.Label(),
		CompanyDomain:       req.CompanyDomain,
		ExecutiveSummary:    "Research failed: " + reason,
		KeyInsights:         []string{"Research could not be completed"},
		RiskAssessment:      "Unable to assess risks due to research failure",
		Recommendations:     []string{"Try again later", "Verify company information manually"},
		Depth:               depth,
		Status:              research.StatusFailed,
		TotalProcessingTime: now.Sub(started),
		SourcesUsed:         []research.SourceKind{},
		FailedSources:       []research.SourceKind{},
		Timestamp:           now,
		TaskResults:         []research.TaskResult{},
	}
}

// TotalCost sums the cost estimates of every task result. Sources clamp
// their estimates at zero, so no result subtracts from the total.
func TotalCost(results []research.TaskResult) float64 {
	total := 0.0
	for _, r := range results {
		total += r.CostEstimate
	}
	return total
}

func classify(results []research.TaskResult) (used, failed []research.SourceKind) {
	used = []research.SourceKind{}
	failed = []research.SourceKind{}
	for _, r := range results {
		switch r.Status {
		case research.StatusCompleted:
			used = append(used, r.Source)
		case research.StatusFailed:
			failed = append(failed, r.Source)
		}
	}
	return used, failed
}

func overallStatus(used, failed []research.SourceKind) research.Status {
	switch {
	case len(used) == 0:
		return research.StatusFailed
	case len(failed) == 0:
		return research.StatusCompleted
	default:
		return research.StatusPartial
	}
}

func promote(report *research.Report, synth map[string]any) {
	report.ExecutiveSummary = stringField(synth, "executive_summary", FallbackSummary)
	report.KeyInsights = stringsField(synth, "key_insights", FallbackInsights())
	report.RiskAssessment = stringField(synth, "risk_assessment", FallbackRisk)
	report.Recommendations = stringsField(synth, "recommendations", FallbackRecommendations())
	if synth == nil {
		return
	}
	report.AIAnalysis = synth
	report.CompanyAuthenticity = mapField(synth, "company_authenticity")
	report.CompanyGrowth = mapField(synth, "company_growth")
	report.EmployeeInsights = mapField(synth, "employee_insights")
	if score, ok := floatField(synth, "authenticity_score"); ok {
		report.AuthenticityScore = score
	}
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func stringsField(m map[string]any, key string, fallback []string) []string {
	switch v := m[key].(type) {
	case []string:
		if len(v) > 0 {
			return append([]string(nil), v...)
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func mapField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func floatField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
