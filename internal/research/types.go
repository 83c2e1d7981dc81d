package research

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies one external data provider.
type SourceKind string

// Supported research sources. Adding a provider means adding a member here and
// registering a matching source implementation.
const (
	SourceDomainRegistry       SourceKind = "domain_registry"
	SourceWebSearch            SourceKind = "web_search"
	SourceKnowledgeGraph       SourceKind = "knowledge_graph"
	SourceAIAnalysis           SourceKind = "ai_analysis"
	SourceLocationVerification SourceKind = "location_verification"
	SourcePortfolioResearch    SourceKind = "portfolio_research"
)

// AllSourceKinds lists every known source in a stable order.
func AllSourceKinds() []SourceKind {
	return []SourceKind{
		SourceDomainRegistry,
		SourceWebSearch,
		SourceKnowledgeGraph,
		SourceAIAnalysis,
		SourceLocationVerification,
		SourcePortfolioResearch,
	}
}

// ParseSourceKind validates a raw source name.
func ParseSourceKind(raw string) (SourceKind, error) {
	kind := SourceKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllSourceKinds() {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown research source %q", raw)
}

// Status is the lifecycle state of a task or a whole request.
type Status string

// Status values shared by tasks and requests.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartial:
		return true
	default:
		return false
	}
}

// Research depths understood by the pipeline table.
const (
	DepthBasic         = "basic"
	DepthStandard      = "standard"
	DepthComprehensive = "comprehensive"
)

// Sentinel errors surfaced by the orchestrator.
var (
	ErrInvalidRequest = errors.New("invalid research request")
	ErrNotFound       = errors.New("research request not found")
	ErrCanceled       = errors.New("research request canceled")
	ErrUnhealthy      = errors.New("service unhealthy")
)

// Request is a client submission. It is passed by value and never mutated
// after submission.
type Request struct {
	CompanyName            string `json:"company_name,omitempty"`
	CompanyDomain          string `json:"company_domain,omitempty"`
	Depth                  string `json:"research_depth,omitempty"`
	IncludeEmployeeReviews bool   `json:"include_employee_reviews,omitempty"`
	IncludeFinancialData   bool   `json:"include_financial_data,omitempty"`
	UserID                 string `json:"user_id,omitempty"`
	Premium                bool   `json:"is_premium,omitempty"`
}

// Validate ensures at least one company identifier is present.
func (r Request) Validate() error {
	if strings.TrimSpace(r.CompanyName) == "" && strings.TrimSpace(r.CompanyDomain) == "" {
		return fmt.Errorf("%w: either company_name or company_domain must be provided", ErrInvalidRequest)
	}
	return nil
}

// Normalized trims identifiers and fills defaults.
func (r Request) Normalized() Request {
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.CompanyDomain = strings.ToLower(strings.TrimSpace(r.CompanyDomain))
	r.Depth = strings.ToLower(strings.TrimSpace(r.Depth))
	if r.Depth == "" {
		r.Depth = DepthStandard
	}
	if strings.TrimSpace(r.UserID) == "" {
		r.UserID = "default"
	}
	return r
}

// Label is the human-readable company label used for progress and reports.
func (r Request) Label() string {
	switch {
	case strings.TrimSpace(r.CompanyName) != "":
		return strings.TrimSpace(r.CompanyName)
	case strings.TrimSpace(r.CompanyDomain) != "":
		return strings.TrimSpace(r.CompanyDomain)
	default:
		return "Unknown Company"
	}
}

// TaskResult is the outcome of one source execution. It is immutable once
// created.
type TaskResult struct {
	Source         SourceKind     `json:"source"`
	Status         Status         `json:"status"`
	Data           map[string]any `json:"data,omitempty"`
	Error          string         `json:"error_message,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time"`
	CostEstimate   float64        `json:"cost_estimate"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Progress is a snapshot of an in-flight or recently finished request.
type Progress struct {
	RequestID       string       `json:"request_id"`
	CompanyName     string       `json:"company_name"`
	OverallProgress float64      `json:"overall_progress"`
	CompletedTasks  []SourceKind `json:"completed_tasks"`
	FailedTasks     []SourceKind `json:"failed_tasks"`
	CurrentTask     SourceKind   `json:"current_task,omitempty"`
	Status          Status       `json:"status"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to callers.
func (p Progress) Clone() Progress {
	cp := p
	cp.CompletedTasks = append([]SourceKind(nil), p.CompletedTasks...)
	cp.FailedTasks = append([]SourceKind(nil), p.FailedTasks...)
	return cp
}

// Report is the aggregated, externally visible research result.
type Report struct {
	RequestID     string `json:"request_id"`
	CompanyName   string `json:"company_name"`
	CompanyDomain string `json:"company_domain,omitempty"`

	DomainRegistry       map[string]any `json:"domain_registry_data,omitempty"`
	WebSearch            map[string]any `json:"web_search_data,omitempty"`
	KnowledgeGraph       map[string]any `json:"knowledge_graph_data,omitempty"`
	LocationVerification map[string]any `json:"location_verification_data,omitempty"`
	Portfolio            map[string]any `json:"portfolio_data,omitempty"`
	AIAnalysis           map[string]any `json:"ai_analysis_data,omitempty"`

	CompanyAuthenticity map[string]any `json:"company_authenticity,omitempty"`
	CompanyGrowth       map[string]any `json:"company_growth,omitempty"`
	EmployeeInsights    map[string]any `json:"employee_insights,omitempty"`
	ExecutiveSummary    string         `json:"executive_summary"`
	KeyInsights         []string       `json:"key_insights"`
	RiskAssessment      string         `json:"risk_assessment"`
	Recommendations     []string       `json:"recommendations"`
	AuthenticityScore   float64        `json:"authenticity_score"`

	Depth               string        `json:"research_depth"`
	Status              Status        `json:"research_status"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	TotalCost           float64       `json:"total_cost"`
	SourcesUsed         []SourceKind  `json:"sources_used"`
	FailedSources       []SourceKind  `json:"failed_sources"`
	SynthesisError      string        `json:"synthesis_error,omitempty"`
	Timestamp           time.Time     `json:"timestamp"`

	TaskResults []TaskResult `json:"task_results"`
}

// HealthInfo is the diagnostic view of one source.
type HealthInfo struct {
	Kind           SourceKind `json:"source"`
	IsAvailable    bool       `json:"is_available"`
	IsHealthy      bool       `json:"is_healthy"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
	ErrorCount     int        `json:"error_count"`
	HasCredentials bool       `json:"api_key_configured"`
}

// SourceInfo is a catalog entry describing one registered source.
type SourceInfo struct {
	Kind        SourceKind `json:"name"`
	Description string     `json:"description"`
	CostPerCall float64    `json:"cost_per_request"`
	IsHealthy   bool       `json:"is_healthy"`
	IsAvailable bool       `json:"is_available"`
}

// DepthOption is an alternative depth offered by a cost estimate.
type DepthOption struct {
	Depth       string  `json:"depth"`
	Cost        float64 `json:"cost"`
	Description string  `json:"description"`
}

// CostEstimate breaks down the projected cost of a depth.
type CostEstimate struct {
	Depth            string                 `json:"research_depth"`
	PerSource        map[SourceKind]float64 `json:"cost_breakdown"`
	Total            float64                `json:"estimated_total_cost"`
	OptimizationTips []string               `json:"cost_optimization_tips"`
	Alternatives     []DepthOption          `json:"alternative_research_options"`
}
