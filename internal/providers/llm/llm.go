// Package llm is the AI analysis provider. It talks to any OpenAI-compatible
// chat-completions endpoint and turns merged research data into narrative
// report fields.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/company-research/internal/providers"
	"github.com/JakeFAU/company-research/internal/research"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
	defaultCost     = 0.02
	defaultTokens   = 1200
	defaultTimeout  = 60 * time.Second
	maxContextBytes = 24000
)

// ErrNoResearchData is returned when there is nothing to analyze.
var ErrNoResearchData = errors.New("no research data provided for AI analysis")

const systemPrompt = `You are a due-diligence analyst. Given research data about a company, ` +
	`reply with a single JSON object and nothing else, using exactly these keys:
"executive_summary" (string, 2-4 sentences),
"key_insights" (array of strings),
"risk_assessment" (string),
"recommendations" (array of strings),
"company_authenticity" (object with "is_legitimate" bool, "confidence_score" number 0-1, "verification_sources" array, "red_flags" array, "trust_indicators" array),
"company_growth" (object with "growth_stage" string, "growth_indicators" array, "market_position" string),
"employee_insights" (object with "estimated_size" string, "culture_notes" array),
"authenticity_score" (number 0-1).`

// Config configures the provider.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Cost        float64
	Timeout     time.Duration
}

// Provider implements source.Prober and aggregate.Synthesizer.
type Provider struct {
	cfg    Config
	client *resty.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New builds an AI provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultTokens
	}
	if cfg.Cost <= 0 {
		cfg.Cost = defaultCost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := providers.NewClient(providers.ClientConfig{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Headers: map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
			"Content-Type":  "application/json",
		},
	})
	return &Provider{cfg: cfg, client: client}
}

// Kind implements source.Prober.
func (p *Provider) Kind() research.SourceKind { return research.SourceAIAnalysis }

// CostEstimate implements source.Prober.
func (p *Provider) CostEstimate() float64 { return p.cfg.Cost }

// HasCredentials implements source.Prober.
func (p *Provider) HasCredentials() bool { return p.cfg.APIKey != "" }

// Healthy implements source.Prober.
func (p *Provider) Healthy() bool { return p.HasCredentials() }

// Description implements source.Describer.
func (p *Provider) Description() string {
	return "AI synthesis of all collected data into summary, risks and recommendations"
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.cfg.Model }

// Probe sends a minimal prompt to verify the endpoint and credentials.
func (p *Provider) Probe(ctx context.Context, _ string, _ string) (map[string]any, error) {
	reply, err := p.complete(ctx, []chatMessage{{Role: "user", Content: "Reply with the single word OK."}}, 5, false)
	if err != nil {
		return nil, err
	}
	return map[string]any{"model": p.cfg.Model, "reply": strings.TrimSpace(reply)}, nil
}

// Synthesize asks the model for the narrative report fields and returns them
// as a map keyed by report field name.
func (p *Provider) Synthesize(
	ctx context.Context,
	req research.Request,
	merged map[string]any,
	results []research.TaskResult,
) (map[string]any, error) {
	if len(merged) == 0 {
		return nil, ErrNoResearchData
	}
	prompt, err := buildPrompt(req, merged, results)
	if err != nil {
		return nil, err
	}
	content, err := p.complete(ctx, []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}, p.cfg.MaxTokens, true)
	if err != nil {
		return nil, err
	}
	payload, err := ParseJSONObject(content)
	if err != nil {
		return nil, err
	}
	payload["model"] = p.cfg.Model
	return payload, nil
}

func (p *Provider) complete(ctx context.Context, messages []chatMessage, maxTokens int, jsonMode bool) (string, error) {
	body := chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: p.cfg.Temperature,
	}
	if jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	var resp chatResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		SetError(&resp).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to call chat completions: %w", err)
	}
	if httpResp.IsError() {
		msg := strings.TrimSpace(httpResp.String())
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", fmt.Errorf("chat completions returned HTTP %d: %s", httpResp.StatusCode(), msg)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat completions error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completions returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// truncateRunes cuts data to at most limit bytes without splitting a UTF-8
// sequence.
func truncateRunes(data []byte, limit int) []byte {
	if len(data) <= limit {
		return data
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return data[:cut]
}

func buildPrompt(req research.Request, merged map[string]any, results []research.TaskResult) (string, error) {
	data, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("encode research data: %w", err)
	}
	data = truncateRunes(data, maxContextBytes)
	var failed []string
	for _, r := range results {
		if r.Status == research.StatusFailed {
			failed = append(failed, string(r.Source)+": "+r.Error)
		}
	}
	sort.Strings(failed)

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", req.Label())
	if req.CompanyDomain != "" {
		fmt.Fprintf(&b, "Domain: %s\n", req.CompanyDomain)
	}
	if req.IncludeEmployeeReviews {
		b.WriteString("Pay particular attention to employee and culture signals.\n")
	}
	if req.IncludeFinancialData {
		b.WriteString("Pay particular attention to funding and financial signals.\n")
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "Sources that failed: %s\n", strings.Join(failed, "; "))
	}
	b.WriteString("Research data (JSON):\n")
	b.Write(data)
	return b.String(), nil
}

// ParseJSONObject extracts the outermost JSON object from model output,
// tolerating surrounding prose or code fences.
func ParseJSONObject(content string) (map[string]any, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("model reply contains no JSON object")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	return out, nil
}
