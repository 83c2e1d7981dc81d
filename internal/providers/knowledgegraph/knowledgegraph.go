// Package knowledgegraph resolves a company to a Google Knowledge Graph
// Organization entity.
package knowledgegraph

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/company-research/internal/providers"
	"github.com/JakeFAU/company-research/internal/research"
)

// DefaultBaseURL is the Knowledge Graph Search API host.
const DefaultBaseURL = "https://kgsearch.googleapis.com"

const defaultLimit = 10

// Config configures the provider.
type Config struct {
	BaseURL   string
	APIKey    string
	Limit     int
	UserAgent string
}

// Provider implements source.Prober for entity lookups.
type Provider struct {
	cfg    Config
	client *resty.Client
}

type searchResponse struct {
	Items []struct {
		ResultScore float64 `json:"resultScore"`
		Result      struct {
			ID                  string   `json:"@id"`
			Name                string   `json:"name"`
			Types               []string `json:"@type"`
			Description         string   `json:"description"`
			URL                 string   `json:"url"`
			DetailedDescription struct {
				ArticleBody string `json:"articleBody"`
				URL         string `json:"url"`
			} `json:"detailedDescription"`
		} `json:"result"`
	} `json:"itemListElement"`
}

// New builds a Knowledge Graph provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	return &Provider{
		cfg:    cfg,
		client: providers.NewClient(providers.ClientConfig{BaseURL: cfg.BaseURL, UserAgent: cfg.UserAgent}),
	}
}

// Kind implements source.Prober.
func (p *Provider) Kind() research.SourceKind { return research.SourceKnowledgeGraph }

// CostEstimate implements source.Prober. Basic usage is free.
func (p *Provider) CostEstimate() float64 { return 0 }

// HasCredentials implements source.Prober.
func (p *Provider) HasCredentials() bool { return p.cfg.APIKey != "" }

// Healthy implements source.Prober.
func (p *Provider) Healthy() bool { return p.HasCredentials() }

// Description implements source.Describer.
func (p *Provider) Description() string {
	return "Structured company facts from the Google Knowledge Graph"
}

// Probe searches for the company and returns the best-ranked entity. An empty
// match is not an error.
func (p *Provider) Probe(ctx context.Context, companyName, companyDomain string) (map[string]any, error) {
	query := providers.Label(companyName, providers.CleanDomain(companyDomain))
	if query == "" {
		return nil, providers.ErrMissingName
	}

	var body searchResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":     query,
			"key":       p.cfg.APIKey,
			"limit":     strconv.Itoa(p.cfg.Limit),
			"types":     "Organization",
			"languages": "en",
		}).
		SetResult(&body).
		Get("/v1/entities:search")
	if err := providers.CheckResponse("knowledge graph", resp, err); err != nil {
		return nil, err
	}

	if len(body.Items) == 0 {
		return map[string]any{"query": query, "found": false, "name": query}, nil
	}
	best := 0
	for i, item := range body.Items {
		if rank(item.Result.Name, query, item.ResultScore) > rank(body.Items[best].Result.Name, query, body.Items[best].ResultScore) {
			best = i
		}
	}
	entity := body.Items[best].Result
	return map[string]any{
		"query":           query,
		"found":           true,
		"entity_id":       entity.ID,
		"name":            entity.Name,
		"types":           entity.Types,
		"description":     entity.Description,
		"website":         entity.URL,
		"detailed_info":   entity.DetailedDescription.ArticleBody,
		"wikipedia_url":   entity.DetailedDescription.URL,
		"result_score":    body.Items[best].ResultScore,
		"candidate_count": len(body.Items),
	}, nil
}

// rank prefers exact name matches, then API relevance.
func rank(name, query string, score float64) float64 {
	switch {
	case strings.EqualFold(name, query):
		return score + 1e9
	case strings.Contains(strings.ToLower(name), strings.ToLower(query)):
		return score + 1e6
	default:
		return score
	}
}
