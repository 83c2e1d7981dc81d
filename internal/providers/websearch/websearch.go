// Package websearch queries the Google Custom Search JSON API for pages about
// a company.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/company-research/internal/providers"
	"github.com/JakeFAU/company-research/internal/research"
)

const (
	// DefaultBaseURL is the Custom Search endpoint host.
	DefaultBaseURL = "https://www.googleapis.com"
	defaultCost    = 0.01
	defaultResults = 10
)

// Config configures the search provider.
type Config struct {
	BaseURL        string
	APIKey         string
	SearchEngineID string
	Cost           float64
	ResultsPerPage int
	UserAgent      string
}

// Provider implements source.Prober for web search.
type Provider struct {
	cfg    Config
	client *resty.Client
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Query   string `json:"query"`
}

type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// New builds a search provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Cost <= 0 {
		cfg.Cost = defaultCost
	}
	if cfg.ResultsPerPage <= 0 || cfg.ResultsPerPage > defaultResults {
		cfg.ResultsPerPage = defaultResults
	}
	return &Provider{
		cfg:    cfg,
		client: providers.NewClient(providers.ClientConfig{BaseURL: cfg.BaseURL, UserAgent: cfg.UserAgent}),
	}
}

// Kind implements source.Prober.
func (p *Provider) Kind() research.SourceKind { return research.SourceWebSearch }

// CostEstimate implements source.Prober.
func (p *Provider) CostEstimate() float64 { return p.cfg.Cost }

// HasCredentials reports whether both the key and engine id are set.
func (p *Provider) HasCredentials() bool {
	return p.cfg.APIKey != "" && p.cfg.SearchEngineID != ""
}

// Healthy implements source.Prober; the provider is unusable without credentials.
func (p *Provider) Healthy() bool { return p.HasCredentials() }

// Description implements source.Describer.
func (p *Provider) Description() string {
	return "Web search for company news, profiles and public mentions"
}

// Queries returns the search terms used for a company.
func Queries(companyName, companyDomain string) []string {
	label := providers.Label(companyName, companyDomain)
	queries := []string{label + " company overview"}
	if domain := providers.CleanDomain(companyDomain); domain != "" {
		queries = append(queries, "site:"+domain+" about us")
	}
	return queries
}

// Probe runs every query and returns the deduplicated hits. It fails only when
// all queries fail.
func (p *Provider) Probe(ctx context.Context, companyName, companyDomain string) (map[string]any, error) {
	if providers.Label(companyName, companyDomain) == "" {
		return nil, providers.ErrMissingName
	}
	queries := Queries(companyName, companyDomain)
	seen := make(map[string]struct{})
	results := make([]Result, 0, p.cfg.ResultsPerPage*len(queries))
	var errs []error
	for _, q := range queries {
		hits, err := p.search(ctx, q)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, hit := range hits {
			if _, dup := seen[hit.Link]; dup {
				continue
			}
			seen[hit.Link] = struct{}{}
			results = append(results, hit)
		}
	}
	if len(errs) == len(queries) {
		return nil, errors.Join(errs...)
	}
	return map[string]any{
		"queries":        queries,
		"search_results": results,
		"total_results":  len(results),
	}, nil
}

func (p *Provider) search(ctx context.Context, query string) ([]Result, error) {
	var body searchResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key": p.cfg.APIKey,
			"cx":  p.cfg.SearchEngineID,
			"q":   query,
			"num": strconv.Itoa(p.cfg.ResultsPerPage),
		}).
		SetResult(&body).
		Get("/customsearch/v1")
	if err := providers.CheckResponse("web search", resp, err); err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	out := make([]Result, 0, len(body.Items))
	for _, item := range body.Items {
		out = append(out, Result{Title: item.Title, Link: item.Link, Snippet: item.Snippet, Query: query})
	}
	return out, nil
}
