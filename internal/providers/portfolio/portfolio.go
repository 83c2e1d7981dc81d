// Package portfolio scrapes a company's website for portfolio, project and
// client pages using colly, and extracts titles, headings, technologies and
// industries mentioned there.
package portfolio

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/company-research/internal/providers"
	"github.com/JakeFAU/company-research/internal/research"
)

const (
	defaultCost     = 0.07
	defaultMaxPages = 10
	defaultTimeout  = 15 * time.Second
	maxHeadings     = 10
)

// DefaultKeywords select links worth following from the home page.
var DefaultKeywords = []string{
	"portfolio", "projects", "work", "case-studies", "case studies", "clients",
	"customers", "services", "products", "solutions", "industries", "showcase",
	"success stories", "testimonials",
}

var (
	technologyPattern = regexp.MustCompile(`(?i)\b(python|javascript|typescript|java|c\+\+|c#|php|ruby|rust|swift|kotlin|scala|` +
		`react|angular|vue|node\.js|django|flask|spring|laravel|rails|\.net|` +
		`aws|azure|gcp|docker|kubernetes|terraform|` +
		`postgresql|mysql|mongodb|redis|elasticsearch|kafka|snowflake)\b`)
	industryPattern = regexp.MustCompile(`(?i)\b(healthcare|finance|fintech|education|edtech|retail|ecommerce|manufacturing|` +
		`consulting|real estate|transportation|logistics|energy|media|entertainment|government|nonprofit|saas|insurance)\b`)
)

// Config controls the scraper.
type Config struct {
	// BaseURL overrides https://{domain} as the crawl root.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	MaxPages  int
	Keywords  []string
	Cost      float64
	// RespectRobots makes the scraper skip pages robots.txt disallows.
	RespectRobots bool
	// Limiter throttles page requests per host; nil disables throttling.
	Limiter HostLimiter
}

// HostLimiter throttles requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Page is one scraped page.
type Page struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Headings      []string `json:"headings,omitempty"`
	ContentLength int      `json:"content_length"`
}

// Provider implements source.Prober. Consecutive failures are tracked by the
// source wrapper, see source.Config.FailureThreshold.
type Provider struct {
	cfg       Config
	transport http.RoundTripper
}

// New builds a portfolio scraper.
func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords
	}
	if cfg.Cost <= 0 {
		cfg.Cost = defaultCost
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = providers.DefaultUserAgent
	}
	return &Provider{cfg: cfg, transport: newHTTPTransport()}
}

// Kind implements source.Prober.
func (p *Provider) Kind() research.SourceKind { return research.SourcePortfolioResearch }

// CostEstimate implements source.Prober.
func (p *Provider) CostEstimate() float64 { return p.cfg.Cost }

// Healthy implements source.Prober. The scraper holds no state that can go
// bad between requests.
func (p *Provider) Healthy() bool { return true }

// HasCredentials implements source.Prober. Scraping needs no key.
func (p *Provider) HasCredentials() bool { return true }

// Description implements source.Describer.
func (p *Provider) Description() string {
	return "Company website scrape of portfolio, project and client pages"
}

type scrape struct {
	rootPhase    bool
	rootErr      error
	links        []string
	seen         map[string]struct{}
	pages        []Page
	failedPages  int
	technologies map[string]struct{}
	industries   map[string]struct{}
}

// Probe crawls the home page, follows up to MaxPages-1 keyword links on the
// same host, and summarizes what it found. Only a failed home page fails the
// probe.
func (p *Provider) Probe(ctx context.Context, _ string, companyDomain string) (map[string]any, error) {
	domain := providers.CleanDomain(companyDomain)
	if domain == "" {
		return nil, providers.ErrMissingDomain
	}
	root := p.cfg.BaseURL
	if root == "" {
		root = "https://" + domain
	}
	rootURL, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("portfolio root url: %w", err)
	}

	state := &scrape{
		rootPhase:    true,
		seen:         map[string]struct{}{rootURL.String(): {}},
		technologies: make(map[string]struct{}),
		industries:   make(map[string]struct{}),
	}
	collector := p.buildCollector(rootURL.Hostname(), state)

	visit := func() error {
		if err := p.wait(ctx, rootURL.String()); err != nil {
			return err
		}
		if err := collector.Visit(rootURL.String()); err != nil {
			return err
		}
		if state.rootErr != nil {
			return state.rootErr
		}
		state.rootPhase = false
		for _, link := range state.links {
			if err := p.wait(ctx, link); err != nil {
				break
			}
			_ = collector.Visit(link)
		}
		return nil
	}
	if err := runCollector(ctx, visit); err != nil {
		return nil, err
	}
	return summarize(domain, rootURL.String(), state), nil
}

func (p *Provider) buildCollector(host string, state *scrape) *colly.Collector {
	// Each scrape gets its own collector: clones share visited-URL storage, which
	// would reject a second scrape of the same site.
	collector := colly.NewCollector(colly.Async(false))
	collector.UserAgent = p.cfg.UserAgent
	collector.AllowedDomains = []string{host, "www." + host}
	collector.IgnoreRobotsTxt = !p.cfg.RespectRobots
	collector.SetRequestTimeout(p.cfg.Timeout)
	collector.WithTransport(p.transport)

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		text := e.DOM.Find("body").Text()
		headings := e.ChildTexts("h1, h2")
		if len(headings) > maxHeadings {
			headings = headings[:maxHeadings]
		}
		state.pages = append(state.pages, Page{
			URL:           e.Request.URL.String(),
			Title:         strings.TrimSpace(e.ChildText("title")),
			Description:   strings.TrimSpace(e.ChildAttr(`meta[name="description"]`, "content")),
			Headings:      headings,
			ContentLength: len(text),
		})
		for _, m := range technologyPattern.FindAllString(text, -1) {
			state.technologies[strings.ToLower(m)] = struct{}{}
		}
		for _, m := range industryPattern.FindAllString(text, -1) {
			state.industries[strings.ToLower(m)] = struct{}{}
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if !state.rootPhase || len(state.links) >= p.cfg.MaxPages-1 {
			return
		}
		href := e.Attr("href")
		if !p.matchesKeyword(href, e.Text) {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		if u, err := url.Parse(abs); err != nil || !sameHost(u.Hostname(), host) {
			return
		}
		if _, dup := state.seen[abs]; dup {
			return
		}
		state.seen[abs] = struct{}{}
		state.links = append(state.links, abs)
	})

	collector.OnError(func(_ *colly.Response, err error) {
		if state.rootPhase {
			state.rootErr = err
			return
		}
		state.failedPages++
	})
	return collector
}

func (p *Provider) wait(ctx context.Context, target string) error {
	if p.cfg.Limiter == nil {
		return nil
	}
	return p.cfg.Limiter.Wait(ctx, target)
}

func (p *Provider) matchesKeyword(href, text string) bool {
	href = strings.ToLower(href)
	text = strings.ToLower(text)
	for _, kw := range p.cfg.Keywords {
		if strings.Contains(href, kw) || strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func summarize(domain, root string, state *scrape) map[string]any {
	total := 0
	for _, page := range state.pages {
		total += page.ContentLength
	}
	out := map[string]any{
		"domain":               domain,
		"root_url":             root,
		"pages":                state.pages,
		"portfolio_urls":       state.links,
		"technologies":         sortedKeys(state.technologies),
		"industries":           sortedKeys(state.industries),
		"total_pages_scraped":  len(state.pages),
		"failed_pages":         state.failedPages,
		"total_content_length": total,
	}
	if len(state.pages) > 0 {
		out["title"] = state.pages[0].Title
		out["description"] = state.pages[0].Description
	}
	return out
}

func runCollector(ctx context.Context, visit func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("portfolio scrape canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("portfolio scrape failed: %w", err)
		}
		return nil
	}
}

func sameHost(a, b string) bool {
	return strings.TrimPrefix(a, "www.") == strings.TrimPrefix(b, "www.")
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
