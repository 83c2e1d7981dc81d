// Package providers holds the shared HTTP plumbing for the concrete research
// sources. Each provider lives in its own subpackage and implements
// source.Prober as a single upstream call whose JSON is returned opaquely.
package providers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultUserAgent identifies the service to upstream APIs.
const DefaultUserAgent = "company-research/1.0 (+https://github.com/JakeFAU/company-research)"

// ErrMissingDomain is returned by providers that need a company domain.
var ErrMissingDomain = errors.New("company domain is required")

// ErrMissingName is returned by providers that need a company name.
var ErrMissingName = errors.New("company name is required")

// ClientConfig configures a resty client for one provider.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
}

// NewClient builds a resty client with the provider's base URL and headers.
// Retries are left to the source wrapper.
func NewClient(cfg ClientConfig) *resty.Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	client.SetHeader("User-Agent", ua)
	client.SetHeader("Accept", "application/json")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	client.SetRetryCount(0)
	return client
}

// CheckResponse converts transport failures and non-2xx statuses to errors.
func CheckResponse(name string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s request: %w", name, err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(resp.String())
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("%s returned HTTP %d: %s", name, resp.StatusCode(), body)
	}
	return nil
}

// Label picks the best search term for a company.
func Label(companyName, companyDomain string) string {
	if name := strings.TrimSpace(companyName); name != "" {
		return name
	}
	return strings.TrimSpace(companyDomain)
}

// CleanDomain strips scheme, leading "www." and any path from a domain.
func CleanDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}
	return domain
}
