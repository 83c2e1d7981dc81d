// Package rdap looks up domain registration data over RDAP, the JSON
// successor of WHOIS.
package rdap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/company-research/internal/providers"
	"github.com/JakeFAU/company-research/internal/research"
)

// DefaultBaseURL is the public RDAP bootstrap redirector.
const DefaultBaseURL = "https://rdap.org"

// Config configures the RDAP provider.
type Config struct {
	BaseURL   string
	UserAgent string
}

// Provider implements source.Prober for domain registration lookups.
type Provider struct {
	client *resty.Client
}

type domainResponse struct {
	LDHName     string   `json:"ldhName"`
	Handle      string   `json:"handle"`
	Status      []string `json:"status"`
	Events      []event  `json:"events"`
	Nameservers []struct {
		LDHName string `json:"ldhName"`
	} `json:"nameservers"`
	Entities []entity `json:"entities"`
}

type event struct {
	Action string `json:"eventAction"`
	Date   string `json:"eventDate"`
}

type entity struct {
	Handle     string   `json:"handle"`
	Roles      []string `json:"roles"`
	VCardArray []any    `json:"vcardArray"`
}

// New builds an RDAP provider.
func New(cfg Config) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Provider{
		client: providers.NewClient(providers.ClientConfig{
			BaseURL:   base,
			UserAgent: cfg.UserAgent,
			Headers:   map[string]string{"Accept": "application/rdap+json, application/json"},
		}),
	}
}

// Kind implements source.Prober.
func (p *Provider) Kind() research.SourceKind { return research.SourceDomainRegistry }

// CostEstimate implements source.Prober. RDAP is free.
func (p *Provider) CostEstimate() float64 { return 0 }

// Healthy implements source.Prober.
func (p *Provider) Healthy() bool { return true }

// HasCredentials implements source.Prober. No key is needed.
func (p *Provider) HasCredentials() bool { return true }

// Description implements source.Describer.
func (p *Provider) Description() string {
	return "Domain registration lookup (registrar, dates, name servers) via RDAP"
}

// Probe fetches the RDAP record for the company domain.
func (p *Provider) Probe(ctx context.Context, _ string, companyDomain string) (map[string]any, error) {
	domain := providers.CleanDomain(companyDomain)
	if domain == "" {
		return nil, providers.ErrMissingDomain
	}

	var body domainResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("domain", domain).
		SetResult(&body).
		Get("/domain/{domain}")
	if err := providers.CheckResponse("rdap", resp, err); err != nil {
		return nil, err
	}
	return flatten(domain, body), nil
}

func flatten(domain string, body domainResponse) map[string]any {
	out := map[string]any{
		"domain": domain,
		"handle": body.Handle,
		"status": body.Status,
	}
	if body.LDHName != "" {
		out["domain"] = strings.ToLower(body.LDHName)
	}
	for _, ev := range body.Events {
		switch ev.Action {
		case "registration":
			out["creation_date"] = ev.Date
		case "expiration":
			out["expiration_date"] = ev.Date
		case "last changed":
			out["updated_date"] = ev.Date
		}
	}
	servers := make([]string, 0, len(body.Nameservers))
	for _, ns := range body.Nameservers {
		if ns.LDHName != "" {
			servers = append(servers, strings.ToLower(ns.LDHName))
		}
	}
	out["name_servers"] = servers
	for _, ent := range body.Entities {
		for _, role := range ent.Roles {
			if role != "registrar" {
				continue
			}
			if name := vcardName(ent.VCardArray); name != "" {
				out["registrar"] = name
			} else {
				out["registrar"] = ent.Handle
			}
		}
	}
	return out
}

// vcardName extracts the "fn" property from a jCard array:
// ["vcard", [["fn", {}, "text", "Name"], ...]].
func vcardName(card []any) string {
	if len(card) < 2 {
		return ""
	}
	props, ok := card[1].([]any)
	if !ok {
		return ""
	}
	for _, raw := range props {
		prop, ok := raw.([]any)
		if !ok || len(prop) < 4 {
			continue
		}
		if name, _ := prop[0].(string); name == "fn" {
			return fmt.Sprint(prop[3])
		}
	}
	return ""
}
