// Package ratelimit implements a per-host token bucket used to keep website
// scraping polite when several requests target the same company.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/company-research/internal/metrics"
)

const defaultMaxHosts = 1024

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	maxHosts     int
	label        string
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// MaxHosts bounds the number of tracked hosts; the table is reset when it
	// fills up.
	MaxHosts int
	// Label tags rate limit delay metrics.
	Label string
}

// New creates a new Limiter. A non-positive DefaultRPS disables throttling.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = defaultMaxHosts
	}
	label := cfg.Label
	if label == "" {
		label = "per_host"
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		maxHosts:     maxHosts,
		label:        label,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the
// context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	limiter := l.forHost(hostOf(rawURL))

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.label, waited)
	}
	return nil
}

// Hosts returns the number of hosts currently tracked.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if ok {
		return limiter
	}
	if len(l.limiters) >= l.maxHosts {
		l.limiters = make(map[string]*rate.Limiter)
	}
	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[host] = limiter
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
