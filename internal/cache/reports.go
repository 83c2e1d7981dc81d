// Package cache memoizes finished research reports by request and by company.
// Backends live in the redis and memory subpackages.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	keys "github.com/JakeFAU/company-research/internal/hash/sha256"
	"github.com/JakeFAU/company-research/internal/metrics"
	"github.com/JakeFAU/company-research/internal/research"
)

// DefaultTTL is how long a report stays cached.
const DefaultTTL = time.Hour

const (
	requestPrefix = "report:request:"
	companyPrefix = "report:company:"
)

// Reports wraps a research.Cache with report-level helpers. Cache errors are
// logged and treated as misses.
type Reports struct {
	backend research.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewReports builds a report cache. A non-positive ttl uses DefaultTTL.
func NewReports(backend research.Cache, ttl time.Duration, logger *zap.Logger) *Reports {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reports{backend: backend, ttl: ttl, logger: logger}
}

// ForRequest returns a cached report for an identical request.
func (r *Reports) ForRequest(ctx context.Context, req research.Request) (research.Report, bool) {
	return r.lookup(ctx, requestPrefix+keys.RequestKey(req))
}

// ForCompany returns the most recently cached report for a company at any
// depth.
func (r *Reports) ForCompany(ctx context.Context, companyName, companyDomain string) (research.Report, bool) {
	return r.lookup(ctx, companyPrefix+keys.CompanyKey(companyName, companyDomain))
}

// Store caches a report under both keys. Failed reports are never cached.
func (r *Reports) Store(ctx context.Context, req research.Request, report research.Report) {
	if report.Status != research.StatusCompleted && report.Status != research.StatusPartial {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		r.logger.Warn("report cache encode failed", zap.String("request_id", report.RequestID), zap.Error(err))
		return
	}
	for _, key := range []string{
		requestPrefix + keys.RequestKey(req),
		companyPrefix + keys.CompanyKey(req.CompanyName, req.CompanyDomain),
	} {
		if err := r.backend.Set(ctx, key, raw, r.ttl); err != nil {
			r.logger.Warn("report cache write failed", zap.String("request_id", report.RequestID), zap.Error(err))
			return
		}
	}
}

func (r *Reports) lookup(ctx context.Context, key string) (research.Report, bool) {
	raw, ok, err := r.backend.Get(ctx, key)
	if err != nil {
		r.logger.Warn("report cache read failed", zap.Error(err))
		ok = false
	}
	if !ok {
		metrics.ObserveCacheLookup(false)
		return research.Report{}, false
	}
	var report research.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		r.logger.Warn("report cache decode failed", zap.Error(err))
		metrics.ObserveCacheLookup(false)
		return research.Report{}, false
	}
	metrics.ObserveCacheLookup(true)
	return report, true
}
