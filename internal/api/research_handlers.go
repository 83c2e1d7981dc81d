package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/research"
)

const (
	quickCheckUser     = "quick_check"
	overallHealthy     = "healthy"
	overallDegraded    = "degraded"
	cacheHeader        = "X-Cache"
	notFoundMessage    = "Research request not found"
	missingIdentifiers = "Either company_name or company_domain must be provided"
)

// submitResearch handles POST /v1/research. Cached Completed or Partial
// reports for an identical request are returned without running providers.
func (s *Server) submitResearch(w http.ResponseWriter, r *http.Request) {
	var req research.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ctx := r.Context()
	if s.cache != nil {
		if report, ok := s.cache.ForRequest(ctx, req); ok {
			w.Header().Set(cacheHeader, "HIT")
			writeJSON(w, http.StatusOK, report)
			return
		}
	}
	report, err := s.research.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, research.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("research failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Research failed: %v", err))
		return
	}
	if s.cache != nil {
		s.cache.Store(ctx, req, report)
	}
	w.Header().Set(cacheHeader, "MISS")
	writeJSON(w, http.StatusOK, report)
}

// submitResearchAsync handles POST /v1/research/async.
func (s *Server) submitResearchAsync(w http.ResponseWriter, r *http.Request) {
	var req research.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.research.SubmitAsync(r.Context(), req)
	if err != nil {
		if errors.Is(err, research.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("async research initiation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to initiate research: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": id,
		"status":     "research_initiated",
		"message":    "Research started in background. Use the request ID to track progress.",
	})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	progress, ok := s.research.Progress(id)
	if !ok {
		writeError(w, http.StatusNotFound, notFoundMessage)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) cancelResearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	if !s.research.Cancel(id) {
		writeError(w, http.StatusNotFound, notFoundMessage)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Research cancelled successfully",
		"request_id": id,
	})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	report, err := s.research.Report(r.Context(), id)
	if err != nil {
		if errors.Is(err, research.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		s.logger.Error("load report failed", zap.String("request_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// costEstimate handles GET /v1/research/cost-estimate?depth=. research_depth
// is accepted as an alias.
func (s *Server) costEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	depth := q.Get("depth")
	if depth == "" {
		depth = q.Get("research_depth")
	}
	if depth == "" {
		depth = research.DepthStandard
	}
	writeJSON(w, http.StatusOK, s.research.CostEstimate(depth))
}

func (s *Server) serviceHealth(w http.ResponseWriter, _ *http.Request) {
	services := s.research.HealthSnapshot()
	overall := overallHealthy
	for _, info := range services {
		if !info.IsHealthy {
			overall = overallDegraded
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overall_status":  overall,
		"services":        services,
		"active_sessions": s.research.ActiveSessions(),
	})
}

func (s *Server) testSources(w http.ResponseWriter, r *http.Request) {
	results := s.research.TestSources(r.Context())
	overall := overallHealthy
	for _, ok := range results {
		if !ok {
			overall = overallDegraded
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overall_status": overall,
		"test_results":   results,
		"timestamp":      s.clock.Now(),
	})
}

func (s *Server) sources(w http.ResponseWriter, _ *http.Request) {
	catalog := s.research.SourceCatalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"available_sources": catalog,
		"total_sources":     len(catalog),
		"research_depths":   s.research.AvailableDepths(),
	})
}

// setSourceAvailable handles POST /v1/research/sources/{source}/enable and
// /disable.
func (s *Server) setSourceAvailable(available bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := research.SourceKind(chi.URLParam(r, "source"))
		if !s.research.SetSourceAvailable(kind, available) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", kind))
			return
		}
		writeJSON(w, http.StatusOK, s.research.HealthSnapshot()[kind])
	}
}

func (s *Server) resetSourceHealth(w http.ResponseWriter, r *http.Request) {
	kind := research.SourceKind(chi.URLParam(r, "source"))
	if !s.research.ResetSourceHealth(kind) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", kind))
		return
	}
	writeJSON(w, http.StatusOK, s.research.HealthSnapshot()[kind])
}

// quickCheck handles GET /v1/research/quick-check. It answers from any
// cached report for the company, otherwise runs a basic-depth request.
func (s *Server) quickCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("company_name"))
	domain := strings.TrimSpace(q.Get("company_domain"))
	if name == "" && domain == "" {
		writeError(w, http.StatusBadRequest, missingIdentifiers)
		return
	}
	ctx := r.Context()
	cached := false
	var report research.Report
	if s.cache != nil {
		report, cached = s.cache.ForCompany(ctx, name, domain)
	}
	if !cached {
		req := research.Request{
			CompanyName:   name,
			CompanyDomain: domain,
			Depth:         research.DepthBasic,
			UserID:        quickCheckUser,
		}
		var err error
		report, err = s.research.Submit(ctx, req)
		if err != nil {
			if errors.Is(err, research.ErrInvalidRequest) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Error("quick check failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Quick check failed: %v", err))
			return
		}
		if s.cache != nil {
			s.cache.Store(ctx, req, report)
		}
	}

	domainVerified := len(report.DomainRegistry) > 0
	authenticity := "unknown"
	if domainVerified {
		authenticity = "verified"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"company_name":       report.CompanyName,
		"company_domain":     report.CompanyDomain,
		"domain_verified":    domainVerified,
		"web_presence":       hasItems(report.WebSearch["search_results"]),
		"basic_authenticity": authenticity,
		"research_status":    report.Status,
		"processing_time":    report.TotalProcessingTime.Seconds(),
		"cached":             cached,
	})
}

// usage handles GET /v1/research/usage?user_id=&is_premium=.
func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	premium := false
	if raw := q.Get("is_premium"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid is_premium")
			return
		}
		premium = val
	}
	stats, ok := s.research.Usage(q.Get("user_id"), premium)
	if !ok {
		writeError(w, http.StatusNotFound, "usage tracking disabled")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// streamProgress handles GET /v1/research/{id}/stream as server-sent events,
// polling progress until the request is terminal or unknown.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	for {
		progress, ok := s.research.Progress(id)
		if !ok {
			s.writeEvent(w, map[string]string{"error": "Request not found"})
			flusher.Flush()
			return
		}
		s.writeEvent(w, progress)
		flusher.Flush()
		if progress.Status.Terminal() {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal stream event failed", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("stream write failed", zap.Error(err))
	}
}

// hasItems reports whether v is a non-empty slice. Reports read back from a
// cache hold []any where fresh ones hold typed slices.
func hasItems(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len() > 0
	default:
		return false
	}
}
