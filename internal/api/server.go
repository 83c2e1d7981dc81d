// Package api exposes the HTTP interface for the research service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/config"
	"github.com/JakeFAU/company-research/internal/metrics"
	"github.com/JakeFAU/company-research/internal/research"
	"github.com/JakeFAU/company-research/internal/store"
	"github.com/JakeFAU/company-research/internal/usage"
)

const (
	defaultRequestTimeout = 120 * time.Second
	defaultStreamInterval = 2 * time.Second
)

// Researcher is the orchestration surface the handlers drive.
type Researcher interface {
	Submit(ctx context.Context, req research.Request) (research.Report, error)
	SubmitAsync(ctx context.Context, req research.Request) (string, error)
	Progress(id string) (research.Progress, bool)
	Cancel(id string) bool
	Report(ctx context.Context, id string) (research.Report, error)
	CostEstimate(depth string) research.CostEstimate
	HealthSnapshot() map[research.SourceKind]research.HealthInfo
	SourceCatalog() []research.SourceInfo
	AvailableDepths() []string
	TestSources(ctx context.Context) map[research.SourceKind]bool
	SetSourceAvailable(kind research.SourceKind, available bool) bool
	ResetSourceHealth(kind research.SourceKind) bool
	ActiveSessions() int
	Usage(userID string, premium bool) (usage.Stats, bool)
}

// ReportCache memoizes finished reports.
type ReportCache interface {
	ForRequest(ctx context.Context, req research.Request) (research.Report, bool)
	ForCompany(ctx context.Context, companyName, companyDomain string) (research.Report, bool)
	Store(ctx context.Context, req research.Request, report research.Report)
}

// ReadinessCheck reports whether a downstream dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps wires the server's collaborators. Research is required.
type Deps struct {
	Research Researcher
	Cache    ReportCache
	Runs     store.RunRepository
	Ready    []ReadinessCheck
	Clock    research.Clock
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the orchestrator, cache and run history.
type Server struct {
	router         chi.Router
	research       Researcher
	cache          ReportCache
	ready          []ReadinessCheck
	clock          research.Clock
	logger         *zap.Logger
	streamInterval time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = utcClock{}
	}
	s := &Server{
		research:       deps.Research,
		cache:          deps.Cache,
		ready:          deps.Ready,
		clock:          clock,
		logger:         logger,
		streamInterval: cfg.Server.StreamInterval,
	}
	if s.streamInterval <= 0 {
		s.streamInterval = defaultStreamInterval
	}
	requestTimeout := cfg.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	runs := NewRunHandler(deps.Runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	timeout := timeoutMiddleware(requestTimeout)
	r.Route("/v1/research", func(r chi.Router) {
		r.With(timeout).Post("/", s.submitResearch)
		r.With(timeout).Post("/async", s.submitResearchAsync)
		r.With(timeout).Get("/cost-estimate", s.costEstimate)
		r.With(timeout).Get("/health", s.serviceHealth)
		r.With(timeout).Post("/test-sources", s.testSources)
		r.With(timeout).Get("/sources", s.sources)
		r.Route("/sources/{source}", func(r chi.Router) {
			r.Use(timeout)
			r.Post("/enable", s.setSourceAvailable(true))
			r.Post("/disable", s.setSourceAvailable(false))
			r.Post("/reset-health", s.resetSourceHealth)
		})
		r.With(timeout).Get("/quick-check", s.quickCheck)
		r.With(timeout).Get("/usage", s.usage)
		r.Route("/{request_id}", func(r chi.Router) {
			r.With(timeout).Delete("/", s.cancelResearch)
			r.With(timeout).Get("/progress", s.getProgress)
			r.With(timeout).Get("/report", s.getReport)
			r.With(timeout).Get("/run", runs.GetRun)
			// Streams outlive the request timeout and need a flushable writer.
			r.Get("/stream", s.streamProgress)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("http_request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/healthz", "/readyz":
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
