package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsStatusAndRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/research/async", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/v1/research/{request_id}/report", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.CollectAndCount(httpRequestDurationSeconds)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/research/async", nil),
		httptest.NewRequest(http.MethodGet, "/v1/research/abc/report", nil),
		httptest.NewRequest(http.MethodGet, "/v1/research/def/report", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0)
	// Both report lookups share one templated route series.
	require.Equal(t, before+2, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareKeepsStreamsFlushable(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/research/{request_id}/stream", func(w http.ResponseWriter, _ *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("data: {}\n\n"))
		flusher.Flush()
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/research/abc/stream", nil))
	require.True(t, rec.Flushed)
	require.Equal(t, "data: {}\n\n", rec.Body.String())
}
