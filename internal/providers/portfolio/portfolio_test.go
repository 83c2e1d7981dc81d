package portfolio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-research/internal/providers"
	"github.com/JakeFAU/company-research/internal/research"
	"github.com/JakeFAU/company-research/internal/source"
)

const homePage = `<html><head><title>Acme Widgets</title>
<meta name="description" content="Widgets for healthcare"></head>
<body><h1>Welcome</h1>
<p>We serve healthcare teams.</p>
<a href="/portfolio">Our work</a>
<a href="/case-studies/alpha">Alpha</a>
<a href="/about">About</a>
<a href="https://elsewhere.example/projects">Partner projects</a>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(homePage))
	})
	mux.HandleFunc("/portfolio", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Portfolio</title></head>
<body><h2>Retail platform</h2><p>Built with React and Kubernetes on AWS.</p></body></html>`))
	})
	return httptest.NewServer(mux)
}

func TestProbeFollowsKeywordLinks(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL})
	data, err := p.Probe(context.Background(), "Acme", "acme.io")
	require.NoError(t, err)
	require.Equal(t, "Acme Widgets", data["title"])
	require.Equal(t, "Widgets for healthcare", data["description"])
	require.Equal(t, []string{srv.URL + "/portfolio", srv.URL + "/case-studies/alpha"}, data["portfolio_urls"])
	require.Equal(t, 2, data["total_pages_scraped"])
	require.Equal(t, 1, data["failed_pages"])
	require.Equal(t, []string{"aws", "kubernetes", "react"}, data["technologies"])
	require.Equal(t, []string{"healthcare", "retail"}, data["industries"])
	require.True(t, p.Healthy())
}

func TestProbeCapsFollowedPages(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	defer srv.Close()

	data, err := New(Config{BaseURL: srv.URL, MaxPages: 2}).Probe(context.Background(), "", "acme.io")
	require.NoError(t, err)
	require.Len(t, data["portfolio_urls"], 1)
}

func TestScrapeSameSiteTwice(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL})
	first, err := p.Probe(context.Background(), "Acme", "acme.io")
	require.NoError(t, err)
	second, err := p.Probe(context.Background(), "Acme", "acme.io")
	require.NoError(t, err)
	require.Equal(t, first["portfolio_urls"], second["portfolio_urls"])
	require.Equal(t, 2, second["total_pages_scraped"])
}

// flakySite fails the home page for the first failFirst requests.
func flakySite(t *testing.T, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(homePage))
	})
	return httptest.NewServer(mux), &hits
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestSourceRetriesScrapeOfSameSite(t *testing.T) {
	t.Parallel()

	srv, hits := flakySite(t, 2)
	defer srv.Close()

	src := source.New(New(Config{BaseURL: srv.URL}),
		source.Config{MaxAttempts: 3, RetryDelayBase: time.Second, FailureThreshold: 5},
		source.WithSleep(noSleep))

	result := src.Execute(context.Background(), "Acme", "acme.io")
	require.Equal(t, research.StatusCompleted, result.Status, result.Error)
	require.Equal(t, "Acme Widgets", result.Data["title"])
	require.EqualValues(t, 3, hits.Load())

	result = src.Execute(context.Background(), "Acme", "acme.io")
	require.Equal(t, research.StatusCompleted, result.Status, result.Error)
	require.EqualValues(t, 4, hits.Load())
	require.Zero(t, src.Health().ErrorCount)
}

func TestSourceTripsAfterFiveFailedScrapes(t *testing.T) {
	t.Parallel()

	srv, hits := flakySite(t, 1000)
	defer srv.Close()

	src := source.New(New(Config{BaseURL: srv.URL}),
		source.Config{MaxAttempts: 3, RetryDelayBase: time.Second, FailureThreshold: 5},
		source.WithSleep(noSleep))

	for i := 0; i < 4; i++ {
		result := src.Execute(context.Background(), "Acme", "acme.io")
		require.Equal(t, research.StatusFailed, result.Status)
	}
	require.True(t, src.Healthy())
	require.EqualValues(t, 12, hits.Load())

	src.Execute(context.Background(), "Acme", "acme.io")
	require.False(t, src.Healthy())
	require.Equal(t, 5, src.Health().ErrorCount)

	src.Execute(context.Background(), "Acme", "acme.io")
	require.EqualValues(t, 15, hits.Load())

	src.ResetHealth()
	require.True(t, src.Healthy())
}

func TestProbeRequiresDomain(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Probe(context.Background(), "Acme", "")
	require.True(t, errors.Is(err, providers.ErrMissingDomain))
}

func TestProbeHonorsCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{BaseURL: srv.URL}).Probe(ctx, "", "acme.io")
	require.ErrorIs(t, err, context.Canceled)
}

type recordingLimiter struct {
	mu    sync.Mutex
	urls  []string
	errAt int
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, rawURL)
	if l.errAt > 0 && len(l.urls) >= l.errAt {
		return errors.New("throttled")
	}
	return nil
}

func TestProbeThrottlesEveryPage(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	defer srv.Close()

	limiter := &recordingLimiter{}
	_, err := New(Config{BaseURL: srv.URL, Limiter: limiter}).Probe(context.Background(), "", "acme.io")
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL, srv.URL + "/portfolio", srv.URL + "/case-studies/alpha"}, limiter.urls)
}

func TestProbeStopsFollowingWhenThrottled(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	defer srv.Close()

	limiter := &recordingLimiter{errAt: 2}
	data, err := New(Config{BaseURL: srv.URL, Limiter: limiter}).Probe(context.Background(), "", "acme.io")
	require.NoError(t, err)
	require.Equal(t, 1, data["total_pages_scraped"])
}

func TestProbeRespectsRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /portfolio\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(homePage))
	})
	mux.HandleFunc("/portfolio", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Portfolio</title></head><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	polite := New(Config{BaseURL: srv.URL, RespectRobots: true})
	data, err := polite.Probe(context.Background(), "Acme", "acme.io")
	require.NoError(t, err)
	require.Equal(t, 1, data["total_pages_scraped"])

	rude := New(Config{BaseURL: srv.URL})
	data, err = rude.Probe(context.Background(), "Acme", "acme.io")
	require.NoError(t, err)
	require.Equal(t, 2, data["total_pages_scraped"])
}
