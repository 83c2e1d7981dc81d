package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-research/internal/research"
)

func chatServer(t *testing.T, content string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		reply, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(reply)
	}))
}

func TestSynthesizeParsesModelJSON(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := chatServer(t, "```json\n{\"executive_summary\":\"Acme is real.\",\"key_insights\":[\"a\"],\"authenticity_score\":0.9}\n```", &got)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-model"})
	out, err := p.Synthesize(context.Background(),
		research.Request{CompanyName: "Acme", CompanyDomain: "acme.io", IncludeFinancialData: true},
		map[string]any{"web_search": map[string]any{"total_results": 2}},
		[]research.TaskResult{{Source: research.SourceDomainRegistry, Status: research.StatusFailed, Error: "timeout"}},
	)
	require.NoError(t, err)
	require.Equal(t, "Acme is real.", out["executive_summary"])
	require.InDelta(t, 0.9, out["authenticity_score"], 1e-9)
	require.Equal(t, "test-model", out["model"])

	require.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "json_object", got.ResponseFormat.Type)
	user := got.Messages[1].Content
	require.True(t, strings.Contains(user, "Company: Acme"))
	require.True(t, strings.Contains(user, "domain_registry: timeout"))
	require.True(t, strings.Contains(user, "financial signals"))
}

func TestSynthesizeRejectsEmptyData(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIKey: "sk-test"}).Synthesize(context.Background(), research.Request{CompanyName: "Acme"}, nil, nil)
	require.True(t, errors.Is(err, ErrNoResearchData))
}

func TestSynthesizeSurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, APIKey: "bad"}).Synthesize(context.Background(),
		research.Request{CompanyName: "Acme"}, map[string]any{"x": 1}, nil)
	require.ErrorContains(t, err, "HTTP 401")
	require.ErrorContains(t, err, "invalid api key")
}

func TestProbePings(t *testing.T) {
	t.Parallel()

	srv := chatServer(t, "OK", nil)
	defer srv.Close()

	data, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test"}).Probe(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, "OK", data["reply"])
}

func TestParseJSONObject(t *testing.T) {
	t.Parallel()

	out, err := ParseJSONObject("Sure! {\"a\": {\"b\": 1}} hope that helps")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"b": float64(1)}, out["a"])

	_, err = ParseJSONObject("no json here")
	require.Error(t, err)
}

func TestHealthAndCost(t *testing.T) {
	t.Parallel()

	require.False(t, New(Config{}).Healthy())
	p := New(Config{APIKey: "k"})
	require.True(t, p.Healthy())
	require.InDelta(t, 0.02, p.CostEstimate(), 1e-9)
	require.Equal(t, research.SourceAIAnalysis, p.Kind())
}

func TestTruncateRunesKeepsUTF8Valid(t *testing.T) {
	t.Parallel()

	data := []byte("aé中")
	require.Equal(t, "aé中", string(truncateRunes(data, 10)))
	require.Equal(t, "aé", string(truncateRunes(data, 4)))
	require.Equal(t, "aé", string(truncateRunes(data, 5)))
	require.Equal(t, "a", string(truncateRunes(data, 2)))
	require.Empty(t, truncateRunes(data, 0))
}

func TestBuildPromptTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// The seven-byte prefix {"ab":" puts every two-byte rune on an odd offset.
	merged := map[string]any{"ab": strings.Repeat("é", maxContextBytes)}
	prompt, err := buildPrompt(research.Request{CompanyName: "Acme"}, merged, nil)
	require.NoError(t, err)
	require.True(t, utf8.ValidString(prompt))
	require.NotContains(t, prompt, string(utf8.RuneError))
}
