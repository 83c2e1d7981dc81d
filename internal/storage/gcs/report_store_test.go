package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/company-research/internal/research"
)

func newTestStore(t *testing.T, handler http.Handler) *ReportStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return store
}

func TestSaveReportUploadsJSON(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "reports/req-1.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"request_id":"req-1"`)
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{"name":"reports/req-1.json","bucket":"test-bucket"}`)
	})

	store := newTestStore(t, handler)
	err := store.SaveReport(context.Background(), research.Report{RequestID: "req-1", CompanyName: "Acme"})
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/reports/req-1.json", store.URI("req-1"))
}

func TestSaveReportServerError(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := store.SaveReport(context.Background(), research.Report{RequestID: "req-1"})
	require.Error(t, err)
}

func TestGetReportReadsObject(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "req-1.json") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"req-1","company_name":"Acme","executive_summary":"ok"}`))
	}))

	report, err := store.GetReport(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, "Acme", report.CompanyName)

	_, err = store.GetReport(context.Background(), "missing")
	require.True(t, errors.Is(err, research.ErrNotFound))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b", Prefix: "/archive/"})
	require.NoError(t, err)
	require.Equal(t, "archive/x.json", store.ObjectName("x"))
}
