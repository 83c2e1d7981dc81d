package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if providerAttemptsTotal == nil || taskResultsTotal == nil ||
		requestsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveAttempt(t *testing.T) {
	ObserveAttempt("web_search", "error")
	ObserveAttempt("web_search", "error")
	if val := testutil.ToFloat64(providerAttemptsTotal.WithLabelValues("web_search", "error")); val < 2 {
		t.Errorf("Expected at least 2 failed attempts, got %f", val)
	}
}

func TestObserveRequest(t *testing.T) {
	ObserveRequest("basic", "completed", time.Second, 0.05)
	if val := testutil.ToFloat64(requestsTotal.WithLabelValues("basic", "completed")); val < 1 {
		t.Errorf("Expected request counter to be incremented, got %f", val)
	}
	if val := testutil.ToFloat64(requestCostTotal.WithLabelValues("basic")); val < 0.05 {
		t.Errorf("Expected cost to accumulate, got %f", val)
	}
}

func TestSetActiveSessions(t *testing.T) {
	SetActiveSessions(3)
	if val := testutil.ToFloat64(activeSessions); val != 3 {
		t.Errorf("Expected active sessions gauge to be 3, got %f", val)
	}
}

func TestObserveCacheLookup(t *testing.T) {
	before := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup(true)
	if val := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")); val != before+1 {
		t.Errorf("Expected hit counter to grow by one, got %f -> %f", before, val)
	}
}
