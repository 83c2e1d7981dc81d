package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/cache/memory"
	"github.com/JakeFAU/company-research/internal/research"
)

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}

func TestReportsStoreAndLookup(t *testing.T) {
	t.Parallel()

	r := NewReports(memory.New(nil), 0, zap.NewNop())
	ctx := context.Background()
	req := research.Request{CompanyName: "Acme", CompanyDomain: "acme.io", Depth: research.DepthBasic}

	_, ok := r.ForRequest(ctx, req)
	require.False(t, ok)

	r.Store(ctx, req, research.Report{RequestID: "req-1", Status: research.StatusPartial})

	got, ok := r.ForRequest(ctx, research.Request{CompanyName: "acme", CompanyDomain: "ACME.io", Depth: "basic", UserID: "x"})
	require.True(t, ok)
	require.Equal(t, "req-1", got.RequestID)

	_, ok = r.ForRequest(ctx, research.Request{CompanyName: "Acme", CompanyDomain: "acme.io", Depth: research.DepthComprehensive})
	require.False(t, ok)

	got, ok = r.ForCompany(ctx, "Acme", "acme.io")
	require.True(t, ok)
	require.Equal(t, "req-1", got.RequestID)
}

func TestReportsSkipsFailedReports(t *testing.T) {
	t.Parallel()

	r := NewReports(memory.New(nil), time.Minute, nil)
	req := research.Request{CompanyName: "Acme"}
	r.Store(context.Background(), req, research.Report{RequestID: "req-1", Status: research.StatusFailed})

	_, ok := r.ForRequest(context.Background(), req)
	require.False(t, ok)
}

func TestReportsBackendErrorsAreMisses(t *testing.T) {
	t.Parallel()

	r := NewReports(failingCache{}, time.Minute, zap.NewNop())
	req := research.Request{CompanyName: "Acme"}
	r.Store(context.Background(), req, research.Report{RequestID: "req-1", Status: research.StatusCompleted})
	_, ok := r.ForRequest(context.Background(), req)
	require.False(t, ok)
}
