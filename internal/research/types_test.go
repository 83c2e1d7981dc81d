package research

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestValidateRequiresIdentifier(t *testing.T) {
	t.Parallel()

	err := Request{CompanyName: "  ", CompanyDomain: ""}.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidRequest))

	require.NoError(t, Request{CompanyName: "Acme"}.Validate())
	require.NoError(t, Request{CompanyDomain: "acme.io"}.Validate())
}

func TestRequestNormalizedFillsDefaults(t *testing.T) {
	t.Parallel()

	req := Request{CompanyName: " Acme ", CompanyDomain: " ACME.io ", Depth: " Basic "}.Normalized()
	require.Equal(t, "Acme", req.CompanyName)
	require.Equal(t, "acme.io", req.CompanyDomain)
	require.Equal(t, DepthBasic, req.Depth)
	require.Equal(t, "default", req.UserID)

	require.Equal(t, DepthStandard, Request{CompanyName: "x"}.Normalized().Depth)
}

func TestRequestLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Acme", Request{CompanyName: "Acme", CompanyDomain: "acme.io"}.Label())
	require.Equal(t, "acme.io", Request{CompanyDomain: "acme.io"}.Label())
	require.Equal(t, "Unknown Company", Request{}.Label())
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusPending.Terminal())
	require.False(t, StatusInProgress.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusPartial.Terminal())
}

func TestParseSourceKind(t *testing.T) {
	t.Parallel()

	kind, err := ParseSourceKind(" Web_Search ")
	require.NoError(t, err)
	require.Equal(t, SourceWebSearch, kind)

	_, err = ParseSourceKind("whois")
	require.Error(t, err)
}

func TestProgressCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := Progress{CompletedTasks: []SourceKind{SourceWebSearch}}
	cp := orig.Clone()
	cp.CompletedTasks[0] = SourceAIAnalysis
	require.Equal(t, SourceWebSearch, orig.CompletedTasks[0])
}
