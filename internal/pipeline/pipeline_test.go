package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-research/internal/research"
)

func TestDefaultTable(t *testing.T) {
	t.Parallel()

	table := Default()
	require.Equal(t, []research.SourceKind{research.SourceWebSearch}, table.Sources("basic"))
	require.Equal(t, []research.SourceKind{
		research.SourceDomainRegistry,
		research.SourceWebSearch,
		research.SourceKnowledgeGraph,
	}, table.Sources("standard"))
	require.Equal(t, []research.SourceKind{
		research.SourceDomainRegistry,
		research.SourceWebSearch,
		research.SourceKnowledgeGraph,
		research.SourceAIAnalysis,
	}, table.Sources("comprehensive"))
	require.Equal(t, []string{"basic", "standard", "comprehensive"}, table.Depths())
}

func TestUnknownDepthFallsBackToStandard(t *testing.T) {
	t.Parallel()

	table := Default()
	require.Equal(t, "standard", table.Resolve("exhaustive"))
	require.Equal(t, "standard", table.Resolve(""))
	require.Equal(t, "basic", table.Resolve(" BASIC "))
	require.Equal(t, table.Sources("standard"), table.Sources("exhaustive"))
	require.True(t, table.Includes("comprehensive", research.SourceAIAnalysis))
	require.False(t, table.Includes("standard", research.SourceAIAnalysis))
}

func TestSourcesReturnsCopy(t *testing.T) {
	t.Parallel()

	table := Default()
	got := table.Sources("basic")
	got[0] = research.SourceAIAnalysis
	require.Equal(t, research.SourceWebSearch, table.Sources("basic")[0])
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	table, err := FromConfig(map[string][]string{
		"standard": {"domain_registry", "web_search"},
		"deep":     {"web_search", "portfolio_research", "location_verification", "ai_analysis"},
		"basic":    {"web_search"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"basic", "standard", "deep"}, table.Depths())
	require.Len(t, table.Sources("deep"), 4)

	_, err = FromConfig(map[string][]string{"standard": {"web_search", "web_search"}})
	require.Error(t, err)
	_, err = FromConfig(map[string][]string{"standard": {"whois"}})
	require.Error(t, err)
	_, err = FromConfig(map[string][]string{"basic": {"web_search"}})
	require.Error(t, err)

	def, err := FromConfig(nil)
	require.NoError(t, err)
	require.Equal(t, Default().Depths(), def.Depths())
}
