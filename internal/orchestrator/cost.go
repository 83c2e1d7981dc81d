package orchestrator

import (
	"strings"

	"github.com/JakeFAU/company-research/internal/research"
)

const costTipThreshold = 0.10

var depthDescriptions = map[string]string{
	research.DepthBasic:         "Quick web search only",
	research.DepthStandard:      "Domain registry, web search and knowledge graph",
	research.DepthComprehensive: "Standard research plus AI analysis",
}

// CostEstimate projects the cost of a depth from the same table that drives
// task selection. Unknown depths resolve to standard.
func (o *Orchestrator) CostEstimate(depth string) research.CostEstimate {
	depth = o.table.Resolve(depth)
	perSource, total := o.depthCost(depth)

	var tips []string
	if total > costTipThreshold {
		tips = append(tips, "Consider using 'basic' research depth for cost savings")
	}
	if o.table.Includes(depth, research.SourceAIAnalysis) {
		tips = append(tips, "AI analysis adds cost but provides valuable insights")
	}

	var alternatives []research.DepthOption
	for _, other := range o.table.Depths() {
		if other == depth {
			continue
		}
		_, cost := o.depthCost(other)
		alternatives = append(alternatives, research.DepthOption{
			Depth:       other,
			Cost:        cost,
			Description: o.describeDepth(other),
		})
	}

	return research.CostEstimate{
		Depth:            depth,
		PerSource:        perSource,
		Total:            total,
		OptimizationTips: append([]string{}, tips...),
		Alternatives:     append([]research.DepthOption{}, alternatives...),
	}
}

func (o *Orchestrator) depthCost(depth string) (map[research.SourceKind]float64, float64) {
	kinds := o.table.Sources(depth)
	perSource := make(map[research.SourceKind]float64, len(kinds))
	total := 0.0
	for _, kind := range kinds {
		cost := 0.0
		if src, ok := o.sources.Get(kind); ok {
			cost = src.CostEstimate()
		}
		perSource[kind] = cost
		total += cost
	}
	return perSource, total
}

func (o *Orchestrator) describeDepth(depth string) string {
	if desc, ok := depthDescriptions[depth]; ok {
		return desc
	}
	kinds := o.table.Sources(depth)
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, strings.ReplaceAll(string(kind), "_", " "))
	}
	return strings.Join(names, ", ")
}
