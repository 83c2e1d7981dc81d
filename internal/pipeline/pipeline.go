// Package pipeline maps research depths to the ordered list of sources they
// select. The same table drives task selection and cost estimation.
package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/company-research/internal/research"
)

// Table is an immutable depth → sources mapping.
type Table struct {
	order  []string
	depths map[string][]research.SourceKind
}

// Default returns the built-in depth table.
func Default() *Table {
	standard := []research.SourceKind{
		research.SourceDomainRegistry,
		research.SourceWebSearch,
		research.SourceKnowledgeGraph,
	}
	comprehensive := append(append([]research.SourceKind(nil), standard...), research.SourceAIAnalysis)
	return &Table{
		order: []string{research.DepthBasic, research.DepthStandard, research.DepthComprehensive},
		depths: map[string][]research.SourceKind{
			research.DepthBasic:         {research.SourceWebSearch},
			research.DepthStandard:      standard,
			research.DepthComprehensive: comprehensive,
		},
	}
}

// FromConfig builds a table from raw depth → source name lists. Depths are
// ordered basic, standard, comprehensive first, then any extra depth names
// alphabetically. An empty map yields the default table.
func FromConfig(raw map[string][]string) (*Table, error) {
	if len(raw) == 0 {
		return Default(), nil
	}
	t := &Table{depths: make(map[string][]research.SourceKind, len(raw))}
	for name, sources := range raw {
		depth := strings.ToLower(strings.TrimSpace(name))
		if depth == "" {
			return nil, fmt.Errorf("pipeline: empty depth name")
		}
		kinds, err := parseKinds(sources)
		if err != nil {
			return nil, fmt.Errorf("pipeline depth %q: %w", depth, err)
		}
		t.depths[depth] = kinds
	}
	if _, ok := t.depths[research.DepthStandard]; !ok {
		return nil, fmt.Errorf("pipeline: depth %q is required as the fallback", research.DepthStandard)
	}
	t.order = orderDepths(t.depths)
	return t, nil
}

func parseKinds(raw []string) ([]research.SourceKind, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no sources listed")
	}
	seen := make(map[research.SourceKind]bool, len(raw))
	kinds := make([]research.SourceKind, 0, len(raw))
	for _, name := range raw {
		kind, err := research.ParseSourceKind(name)
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			return nil, fmt.Errorf("source %q listed twice", kind)
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func orderDepths(depths map[string][]research.SourceKind) []string {
	order := make([]string, 0, len(depths))
	for _, known := range []string{research.DepthBasic, research.DepthStandard, research.DepthComprehensive} {
		if _, ok := depths[known]; ok {
			order = append(order, known)
		}
	}
	var extra []string
	for name := range depths {
		switch name {
		case research.DepthBasic, research.DepthStandard, research.DepthComprehensive:
			continue
		}
		extra = append(extra, name)
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// Resolve returns the canonical depth name, falling back to standard for
// unknown or empty values.
func (t *Table) Resolve(depth string) string {
	depth = strings.ToLower(strings.TrimSpace(depth))
	if _, ok := t.depths[depth]; ok {
		return depth
	}
	return research.DepthStandard
}

// Sources returns a copy of the ordered kinds selected by depth.
func (t *Table) Sources(depth string) []research.SourceKind {
	return append([]research.SourceKind(nil), t.depths[t.Resolve(depth)]...)
}

// Depths lists depth names in presentation order.
func (t *Table) Depths() []string {
	return append([]string(nil), t.order...)
}

// Includes reports whether depth selects kind.
func (t *Table) Includes(depth string, kind research.SourceKind) bool {
	for _, k := range t.depths[t.Resolve(depth)] {
		if k == kind {
			return true
		}
	}
	return false
}
