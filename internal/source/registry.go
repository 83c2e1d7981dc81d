package source

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/company-research/internal/research"
)

// Registry maps source kinds to their wrapped implementations. It is built once
// at startup and read concurrently afterwards.
type Registry struct {
	sources map[research.SourceKind]*Source
}

// NewRegistry indexes the provided sources by kind. Registering the same kind
// twice is an error.
func NewRegistry(sources ...*Source) (*Registry, error) {
	r := &Registry{sources: make(map[research.SourceKind]*Source, len(sources))}
	for _, src := range sources {
		if src == nil {
			continue
		}
		if _, dup := r.sources[src.Kind()]; dup {
			return nil, fmt.Errorf("source %q registered twice", src.Kind())
		}
		r.sources[src.Kind()] = src
	}
	return r, nil
}

// Get returns the source registered for kind.
func (r *Registry) Get(kind research.SourceKind) (*Source, bool) {
	src, ok := r.sources[kind]
	return src, ok
}

// Kinds lists registered kinds in the canonical source order.
func (r *Registry) Kinds() []research.SourceKind {
	order := make(map[research.SourceKind]int)
	for i, kind := range research.AllSourceKinds() {
		order[kind] = i
	}
	kinds := make([]research.SourceKind, 0, len(r.sources))
	for kind := range r.sources {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return order[kinds[i]] < order[kinds[j]] })
	return kinds
}

// Health snapshots every registered source.
func (r *Registry) Health() map[research.SourceKind]research.HealthInfo {
	out := make(map[research.SourceKind]research.HealthInfo, len(r.sources))
	for kind, src := range r.sources {
		out[kind] = src.Health()
	}
	return out
}

// Catalog describes every registered source in canonical order.
func (r *Registry) Catalog() []research.SourceInfo {
	kinds := r.Kinds()
	out := make([]research.SourceInfo, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, r.sources[kind].Info())
	}
	return out
}
