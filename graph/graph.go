package graph

import (
	"errors"
	"fmt"
	"sort"

	graphlib "github.com/dominikbraun/graph"
)

// ResolutionError is a graph-recorded resolution failure reachable from a
// prepared root. It aborts the whole prepare call.
type ResolutionError struct {
	Specifier string
	Referrer  string
	Err       error
}

// Error implements error.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve %q imported from %q: %v", e.Specifier, e.Referrer, e.Err)
}

// Unwrap exposes the underlying diagnostic.
func (e *ResolutionError) Unwrap() error { return e.Err }

// ModuleGraph maps specifiers to modules and carries the resolved edges
// between them. A committed graph is immutable; mutation happens only on a
// permit's private working copy.
type ModuleGraph struct {
	modules   map[string]Module
	redirects map[string]string
	edges     graphlib.Graph[string, string]
}

// New returns an empty module graph.
func New() *ModuleGraph {
	return &ModuleGraph{
		modules:   map[string]Module{},
		redirects: map[string]string{},
		edges:     graphlib.New(graphlib.StringHash, graphlib.Directed()),
	}
}

// Get returns the module for a specifier, following redirects. It returns
// nil when the specifier is absent.
func (g *ModuleGraph) Get(specifier string) Module {
	seen := 0
	for {
		if m, ok := g.modules[specifier]; ok {
			return m
		}
		target, ok := g.redirects[specifier]
		if !ok || seen > 8 {
			return nil
		}
		specifier = target
		seen++
	}
}

// Contains reports whether the specifier (or a redirect of it) is present.
func (g *ModuleGraph) Contains(specifier string) bool {
	return g.Get(specifier) != nil
}

// Insert adds a module and registers its resolved outgoing edges.
func (g *ModuleGraph) Insert(m Module) {
	g.modules[m.Specifier()] = m
	_ = g.edges.AddVertex(m.Specifier())

	if esm, ok := m.(*EsmModule); ok {
		for _, dep := range esm.Dependencies {
			if ok, isOk := dep.Code.(*ResolutionOk); isOk {
				g.addEdge(esm.ModuleSpecifier, ok.Specifier)
			}
		}
	}
}

// AddRedirect records that requests for one specifier are served by
// another (e.g. extension probing or package entry resolution).
func (g *ModuleGraph) AddRedirect(from, to string) {
	if from != to {
		g.redirects[from] = to
		g.addEdge(from, to)
	}
}

func (g *ModuleGraph) addEdge(from, to string) {
	_ = g.edges.AddVertex(from)
	_ = g.edges.AddVertex(to)
	if err := g.edges.AddEdge(from, to); err != nil &&
		!errors.Is(err, graphlib.ErrEdgeAlreadyExists) &&
		!errors.Is(err, graphlib.ErrEdgeCreatesCycle) {
		// Directed module graphs permit cycles; the backing store is
		// configured accordingly, so only duplicate edges are expected here.
		panic(err)
	}
}

// Specifiers lists every module specifier in deterministic order.
func (g *ModuleGraph) Specifiers() []string {
	out := make([]string, 0, len(g.modules))
	for s := range g.modules {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of modules.
func (g *ModuleGraph) Len() int {
	return len(g.modules)
}

// Clone returns an independent deep-enough copy for a new update permit.
// Modules themselves are immutable after insertion and are shared.
func (g *ModuleGraph) Clone() *ModuleGraph {
	clone := New()
	for s, m := range g.modules {
		clone.modules[s] = m
	}
	for from, to := range g.redirects {
		clone.redirects[from] = to
	}
	if edges, err := g.edges.Clone(); err == nil {
		clone.edges = edges
	} else {
		for _, m := range clone.modules {
			clone.Insert(m)
		}
		for from, to := range clone.redirects {
			clone.addEdge(from, to)
		}
	}
	return clone
}

// Segment returns the sub-graph reachable from roots: the transitive
// closure used to scope type checking.
func (g *ModuleGraph) Segment(roots []string) *ModuleGraph {
	segment := New()
	adjacency, err := g.edges.AdjacencyMap()
	if err != nil {
		adjacency = map[string]map[string]graphlib.Edge[string]{}
	}

	visited := map[string]bool{}
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		specifier := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[specifier] {
			continue
		}
		visited[specifier] = true

		if target, ok := g.redirects[specifier]; ok {
			segment.AddRedirect(specifier, target)
		}
		if m, ok := g.modules[specifier]; ok {
			segment.Insert(m)
		}
		for neighbor := range adjacency[specifier] {
			stack = append(stack, neighbor)
		}
	}
	return segment
}

// Validate walks every module reachable from roots and fails on the first
// dependency edge carrying an error resolution. Type-only edges are
// exempt: they never load at runtime.
func (g *ModuleGraph) Validate(roots []string) error {
	visited := map[string]bool{}
	stack := append([]string(nil), roots...)

	for len(stack) > 0 {
		specifier := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[specifier] {
			continue
		}
		visited[specifier] = true

		esm, ok := g.Get(specifier).(*EsmModule)
		if !ok {
			continue
		}
		for _, dep := range esm.Dependencies {
			switch code := dep.Code.(type) {
			case *ResolutionOk:
				stack = append(stack, code.Specifier)
			case *ResolutionErr:
				if dep.TypeOnly {
					continue
				}
				return &ResolutionError{
					Specifier: dep.Specifier,
					Referrer:  esm.ModuleSpecifier,
					Err:       code.Diagnostic,
				}
			case *ResolutionNone:
			}
		}
	}
	return nil
}
