// Package graph owns the module graph: the tagged module variants, their
// resolved dependency edges, the transactional container guarding shared
// access, and the transitive builder that populates it.
package graph

import (
	"github.com/skiffworks/skiff/analysis"
	"github.com/skiffworks/skiff/media"
	"github.com/skiffworks/skiff/resolver"
)

// Module is the closed union of graph node kinds. Dispatch is always a
// type switch over the concrete variants below.
type Module interface {
	// Specifier is the unique graph key of the module.
	Specifier() string

	sealed()
}

// EsmModule is a standard module with source text and static dependency
// edges.
type EsmModule struct {
	ModuleSpecifier string
	Source          string
	MediaType       media.Type
	// Dependencies maps raw import specifier strings to their resolutions.
	Dependencies map[string]*Dependency
}

// JsonModule is a JSON source module without outgoing edges.
type JsonModule struct {
	ModuleSpecifier string
	Source          string
	MediaType       media.Type
}

// NpmModule is a resolved package requirement, pinned to name@version,
// optionally with a subpath inside the package.
type NpmModule struct {
	ModuleSpecifier string
	NvReference     string
	SubPath         string
}

// NodeModule is a runtime-provided builtin.
type NodeModule struct {
	ModuleSpecifier string
	ModuleName      string
}

// ExternalModule is resolved outside the graph; only its identity is
// recorded.
type ExternalModule struct {
	ModuleSpecifier string
}

func (m *EsmModule) Specifier() string      { return m.ModuleSpecifier }
func (m *JsonModule) Specifier() string     { return m.ModuleSpecifier }
func (m *NpmModule) Specifier() string      { return m.ModuleSpecifier }
func (m *NodeModule) Specifier() string     { return m.ModuleSpecifier }
func (m *ExternalModule) Specifier() string { return m.ModuleSpecifier }

func (*EsmModule) sealed()      {}
func (*JsonModule) sealed()     {}
func (*NpmModule) sealed()      {}
func (*NodeModule) sealed()     {}
func (*ExternalModule) sealed() {}

// Dependency is one static import edge of an ESM module.
type Dependency struct {
	// Specifier is the raw import string as written in source.
	Specifier string
	TypeOnly  bool
	Code      Resolution
}

// Resolution is the closed union of edge outcomes, set once during graph
// build.
type Resolution interface {
	resolutionSealed()
}

// ResolutionOk carries the resolved target specifier and the import's
// source position.
type ResolutionOk struct {
	Specifier string
	Position  analysis.Position
}

// ResolutionErr records why the specifier could not be resolved.
type ResolutionErr struct {
	Diagnostic *resolver.Diagnostic
}

// ResolutionNone marks an edge that was intentionally left unresolved.
type ResolutionNone struct{}

func (*ResolutionOk) resolutionSealed()   {}
func (*ResolutionErr) resolutionSealed()  {}
func (*ResolutionNone) resolutionSealed() {}
