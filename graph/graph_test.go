package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/media"
	"github.com/skiffworks/skiff/resolver"
)

func esmWithDeps(specifier string, deps map[string]Resolution) *EsmModule {
	m := &EsmModule{
		ModuleSpecifier: specifier,
		Source:          "export {};",
		MediaType:       media.TypeScript,
		Dependencies:    map[string]*Dependency{},
	}
	for raw, code := range deps {
		m.Dependencies[raw] = &Dependency{Specifier: raw, Code: code}
	}
	return m
}

func TestModuleGraph_GetFollowsRedirects(t *testing.T) {
	g := New()
	g.Insert(&JsonModule{ModuleSpecifier: "file:///app/config.json", Source: "{}", MediaType: media.Json})
	g.AddRedirect("file:///app/config", "file:///app/config.json")

	m := g.Get("file:///app/config")
	require.NotNil(t, m)
	assert.Equal(t, "file:///app/config.json", m.Specifier())

	assert.Nil(t, g.Get("file:///app/ghost.ts"))
}

func TestModuleGraph_Segment(t *testing.T) {
	g := New()
	g.Insert(esmWithDeps("file:///app/main.ts", map[string]Resolution{
		"./util.ts": &ResolutionOk{Specifier: "file:///app/util.ts"},
	}))
	g.Insert(esmWithDeps("file:///app/util.ts", nil))
	g.Insert(esmWithDeps("file:///app/unrelated.ts", nil))

	segment := g.Segment([]string{"file:///app/main.ts"})

	assert.Equal(t, 2, segment.Len())
	assert.NotNil(t, segment.Get("file:///app/util.ts"))
	assert.Nil(t, segment.Get("file:///app/unrelated.ts"))
}

func TestModuleGraph_SegmentHandlesCycles(t *testing.T) {
	g := New()
	g.Insert(esmWithDeps("file:///a.ts", map[string]Resolution{
		"./b.ts": &ResolutionOk{Specifier: "file:///b.ts"},
	}))
	g.Insert(esmWithDeps("file:///b.ts", map[string]Resolution{
		"./a.ts": &ResolutionOk{Specifier: "file:///a.ts"},
	}))

	segment := g.Segment([]string{"file:///a.ts"})
	assert.Equal(t, 2, segment.Len())
}

func TestModuleGraph_ValidateFailsOnErrResolution(t *testing.T) {
	g := New()
	diag := &resolver.Diagnostic{Specifier: "missing", Referrer: "file:///app/main.ts", Message: "not remapped"}
	g.Insert(esmWithDeps("file:///app/main.ts", map[string]Resolution{
		"missing": &ResolutionErr{Diagnostic: diag},
	}))

	err := g.Validate([]string{"file:///app/main.ts"})
	require.Error(t, err)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "missing", resErr.Specifier)
	assert.Equal(t, "file:///app/main.ts", resErr.Referrer)
}

func TestModuleGraph_ValidateSkipsUnreachableErrors(t *testing.T) {
	g := New()
	diag := &resolver.Diagnostic{Specifier: "missing", Referrer: "file:///app/island.ts", Message: "nope"}
	g.Insert(esmWithDeps("file:///app/island.ts", map[string]Resolution{
		"missing": &ResolutionErr{Diagnostic: diag},
	}))
	g.Insert(esmWithDeps("file:///app/main.ts", nil))

	assert.NoError(t, g.Validate([]string{"file:///app/main.ts"}))
}

func TestModuleGraph_ValidateTypeOnlyErrorsAreTolerated(t *testing.T) {
	g := New()
	diag := &resolver.Diagnostic{Specifier: "types-pkg", Referrer: "file:///app/main.ts", Message: "nope"}
	m := esmWithDeps("file:///app/main.ts", nil)
	m.Dependencies["types-pkg"] = &Dependency{
		Specifier: "types-pkg",
		TypeOnly:  true,
		Code:      &ResolutionErr{Diagnostic: diag},
	}
	g.Insert(m)

	assert.NoError(t, g.Validate([]string{"file:///app/main.ts"}))
}

func TestModuleGraph_CloneIsIndependent(t *testing.T) {
	g := New()
	g.Insert(esmWithDeps("file:///app/main.ts", nil))

	clone := g.Clone()
	clone.Insert(esmWithDeps("file:///app/extra.ts", nil))

	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 2, clone.Len())
}
