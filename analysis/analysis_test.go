package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/media"
)

func specifiers(info *ModuleInfo) []string {
	out := make([]string, 0, len(info.Dependencies))
	for _, d := range info.Dependencies {
		out = append(out, d.Specifier)
	}
	return out
}

func TestParseModuleInfo_TypeScriptImports(t *testing.T) {
	source := []byte(`
import { join } from "node:path";
import util from "./util.ts";
import type { Config } from "./config.ts";
export { helper } from "../lib/helper.ts";

const x = 1;
`)
	info, err := ParseModuleInfo(source, media.TypeScript)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"node:path", "./util.ts", "./config.ts", "../lib/helper.ts",
	}, specifiers(info))
}

func TestParseModuleInfo_TypeOnlyDetection(t *testing.T) {
	source := []byte(`
import type { Config } from "./config.ts";
import { run } from "./run.ts";
`)
	info, err := ParseModuleInfo(source, media.TypeScript)
	require.NoError(t, err)
	require.Len(t, info.Dependencies, 2)

	byName := map[string]DependencyDescriptor{}
	for _, d := range info.Dependencies {
		byName[d.Specifier] = d
	}
	assert.True(t, byName["./config.ts"].TypeOnly)
	assert.False(t, byName["./run.ts"].TypeOnly)
}

func TestParseModuleInfo_Positions(t *testing.T) {
	source := []byte(`import a from "./a.ts";` + "\n" + `import b from "./b.ts";`)
	info, err := ParseModuleInfo(source, media.TypeScript)
	require.NoError(t, err)
	require.Len(t, info.Dependencies, 2)

	assert.Equal(t, 1, info.Dependencies[0].Position.Line)
	assert.Equal(t, 2, info.Dependencies[1].Position.Line)
}

func TestParseModuleInfo_JavaScriptAndJsx(t *testing.T) {
	source := []byte(`
import React from "react";
export * from "./other.js";
const el = <div>{React.version}</div>;
`)
	info, err := ParseModuleInfo(source, media.Jsx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"react", "./other.js"}, specifiers(info))
}

func TestParseModuleInfo_Tsx(t *testing.T) {
	source := []byte(`
import { App } from "./app.tsx";
export const root = <App />;
`)
	info, err := ParseModuleInfo(source, media.Tsx)
	require.NoError(t, err)
	assert.Equal(t, []string{"./app.tsx"}, specifiers(info))
}

func TestParseModuleInfo_NoImports(t *testing.T) {
	info, err := ParseModuleInfo([]byte("const x = 1;\n"), media.JavaScript)
	require.NoError(t, err)
	assert.Empty(t, info.Dependencies)
}

func TestParseModuleInfo_DeduplicatesSpecifiers(t *testing.T) {
	source := []byte(`
import { a } from "./mod.ts";
import { b } from "./mod.ts";
`)
	info, err := ParseModuleInfo(source, media.TypeScript)
	require.NoError(t, err)
	assert.Len(t, info.Dependencies, 1)
}

func TestParseModuleInfo_ValueImportDominatesTypeOnly(t *testing.T) {
	cases := []struct {
		name     string
		source   string
		typeOnly bool
	}{
		{
			name:     "type-only first",
			source:   "import type { T } from \"./mod.ts\";\nimport { v } from \"./mod.ts\";\n",
			typeOnly: false,
		},
		{
			name:     "value first",
			source:   "import { v } from \"./mod.ts\";\nimport type { T } from \"./mod.ts\";\n",
			typeOnly: false,
		},
		{
			name:     "type-only everywhere",
			source:   "import type { T } from \"./mod.ts\";\nimport type { U } from \"./mod.ts\";\n",
			typeOnly: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := ParseModuleInfo([]byte(tc.source), media.TypeScript)
			require.NoError(t, err)
			require.Len(t, info.Dependencies, 1)
			assert.Equal(t, tc.typeOnly, info.Dependencies[0].TypeOnly)
		})
	}
}
