package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/graph"
	"github.com/skiffworks/skiff/media"
)

func TestLockfile_RecordsAndVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skiff.lock")

	l, err := New(path)
	require.NoError(t, err)

	require.NoError(t, l.Check("file:///app/main.ts", "export {};"))
	require.NoError(t, l.Write())

	// Reload and verify the same content passes.
	l2, err := New(path)
	require.NoError(t, err)
	require.NoError(t, l2.Check("file:///app/main.ts", "export {};"))
}

func TestLockfile_MismatchIsIntegrityError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skiff.lock")

	l, err := New(path)
	require.NoError(t, err)
	require.NoError(t, l.Check("file:///app/main.ts", "export {};"))
	require.NoError(t, l.Write())

	l2, err := New(path)
	require.NoError(t, err)
	err = l2.Check("file:///app/main.ts", "export const tampered = true;")
	require.Error(t, err)

	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "file:///app/main.ts", integrity.Specifier)
	assert.NotEqual(t, integrity.Expected, integrity.Actual)
}

func TestLockfile_VerifyGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skiff.lock")
	l, err := New(path)
	require.NoError(t, err)

	g := graph.New()
	g.Insert(&graph.EsmModule{ModuleSpecifier: "file:///app/main.ts", Source: "export {};", MediaType: media.TypeScript, Dependencies: map[string]*graph.Dependency{}})
	g.Insert(&graph.JsonModule{ModuleSpecifier: "file:///app/config.json", Source: "{}", MediaType: media.Json})
	g.Insert(&graph.NodeModule{ModuleSpecifier: "node:fs", ModuleName: "fs"})

	require.NoError(t, l.Verify(g))
	require.NoError(t, l.Write())

	// Tampering with one module fails verification on reload.
	g2 := graph.New()
	g2.Insert(&graph.EsmModule{ModuleSpecifier: "file:///app/main.ts", Source: "export const x = 1;", MediaType: media.TypeScript, Dependencies: map[string]*graph.Dependency{}})

	l2, err := New(path)
	require.NoError(t, err)
	var integrity *IntegrityError
	require.ErrorAs(t, l2.Verify(g2), &integrity)
}

func TestLockfile_WriteOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skiff.lock")
	l, err := New(path)
	require.NoError(t, err)
	require.NoError(t, l.Check("file:///a.ts", "a"))
	require.NoError(t, l.Write())

	info, err := os.Stat(path)
	require.NoError(t, err)
	before := info.ModTime()

	// No changes since the last write.
	require.NoError(t, l.Write())
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before, info.ModTime())
}

func TestLockfile_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skiff.lock")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := New(path)
	assert.Error(t, err)
}
