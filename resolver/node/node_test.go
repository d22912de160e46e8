package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/permissions"
	"github.com/skiffworks/skiff/resolver"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// installPackage lays out root/node_modules/<name> with a manifest and an
// entry file.
func installPackage(t *testing.T, root, name, version, pkgType string) string {
	t.Helper()
	pkgDir := filepath.Join(root, "node_modules", name)
	manifest := `{"name": "` + name + `", "version": "` + version + `", "main": "index.js"`
	if pkgType != "" {
		manifest += `, "type": "` + pkgType + `"`
	}
	manifest += `}`
	writeFile(t, filepath.Join(pkgDir, "package.json"), manifest)
	writeFile(t, filepath.Join(pkgDir, "index.js"), "module.exports = {};")
	return pkgDir
}

func TestResolveBuiltinModule(t *testing.T) {
	target, err := ResolveBuiltinModule("fs")
	require.NoError(t, err)
	assert.Equal(t, "node:fs", target)

	_, err = ResolveBuiltinModule("not-a-builtin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node:not-a-builtin")
}

func TestResolver_BuiltinSpecifiers(t *testing.T) {
	r := NewResolver(t.TempDir())

	for _, specifier := range []string{"node:fs", "fs", "fs/promises", "node:path"} {
		res, err := r.Resolve(specifier, "file:///app/main.js", permissions.AllowAll())
		require.NoError(t, err, specifier)
		assert.Equal(t, BuiltIn, res.Kind, specifier)
	}

	res, err := r.Resolve("node:fs", "file:///app/main.js", permissions.AllowAll())
	require.NoError(t, err)
	assert.Equal(t, "node:fs", res.URL())

	_, err = r.Resolve("node:bogus", "file:///app/main.js", permissions.AllowAll())
	assert.Error(t, err)
}

func TestResolver_BarePackage(t *testing.T) {
	root := t.TempDir()
	installPackage(t, root, "leftpad", "1.3.0", "")
	r := NewResolver(root)

	referrer := "file://" + filepath.Join(root, "main.js")
	res, err := r.Resolve("leftpad", referrer, permissions.AllowAll())
	require.NoError(t, err)
	assert.Equal(t, CommonJs, res.Kind)
	assert.Contains(t, res.Specifier, "node_modules/leftpad/index.js")
}

func TestResolver_PackageTypeModuleIsEsm(t *testing.T) {
	root := t.TempDir()
	installPackage(t, root, "esm-pkg", "2.0.0", "module")
	r := NewResolver(root)

	res, err := r.Resolve("esm-pkg", "file://"+filepath.Join(root, "main.js"), permissions.AllowAll())
	require.NoError(t, err)
	assert.Equal(t, Esm, res.Kind)
}

func TestResolver_RelativeInsidePackage(t *testing.T) {
	root := t.TempDir()
	pkgDir := installPackage(t, root, "leftpad", "1.3.0", "")
	writeFile(t, filepath.Join(pkgDir, "lib", "util.cjs"), "module.exports = 1;")
	r := NewResolver(root)

	referrer := "file://" + filepath.Join(pkgDir, "index.js")
	res, err := r.Resolve("./lib/util.cjs", referrer, permissions.AllowAll())
	require.NoError(t, err)
	assert.Equal(t, CommonJs, res.Kind)
	assert.Contains(t, res.Specifier, "lib/util.cjs")
}

func TestResolver_InNpmPackage(t *testing.T) {
	r := NewResolver("/app")

	assert.True(t, r.InNpmPackage("file:///app/node_modules/leftpad/index.js"))
	assert.False(t, r.InNpmPackage("file:///app/main.ts"))
	assert.False(t, r.InNpmPackage("node:fs"))
	assert.False(t, r.InNpmPackage("npm:chalk"))
}

func TestResolver_NpmReqReference(t *testing.T) {
	root := t.TempDir()
	installPackage(t, root, "chalk", "5.3.0", "")
	r := NewResolver(root)

	ref, err := resolver.ParseNpmPackageReqReference("npm:chalk@^5")
	require.NoError(t, err)

	nv, err := r.ReqReferenceToNv(ref)
	require.NoError(t, err)
	assert.Equal(t, "chalk@5.3.0", nv)

	res, err := r.ResolveNpmReqReference(ref, permissions.AllowAll())
	require.NoError(t, err)
	assert.Equal(t, CommonJs, res.Kind)

	res, err = r.ResolveNpmReference(nv, "", permissions.AllowAll())
	require.NoError(t, err)
	assert.Contains(t, res.Specifier, "node_modules/chalk/index.js")
}

func TestResolver_MissingPackage(t *testing.T) {
	r := NewResolver(t.TempDir())

	_, err := r.Resolve("ghost-pkg", "file:///app/main.js", permissions.AllowAll())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost-pkg")
}

func TestResolveIntoNodeModules_ProbesExtensions(t *testing.T) {
	root := t.TempDir()
	pkgDir := installPackage(t, root, "leftpad", "1.3.0", "")
	r := NewResolver(root)

	bare := "file://" + filepath.Join(pkgDir, "index")
	assert.Equal(t, "file://"+filepath.Join(pkgDir, "index.js"), r.ResolveIntoNodeModules(bare))

	// Non-file specifiers pass through unchanged.
	assert.Equal(t, "npm:chalk", r.ResolveIntoNodeModules("npm:chalk"))
}

func TestEntryFromExports(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "modern")
	writeFile(t, filepath.Join(pkgDir, "package.json"),
		`{"name": "modern", "version": "1.0.0", "type": "module",
		  "exports": {".": {"import": "./esm/index.js", "require": "./cjs/index.js"}}}`)
	writeFile(t, filepath.Join(pkgDir, "esm", "index.js"), "export default 1;")
	r := NewResolver(root)

	res, err := r.Resolve("modern", "file://"+filepath.Join(root, "main.js"), permissions.AllowAll())
	require.NoError(t, err)
	assert.Equal(t, Esm, res.Kind)
	assert.Contains(t, res.Specifier, "esm/index.js")
}
