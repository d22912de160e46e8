// Package node implements Node.js-compatible resolution: core builtins,
// node_modules package lookup, file/index probing, and CommonJS vs ESM
// detection. Resolution inside an npm realm never consults import maps.
package node

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/skiffworks/skiff/media"
	"github.com/skiffworks/skiff/permissions"
	"github.com/skiffworks/skiff/resolver"
)

// ResolutionKind tags the outcome of a Node resolution.
type ResolutionKind int

const (
	// Esm is a standard module resolved to a file URL.
	Esm ResolutionKind = iota
	// CommonJs is a module that requires CJS-to-ESM translation.
	CommonJs
	// BuiltIn is a Node core module provided by the runtime.
	BuiltIn
)

// Resolution is the tagged result of Node.js-compatible resolution.
type Resolution struct {
	Kind      ResolutionKind
	Specifier string
}

// URL returns the resolved specifier for loading. Builtins map into the
// node: namespace.
func (r *Resolution) URL() string {
	if r.Kind == BuiltIn {
		return "node:" + r.Specifier
	}
	return r.Specifier
}

// ResolveBuiltinModule maps a bare builtin name into the node: namespace.
// Unknown names are a hard error.
func ResolveBuiltinModule(name string) (string, error) {
	if !IsBuiltin(name) {
		return "", fmt.Errorf("unknown built-in \"node:%s\" module", name)
	}
	return "node:" + name, nil
}

// Resolver performs Node.js-compatible resolution rooted at a directory
// whose node_modules tree holds installed packages.
type Resolver struct {
	rootDir string
}

// NewResolver returns a resolver whose package lookups start from rootDir.
func NewResolver(rootDir string) *Resolver {
	return &Resolver{rootDir: filepath.Clean(rootDir)}
}

// InNpmPackage reports whether the specifier lies inside an installed
// package realm.
func (r *Resolver) InNpmPackage(specifier string) bool {
	u, err := url.Parse(specifier)
	if err != nil || u.Scheme != "file" {
		return false
	}
	return strings.Contains(u.Path, "/node_modules/")
}

// Resolve runs the Node.js resolution algorithm for a specifier imported
// from referrer. The permission snapshot gates filesystem probing.
func (r *Resolver) Resolve(specifier, referrer string, perms *permissions.Container) (*Resolution, error) {
	if name, ok := strings.CutPrefix(specifier, "node:"); ok {
		if !IsBuiltin(name) {
			return nil, fmt.Errorf("unknown built-in \"node:%s\" module", name)
		}
		return &Resolution{Kind: BuiltIn, Specifier: name}, nil
	}
	if IsBuiltin(specifier) {
		return &Resolution{Kind: BuiltIn, Specifier: specifier}, nil
	}

	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		base, err := url.Parse(referrer)
		if err != nil || base.Scheme != "file" {
			return nil, fmt.Errorf("cannot resolve %q: referrer %q is not a file URL", specifier, referrer)
		}
		ref, err := url.Parse(specifier)
		if err != nil {
			return nil, fmt.Errorf("invalid specifier %q: %w", specifier, err)
		}
		resolved := base.ResolveReference(ref)
		return r.resolveFile(resolved.Path, perms)
	}

	// Bare specifier: walk node_modules directories up from the referrer.
	pkgName, subPath := splitPackageSpecifier(specifier)
	startDir := r.rootDir
	if u, err := url.Parse(referrer); err == nil && u.Scheme == "file" {
		startDir = filepath.Dir(u.Path)
	}
	pkgDir, err := r.findPackageDir(pkgName, startDir)
	if err != nil {
		return nil, err
	}
	return r.resolveInPackage(pkgDir, subPath, perms)
}

// ResolveNpmReference resolves a name@version reference recorded in the
// graph, e.g. from an Npm module node.
func (r *Resolver) ResolveNpmReference(nvReference, subPath string, perms *permissions.Container) (*Resolution, error) {
	name, _ := splitNameVersion(nvReference)
	pkgDir, err := r.findPackageDir(name, r.rootDir)
	if err != nil {
		return nil, err
	}
	return r.resolveInPackage(pkgDir, subPath, perms)
}

// ResolveNpmReqReference resolves a parsed npm requirement against the
// installed package tree.
func (r *Resolver) ResolveNpmReqReference(ref resolver.NpmPackageReqReference, perms *permissions.Container) (*Resolution, error) {
	pkgDir, err := r.findPackageDir(ref.Name, r.rootDir)
	if err != nil {
		return nil, err
	}
	return r.resolveInPackage(pkgDir, ref.SubPath, perms)
}

// ReqReferenceToNv maps an npm requirement to the installed name@version
// reference, reading the package manifest for the concrete version.
func (r *Resolver) ReqReferenceToNv(ref resolver.NpmPackageReqReference) (string, error) {
	pkgDir, err := r.findPackageDir(ref.Name, r.rootDir)
	if err != nil {
		return "", err
	}
	manifest, err := readPackageJSON(pkgDir)
	if err != nil {
		return "", err
	}
	version := manifest.Version
	if version == "" {
		version = ref.VersionReq
	}
	return ref.Name + "@" + version, nil
}

// ResolveIntoNodeModules remaps an external graph specifier onto its
// on-disk form, probing extensions and index files the way require() does.
func (r *Resolver) ResolveIntoNodeModules(specifier string) string {
	u, err := url.Parse(specifier)
	if err != nil || u.Scheme != "file" {
		return specifier
	}
	if path, ok := probeFile(u.Path); ok {
		return "file://" + path
	}
	return specifier
}

func (r *Resolver) resolveFile(path string, perms *permissions.Container) (*Resolution, error) {
	resolved, ok := probeFile(path)
	if !ok {
		return nil, fmt.Errorf("module %q not found", path)
	}
	if err := perms.CheckRead(resolved); err != nil {
		return nil, err
	}
	kind, err := r.classify(resolved)
	if err != nil {
		return nil, err
	}
	return &Resolution{Kind: kind, Specifier: "file://" + resolved}, nil
}

func (r *Resolver) resolveInPackage(pkgDir, subPath string, perms *permissions.Container) (*Resolution, error) {
	manifest, err := readPackageJSON(pkgDir)
	if err != nil {
		return nil, err
	}

	entry := subPath
	if entry == "" {
		entry = manifest.entryPoint()
	}
	resolved, ok := probeFile(filepath.Join(pkgDir, entry))
	if !ok {
		return nil, fmt.Errorf("entry %q not found in package %q", entry, pkgDir)
	}
	if err := perms.CheckRead(resolved); err != nil {
		return nil, err
	}
	kind, err := r.classify(resolved)
	if err != nil {
		return nil, err
	}
	return &Resolution{Kind: kind, Specifier: "file://" + resolved}, nil
}

// classify decides CJS vs ESM from the extension, falling back to the
// nearest package manifest's type field.
func (r *Resolver) classify(path string) (ResolutionKind, error) {
	switch media.FromPath(path) {
	case media.Cjs, media.Cts:
		return CommonJs, nil
	case media.Mjs, media.Mts:
		return Esm, nil
	case media.Json:
		return Esm, nil
	}

	dir := filepath.Dir(path)
	for {
		manifest, err := readPackageJSON(dir)
		if err == nil {
			if manifest.Type == "module" {
				return Esm, nil
			}
			return CommonJs, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir || !strings.Contains(dir, "node_modules") {
			break
		}
		dir = parent
	}
	return CommonJs, nil
}

// findPackageDir walks node_modules directories from startDir upward.
func (r *Resolver) findPackageDir(pkgName, startDir string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, "node_modules", pkgName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// Fall back to the configured root when the referrer sits outside it.
	candidate := filepath.Join(r.rootDir, "node_modules", pkgName)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate, nil
	}
	return "", fmt.Errorf("package %q not found in node_modules", pkgName)
}

// probeFile checks the exact path, then require()-style extension and
// index candidates.
func probeFile(path string) (string, bool) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}
	for _, ext := range []string{".js", ".mjs", ".cjs", ".json"} {
		candidate := path + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	for _, index := range []string{"index.js", "index.mjs", "index.cjs", "index.json"} {
		candidate := filepath.Join(path, index)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func splitPackageSpecifier(specifier string) (string, string) {
	parts := 1
	if strings.HasPrefix(specifier, "@") {
		parts = 2
	}
	segments := strings.SplitN(specifier, "/", parts+1)
	name := strings.Join(segments[:min(parts, len(segments))], "/")
	if len(segments) > parts {
		return name, segments[parts]
	}
	return name, ""
}

func splitNameVersion(nvReference string) (string, string) {
	at := strings.LastIndex(nvReference, "@")
	if at <= 0 {
		return nvReference, ""
	}
	return nvReference[:at], nvReference[at+1:]
}

type packageJSON struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Type    string          `json:"type"`
	Exports json.RawMessage `json:"exports"`
}

func (p *packageJSON) entryPoint() string {
	if len(p.Exports) > 0 {
		if entry := entryFromExports(p.Exports); entry != "" {
			return entry
		}
	}
	if p.Main != "" {
		return p.Main
	}
	return "index.js"
}

// entryFromExports handles the common exports shapes: a bare string, a
// conditions object, or a subpath map with a "." entry.
func entryFromExports(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if dot, ok := obj["."]; ok {
		return entryFromExports(dot)
	}
	for _, condition := range []string{"import", "require", "default"} {
		if v, ok := obj[condition]; ok {
			return entryFromExports(v)
		}
	}
	return ""
}

func readPackageJSON(pkgDir string) (*packageJSON, error) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("reading package manifest in %q: %w", pkgDir, err)
	}
	var manifest packageJSON
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing package manifest in %q: %w", pkgDir, err)
	}
	return &manifest, nil
}
