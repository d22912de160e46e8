// Package resolver implements generic import-map-aware specifier
// resolution and the parsing of package-manager requirement references.
package resolver

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/skiffworks/skiff/importmap"
)

// Diagnostic describes a failed resolution with enough context to render
// to the user. It is stored on graph edges and surfaced unchanged.
type Diagnostic struct {
	Specifier string
	Referrer  string
	Message   string
	Line      int
	Column    int
}

// Error implements error.
func (d *Diagnostic) Error() string {
	return d.StringWithRange()
}

// StringWithRange renders the diagnostic with its source position when one
// was recorded.
func (d *Diagnostic) StringWithRange() string {
	msg := fmt.Sprintf("%s\n    at %s", d.Message, d.Referrer)
	if d.Line > 0 {
		msg = fmt.Sprintf("%s:%d:%d", msg, d.Line, d.Column)
	}
	return msg
}

// GraphResolver resolves import specifiers to absolute target specifiers,
// consulting an optional import map before standard URL resolution.
type GraphResolver struct {
	importMap *importmap.ImportMap
}

// NewGraphResolver returns a resolver over the given import map, which may
// be nil.
func NewGraphResolver(m *importmap.ImportMap) *GraphResolver {
	return &GraphResolver{importMap: m}
}

// Resolve maps a raw import specifier to an absolute specifier. Relative
// specifiers resolve against the referrer; bare specifiers must be covered
// by the import map or carry their own scheme.
func (r *GraphResolver) Resolve(specifier, referrer string) (string, error) {
	if target, ok := r.importMap.Resolve(specifier, referrer); ok {
		return target, nil
	}

	if u, err := url.Parse(specifier); err == nil && u.Scheme != "" {
		return specifier, nil
	}

	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || strings.HasPrefix(specifier, "/") {
		base, err := url.Parse(referrer)
		if err != nil || base.Scheme == "" {
			return "", &Diagnostic{
				Specifier: specifier,
				Referrer:  referrer,
				Message:   fmt.Sprintf("invalid referrer %q for relative specifier %q", referrer, specifier),
			}
		}
		ref, err := url.Parse(specifier)
		if err != nil {
			return "", &Diagnostic{
				Specifier: specifier,
				Referrer:  referrer,
				Message:   fmt.Sprintf("invalid specifier %q", specifier),
			}
		}
		return base.ResolveReference(ref).String(), nil
	}

	return "", &Diagnostic{
		Specifier: specifier,
		Referrer:  referrer,
		Message:   fmt.Sprintf("relative import path %q not prefixed with / or ./ or ../ and not remapped by an import map", specifier),
	}
}

// ResolveURL parses a specifier that must already be an absolute URL.
func ResolveURL(specifier string) (string, error) {
	u, err := url.Parse(specifier)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("invalid module specifier %q", specifier)
	}
	return u.String(), nil
}

// ResolveURLOrPath interprets a raw CLI argument as either an absolute URL
// or a filesystem path relative to cwd.
func ResolveURLOrPath(raw, cwd string) (string, error) {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return u.String(), nil
	}
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	path = filepath.ToSlash(filepath.Clean(path))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "file://" + path, nil
}
