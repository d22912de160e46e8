package resolver

import (
	"fmt"
	"strings"
)

// NpmPackageReqReference is a parsed npm requirement specifier of the form
// npm:name[@version-range][/subpath], e.g. npm:chalk@^5/source/index.js.
type NpmPackageReqReference struct {
	Name       string
	VersionReq string
	SubPath    string
}

// String renders the reference back to its specifier form.
func (r NpmPackageReqReference) String() string {
	s := "npm:" + r.Name
	if r.VersionReq != "" {
		s += "@" + r.VersionReq
	}
	if r.SubPath != "" {
		s += "/" + r.SubPath
	}
	return s
}

// ParseNpmPackageReqReference parses an npm requirement specifier. It
// returns an error when the specifier does not carry the npm: scheme or
// names no package.
func ParseNpmPackageReqReference(specifier string) (NpmPackageReqReference, error) {
	body, ok := strings.CutPrefix(specifier, "npm:")
	if !ok {
		return NpmPackageReqReference{}, fmt.Errorf("not an npm requirement: %q", specifier)
	}
	body = strings.TrimPrefix(body, "/")
	if body == "" {
		return NpmPackageReqReference{}, fmt.Errorf("npm requirement %q names no package", specifier)
	}

	// Scoped packages keep their first slash as part of the name.
	nameParts := 1
	if strings.HasPrefix(body, "@") {
		nameParts = 2
	}

	segments := strings.SplitN(body, "/", nameParts+1)
	if len(segments) < nameParts {
		return NpmPackageReqReference{}, fmt.Errorf("npm requirement %q has a malformed scope", specifier)
	}
	nameAndVersion := strings.Join(segments[:nameParts], "/")
	subPath := ""
	if len(segments) > nameParts {
		subPath = segments[nameParts]
	}

	name, versionReq := splitNameVersion(nameAndVersion)
	if name == "" {
		return NpmPackageReqReference{}, fmt.Errorf("npm requirement %q names no package", specifier)
	}

	return NpmPackageReqReference{Name: name, VersionReq: versionReq, SubPath: subPath}, nil
}

func splitNameVersion(nameAndVersion string) (string, string) {
	// The @ separating a version never sits at index 0; that position
	// belongs to the scope marker.
	at := strings.LastIndex(nameAndVersion, "@")
	if at <= 0 {
		return nameAndVersion, ""
	}
	return nameAndVersion[:at], nameAndVersion[at+1:]
}

// LooksLikeNpmReqReference reports whether a raw specifier could parse as
// an npm requirement. Used by the REPL resolution fallback.
func LooksLikeNpmReqReference(specifier string) bool {
	_, err := ParseNpmPackageReqReference(specifier)
	return err == nil
}
