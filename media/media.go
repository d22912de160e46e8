// Package media classifies module specifiers by the kind of source they
// carry and decides how the loader must treat each kind.
package media

import (
	"net/url"
	"path"
	"strings"
)

// Type identifies the source flavor of a module.
type Type int

const (
	JavaScript Type = iota
	Jsx
	Mjs
	Cjs
	TypeScript
	Mts
	Cts
	Dts
	Dmts
	Dcts
	Tsx
	Json
	Wasm
	SourceMap
	Unknown
)

// String returns the canonical file extension style name for the type.
func (t Type) String() string {
	switch t {
	case JavaScript:
		return "JavaScript"
	case Jsx:
		return "JSX"
	case Mjs:
		return "Mjs"
	case Cjs:
		return "Cjs"
	case TypeScript:
		return "TypeScript"
	case Mts:
		return "Mts"
	case Cts:
		return "Cts"
	case Dts:
		return "Dts"
	case Dmts:
		return "Dmts"
	case Dcts:
		return "Dcts"
	case Tsx:
		return "TSX"
	case Json:
		return "Json"
	case Wasm:
		return "Wasm"
	case SourceMap:
		return "SourceMap"
	default:
		return "Unknown"
	}
}

// FromSpecifier derives the media type from a specifier's path extension.
// Query strings and fragments do not participate.
func FromSpecifier(specifier string) Type {
	p := specifier
	if u, err := url.Parse(specifier); err == nil && u.Scheme != "" {
		p = u.Path
	}
	return FromPath(p)
}

// FromPath derives the media type from a file path.
func FromPath(filePath string) Type {
	base := path.Base(filePath)
	lower := strings.ToLower(base)

	// Declaration files carry a double extension.
	switch {
	case strings.HasSuffix(lower, ".d.ts"):
		return Dts
	case strings.HasSuffix(lower, ".d.mts"):
		return Dmts
	case strings.HasSuffix(lower, ".d.cts"):
		return Dcts
	}

	switch path.Ext(lower) {
	case ".js":
		return JavaScript
	case ".jsx":
		return Jsx
	case ".mjs":
		return Mjs
	case ".cjs":
		return Cjs
	case ".ts":
		return TypeScript
	case ".mts":
		return Mts
	case ".cts":
		return Cts
	case ".tsx":
		return Tsx
	case ".json":
		return Json
	case ".wasm":
		return Wasm
	case ".map":
		return SourceMap
	default:
		return Unknown
	}
}

// IsDeclaration reports whether the type is a type-only declaration source
// that never executes.
func (t Type) IsDeclaration() bool {
	switch t {
	case Dts, Dmts, Dcts:
		return true
	default:
		return false
	}
}

// IsEmittable reports whether sources of this type must pass through the
// transpiling emitter before execution.
func (t Type) IsEmittable() bool {
	switch t {
	case TypeScript, Mts, Cts, Jsx, Tsx:
		return true
	default:
		return false
	}
}

// ModuleType is the coarse tag the execution engine distinguishes on.
type ModuleType int

const (
	ModuleJavaScript ModuleType = iota
	ModuleJson
)

// String returns "JavaScript" or "Json".
func (m ModuleType) String() string {
	if m == ModuleJson {
		return "Json"
	}
	return "JavaScript"
}

// AsModuleType maps a media type to the engine-facing module type.
func (t Type) AsModuleType() ModuleType {
	if t == Json {
		return ModuleJson
	}
	return ModuleJavaScript
}
