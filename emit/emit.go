// Package emit defines the transpilation contract for TypeScript and
// JSX-bearing sources. The emitter itself is an external collaborator; this
// package carries its interface and a cache-freeing decorator.
package emit

import (
	"github.com/skiffworks/skiff/cache"
	"github.com/skiffworks/skiff/media"
)

// Emitter turns typed source into plain JavaScript.
type Emitter interface {
	Emit(specifier string, mediaType media.Type, source string) (string, error)
}

// Func adapts a function to the Emitter interface.
type Func func(specifier string, mediaType media.Type, source string) (string, error)

// Emit implements Emitter.
func (f Func) Emit(specifier string, mediaType media.Type, source string) (string, error) {
	return f(specifier, mediaType, source)
}

// FreeingEmitter wraps an emitter and drops the parsed source cache entry
// once a specifier's code has been produced; the parse result is never
// needed after emission.
type FreeingEmitter struct {
	inner   Emitter
	sources *cache.ParsedSourceCache
}

// NewFreeingEmitter decorates inner with post-emit cache eviction.
func NewFreeingEmitter(inner Emitter, sources *cache.ParsedSourceCache) *FreeingEmitter {
	return &FreeingEmitter{inner: inner, sources: sources}
}

// Emit implements Emitter.
func (e *FreeingEmitter) Emit(specifier string, mediaType media.Type, source string) (string, error) {
	code, err := e.inner.Emit(specifier, mediaType, source)
	if err != nil {
		return "", err
	}
	e.sources.Free(specifier)
	return code, nil
}
