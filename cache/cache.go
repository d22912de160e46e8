// Package cache bounds the memory held by parsed module sources. Entries
// are created on first parse and freed eagerly once a module's code has
// been emitted, with an LRU cap as the backstop.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skiffworks/skiff/analysis"
	"github.com/skiffworks/skiff/media"
)

// DefaultCapacity bounds the number of parsed sources retained at once.
const DefaultCapacity = 256

// ParsedSourceCache maps specifiers to their parse results.
type ParsedSourceCache struct {
	entries *lru.Cache[string, *analysis.ModuleInfo]
}

// NewParsedSourceCache returns a cache bounded to capacity entries. A
// non-positive capacity selects DefaultCapacity.
func NewParsedSourceCache(capacity int) *ParsedSourceCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, *analysis.ModuleInfo](capacity)
	if err != nil {
		// lru.New fails only on a non-positive size.
		panic(err)
	}
	return &ParsedSourceCache{entries: entries}
}

// ModuleInfo returns the parse result for a specifier, parsing the source
// on a cache miss.
func (c *ParsedSourceCache) ModuleInfo(specifier string, mediaType media.Type, source []byte) (*analysis.ModuleInfo, error) {
	if info, ok := c.entries.Get(specifier); ok {
		return info, nil
	}
	info, err := analysis.ParseModuleInfo(source, mediaType)
	if err != nil {
		return nil, err
	}
	c.entries.Add(specifier, info)
	return info, nil
}

// Free drops the entry for a specifier. Called after emit, when the parse
// result can no longer be needed.
func (c *ParsedSourceCache) Free(specifier string) {
	c.entries.Remove(specifier)
}

// Len reports the number of retained entries.
func (c *ParsedSourceCache) Len() int {
	return c.entries.Len()
}
