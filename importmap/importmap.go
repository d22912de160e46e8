// Package importmap implements bare-specifier remapping through import
// maps: a top-level imports table plus referrer-scoped overrides, matched
// by exact entry or longest trailing-slash prefix.
package importmap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ImportMap holds the parsed imports and scopes tables.
type ImportMap struct {
	imports map[string]string
	// scopes maps a referrer URL prefix to its own imports table.
	scopes map[string]map[string]string
}

type rawImportMap struct {
	Imports map[string]string            `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes"`
}

// Parse decodes an import map from its JSON text.
func Parse(data []byte) (*ImportMap, error) {
	var raw rawImportMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing import map: %w", err)
	}
	m := &ImportMap{imports: raw.Imports, scopes: raw.Scopes}
	if m.imports == nil {
		m.imports = map[string]string{}
	}
	if m.scopes == nil {
		m.scopes = map[string]map[string]string{}
	}
	return m, nil
}

// New builds an import map from already-decoded tables.
func New(imports map[string]string, scopes map[string]map[string]string) *ImportMap {
	if imports == nil {
		imports = map[string]string{}
	}
	if scopes == nil {
		scopes = map[string]map[string]string{}
	}
	return &ImportMap{imports: imports, scopes: scopes}
}

// Resolve maps a specifier through the import map for the given referrer.
// The second return is false when no entry applies.
func (m *ImportMap) Resolve(specifier, referrer string) (string, bool) {
	if m == nil {
		return "", false
	}

	// Scoped tables win over the top-level table; among scopes the longest
	// matching prefix wins.
	for _, scope := range m.matchingScopes(referrer) {
		if target, ok := resolveInTable(m.scopes[scope], specifier); ok {
			return target, true
		}
	}

	return resolveInTable(m.imports, specifier)
}

func (m *ImportMap) matchingScopes(referrer string) []string {
	var matched []string
	for scope := range m.scopes {
		if strings.HasPrefix(referrer, scope) {
			matched = append(matched, scope)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return len(matched[i]) > len(matched[j])
	})
	return matched
}

func resolveInTable(table map[string]string, specifier string) (string, bool) {
	if target, ok := table[specifier]; ok {
		return target, true
	}

	// Trailing-slash entries remap whole prefixes; longest entry wins.
	bestKey := ""
	for key := range table {
		if !strings.HasSuffix(key, "/") {
			continue
		}
		if strings.HasPrefix(specifier, key) && len(key) > len(bestKey) {
			bestKey = key
		}
	}
	if bestKey == "" {
		return "", false
	}
	return table[bestKey] + strings.TrimPrefix(specifier, bestKey), true
}
