package loader

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/skiffworks/skiff/graph"
	"github.com/skiffworks/skiff/media"
)

const sourceMapPrefix = "//# sourceMappingURL="
const inlineMapPrefix = sourceMapPrefix + "data:application/json;base64,"

// CodeWithoutSourceMap strips a trailing inline source map comment. Code
// without one is returned unchanged.
func CodeWithoutSourceMap(code string) string {
	idx := strings.LastIndex(code, "\n"+sourceMapPrefix)
	if idx < 0 {
		return code
	}
	rest := code[idx+1:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && strings.TrimSpace(rest[nl:]) != "" {
		// The comment is not the final line; leave the code alone.
		return code
	}
	return code[:idx+1]
}

// SourceMapFromCode extracts the decoded inline source map from a trailing
// base64 data URL comment, when present.
func SourceMapFromCode(code string) ([]byte, bool) {
	idx := strings.LastIndex(code, "\n"+inlineMapPrefix)
	if idx < 0 {
		return nil, false
	}
	payload := code[idx+1+len(inlineMapPrefix):]
	if nl := strings.IndexByte(payload, '\n'); nl >= 0 {
		if strings.TrimSpace(payload[nl:]) != "" {
			return nil, false
		}
		payload = payload[:nl]
	}
	payload = strings.TrimRight(payload, "\r \t")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// sourceMapSchemes are the only specifier schemes a debugger may ask maps
// for. Anything else is engine-internal and never has one.
var sourceMapSchemes = []string{"wasm:", "file:", "http:", "https:", "data:", "blob:"}

func eligibleForSourceMap(fileName string) bool {
	for _, scheme := range sourceMapSchemes {
		if strings.HasPrefix(fileName, scheme) {
			return true
		}
	}
	return false
}

// SourceMap returns the inline source map of a previously loaded module,
// re-emitting transpiled sources to recover the map, or nil when the file
// has none.
func (m *ModuleLoader) SourceMap(fileName string) []byte {
	if !eligibleForSourceMap(fileName) {
		return nil
	}
	source, mediaType, ok := m.graphSource(fileName)
	if !ok {
		return nil
	}
	if mediaType.IsEmittable() {
		emitted, err := m.state.Emitter.Emit(fileName, mediaType, source)
		if err != nil {
			return nil
		}
		if decoded, ok := SourceMapFromCode(emitted); ok {
			return decoded
		}
	}
	decoded, _ := SourceMapFromCode(source)
	return decoded
}

// SourceLine returns the 0-based line of a loaded module's original source
// for stack trace mapping. Out-of-range lines produce a descriptive
// placeholder rather than an error.
func (m *ModuleLoader) SourceLine(fileName string, line int) string {
	source, _, ok := m.graphSource(fileName)
	if !ok {
		return ""
	}
	lines := strings.Split(source, "\n")
	if line < 0 || line >= len(lines) {
		return fmt.Sprintf("couldn't find line %d in %s", line, fileName)
	}
	return lines[line]
}

func (m *ModuleLoader) graphSource(fileName string) (string, media.Type, bool) {
	switch mod := m.state.Container.Graph().Get(fileName).(type) {
	case *graph.EsmModule:
		return mod.Source, mod.MediaType, true
	case *graph.JsonModule:
		return mod.Source, mod.MediaType, true
	default:
		return "", media.Unknown, false
	}
}
