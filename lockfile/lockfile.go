// Package lockfile records content integrity hashes for resolved modules
// and verifies graphs against them. A hash mismatch is never tolerated.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/skiffworks/skiff/graph"
)

// FormatVersion is written into new lockfiles.
const FormatVersion = "3"

// IntegrityError reports a module whose content no longer matches the
// recorded hash. Callers treat it as fatal.
type IntegrityError struct {
	Specifier string
	Expected  string
	Actual    string
}

// Error implements error.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf(
		"integrity check failed for %q\nexpected: %s\nactual:   %s\nthis could be caused by the contents changing since the lockfile was written",
		e.Specifier, e.Expected, e.Actual,
	)
}

// Lockfile maps module specifiers to sha256 content hashes.
type Lockfile struct {
	mu      sync.Mutex
	path    string
	version string
	remote  map[string]string
	dirty   bool
}

type fileFormat struct {
	Version string            `json:"version"`
	Remote  map[string]string `json:"remote"`
}

// New loads the lockfile at path, or starts an empty one when the file
// does not exist yet.
func New(path string) (*Lockfile, error) {
	l := &Lockfile{path: path, version: FormatVersion, remote: map[string]string{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.dirty = true
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lockfile %q: %w", path, err)
	}

	var decoded fileFormat
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parsing lockfile %q: %w", path, err)
	}
	if decoded.Version != "" {
		l.version = decoded.Version
	}
	if decoded.Remote != nil {
		l.remote = decoded.Remote
	}
	return l, nil
}

// HashSource computes the hash form stored in the lockfile.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Check verifies one module's source against the recorded hash, recording
// it when new. The first mismatch returns an IntegrityError.
func (l *Lockfile) Check(specifier, source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	actual := HashSource(source)
	expected, ok := l.remote[specifier]
	if !ok {
		l.remote[specifier] = actual
		l.dirty = true
		return nil
	}
	if expected != actual {
		return &IntegrityError{Specifier: specifier, Expected: expected, Actual: actual}
	}
	return nil
}

// Verify checks every source-carrying module in the graph against the
// recorded hashes, merging new entries. It stops at the first mismatch.
func (l *Lockfile) Verify(g *graph.ModuleGraph) error {
	for _, specifier := range g.Specifiers() {
		switch m := g.Get(specifier).(type) {
		case *graph.EsmModule:
			if err := l.Check(m.ModuleSpecifier, m.Source); err != nil {
				return err
			}
		case *graph.JsonModule:
			if err := l.Check(m.ModuleSpecifier, m.Source); err != nil {
				return err
			}
		}
	}
	return nil
}

// Write persists the lockfile when anything changed since load.
func (l *Lockfile) Write() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dirty {
		return nil
	}
	data, err := json.MarshalIndent(fileFormat{Version: l.version, Remote: l.remote}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing lockfile %q: %w", l.path, err)
	}
	l.dirty = false
	return nil
}

// Path returns the backing file path.
func (l *Lockfile) Path() string {
	return l.path
}
