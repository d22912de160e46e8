// Package loader prepares module graphs for execution and serves resolve
// and load requests from the executing engine. It composes the graph
// builder, container, lockfile, type checker, emitter, and the CJS/ESM
// interop translator behind the engine-facing ModuleLoader.
package loader

import (
	"os"
	"sync"

	"github.com/skiffworks/skiff/check"
)

// Options mirror the caller-controlled flags that influence resolution and
// loading behavior.
type Options struct {
	// TypeCheckMode gates execution behind whole-program checking.
	TypeCheckMode check.Mode
	// Reload forces re-checking of roots not seen before in this process.
	Reload bool
	// Repl relaxes referrer requirements and enables the npm requirement
	// resolution fallback.
	Repl bool
	// InspectorAttached keeps inline source maps in loaded code.
	InspectorAttached bool
	// InitialCwd anchors relative root paths and the REPL pseudo-referrer.
	InitialCwd string
}

// Cwd returns the configured working directory, falling back to the
// process cwd.
func (o *Options) Cwd() string {
	if o.InitialCwd != "" {
		return o.InitialCwd
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "/"
}

// CjsResolutionStore is the monotonic set of specifiers known to require
// CommonJS-to-ESM translation. Entries are added for the lifetime of the
// process and never removed.
type CjsResolutionStore struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewCjsResolutionStore returns an empty store.
func NewCjsResolutionStore() *CjsResolutionStore {
	return &CjsResolutionStore{set: map[string]struct{}{}}
}

// Contains reports whether the specifier was resolved as CommonJS.
func (s *CjsResolutionStore) Contains(specifier string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[specifier]
	return ok
}

// Insert marks a specifier as CommonJS. Idempotent.
func (s *CjsResolutionStore) Insert(specifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[specifier] = struct{}{}
}
