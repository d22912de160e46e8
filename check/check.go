// Package check defines the whole-program type checking contract the load
// preparer gates execution behind. Checker internals live outside this
// module; only the call contract and diagnostics shape are defined here.
package check

import (
	"context"
	"fmt"
	"strings"

	"github.com/skiffworks/skiff/graph"
)

// Mode selects how much of the graph is type checked.
type Mode int

const (
	// ModeNone disables type checking entirely.
	ModeNone Mode = iota
	// ModeLocal checks local code but not remote dependencies.
	ModeLocal
	// ModeAll checks everything reachable from the roots.
	ModeAll
)

// TypeLib is the ambient library variant a root set is checked against.
type TypeLib int

const (
	// LibWindow is the main-thread library variant.
	LibWindow TypeLib = iota
	// LibWorker is the worker-thread library variant.
	LibWorker
)

// String returns the registry key form of the variant.
func (l TypeLib) String() string {
	if l == LibWorker {
		return "worker"
	}
	return "window"
}

// Diagnostic is one reported type error.
type Diagnostic struct {
	Specifier string
	Line      int
	Message   string
}

// Error aggregates checker diagnostics; its presence aborts preparation of
// the affected roots.
type Error struct {
	Diagnostics []Diagnostic
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	for i, d := range e.Diagnostics {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s:%d - %s", d.Specifier, d.Line, d.Message)
	}
	return b.String()
}

// Options scope one checker invocation.
type Options struct {
	Lib TypeLib
	// Reload forces re-checking of sources the checker may have cached.
	Reload bool
	// LogIgnoredOptions surfaces compiler options the checker dropped.
	LogIgnoredOptions bool
}

// Checker validates a graph segment. Implementations live outside this
// module and are injected.
type Checker interface {
	Check(ctx context.Context, segment *graph.ModuleGraph, opts Options) error
}

// NopChecker accepts everything. Used when checking is disabled and as a
// test default.
type NopChecker struct{}

// Check implements Checker.
func (NopChecker) Check(ctx context.Context, segment *graph.ModuleGraph, opts Options) error {
	return nil
}
