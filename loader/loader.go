package loader

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/skiffworks/skiff/cache"
	"github.com/skiffworks/skiff/check"
	"github.com/skiffworks/skiff/emit"
	"github.com/skiffworks/skiff/graph"
	"github.com/skiffworks/skiff/interop"
	"github.com/skiffworks/skiff/media"
	"github.com/skiffworks/skiff/permissions"
	"github.com/skiffworks/skiff/resolver"
	"github.com/skiffworks/skiff/resolver/node"
)

// ResolutionKind distinguishes static imports from dynamic import() calls,
// selecting which permission snapshot scopes the resolution.
type ResolutionKind int

const (
	// KindStatic is a static import declaration or a main-module root.
	KindStatic ResolutionKind = iota
	// KindDynamicImport is a runtime import() call.
	KindDynamicImport
)

// ModuleSource is the engine-facing load result. Specifier is the
// requested key; FoundSpecifier reflects redirects.
type ModuleSource struct {
	Code           string
	ModuleType     media.ModuleType
	Specifier      string
	FoundSpecifier string
}

// moduleCodeSource is the pre-gating internal load result.
type moduleCodeSource struct {
	code      string
	foundURL  string
	mediaType media.Type
}

// ProcessState bundles the per-process collaborators a module loader is
// built from. Constructed once at startup and shared by every loader.
type ProcessState struct {
	Options        *Options
	Container      *graph.Container
	CjsResolutions *CjsResolutionStore
	Emitter        emit.Emitter
	Preparer       *LoadPreparer
	Translator     *interop.Translator
	NodeResolver   *node.Resolver
	Sources        *cache.ParsedSourceCache
	Resolver       *resolver.GraphResolver
	Logger         *zap.Logger
}

// ModuleLoader serves the executing engine's resolve and load hooks.
type ModuleLoader struct {
	lib                check.TypeLib
	rootPermissions    *permissions.Container
	dynamicPermissions *permissions.Container
	state              *ProcessState
	logger             *zap.Logger
}

// NewModuleLoader returns a loader for the main thread, checked against
// the window library variant.
func NewModuleLoader(state *ProcessState, rootPerms, dynamicPerms *permissions.Container) *ModuleLoader {
	return newModuleLoader(state, check.LibWindow, rootPerms, dynamicPerms)
}

// NewModuleLoaderForWorker returns a loader for a worker thread, checked
// against the worker library variant.
func NewModuleLoaderForWorker(state *ProcessState, rootPerms, dynamicPerms *permissions.Container) *ModuleLoader {
	return newModuleLoader(state, check.LibWorker, rootPerms, dynamicPerms)
}

func newModuleLoader(state *ProcessState, lib check.TypeLib, rootPerms, dynamicPerms *permissions.Container) *ModuleLoader {
	logger := state.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleLoader{
		lib:                lib,
		rootPermissions:    rootPerms,
		dynamicPermissions: dynamicPerms,
		state:              state,
		logger:             logger,
	}
}

// Resolve maps a raw import specifier and referrer to a loadable
// specifier, applying the layered resolution strategy in strict
// precedence: npm-realm referrers, recorded graph edges, explicit
// builtins, REPL accommodations, then the generic resolver.
func (m *ModuleLoader) Resolve(specifier, referrer string, kind ResolutionKind) (string, error) {
	perms := m.rootPermissions
	if kind == KindDynamicImport {
		perms = m.dynamicPermissions
	}
	perms = perms.Clone()

	cwd := m.state.Options.Cwd()
	var referrerURL string
	var referrerErr error
	if referrer == "" {
		referrerErr = fmt.Errorf("empty referrer resolving %q", specifier)
	} else {
		referrerURL, referrerErr = resolver.ResolveURLOrPath(referrer, cwd)
	}

	if referrerErr == nil {
		if m.state.NodeResolver.InNpmPackage(referrerURL) {
			// Inside an npm realm, Node resolution owns everything.
			resolution, err := m.state.NodeResolver.Resolve(specifier, referrerURL, perms)
			target, err := m.handleNodeResolution(resolution, err)
			if err != nil {
				return "", fmt.Errorf("could not resolve %q from %q: %w", specifier, referrerURL, err)
			}
			return target, nil
		}

		g := m.state.Container.Graph()
		if esm, ok := g.Get(referrerURL).(*graph.EsmModule); ok {
			if dep, ok := esm.Dependencies[specifier]; ok {
				switch code := dep.Code.(type) {
				case *graph.ResolutionOk:
					return m.resolveGraphTarget(g, code.Specifier, perms)
				case *graph.ResolutionErr:
					return "", fmt.Errorf("%s", code.Diagnostic.StringWithRange())
				case *graph.ResolutionNone:
					// fall through to the remaining strategies
				}
			}
		}
	}

	if name, ok := strings.CutPrefix(specifier, "node:"); ok {
		return node.ResolveBuiltinModule(name)
	}

	// The REPL has no referrer to offer; synthesize one so relative paths
	// still resolve against the working directory.
	if referrer == "" && m.state.Options.Repl {
		referrerURL, referrerErr = resolver.ResolveURLOrPath("./$skiff$repl.ts", cwd)
	}
	if referrerErr != nil {
		return "", referrerErr
	}

	target, resolveErr := m.state.Resolver.Resolve(specifier, referrerURL)

	if m.state.Options.Repl {
		probe := target
		if resolveErr != nil {
			probe = specifier
		}
		if ref, err := resolver.ParseNpmPackageReqReference(probe); err == nil {
			resolution, err := m.state.NodeResolver.ResolveNpmReqReference(ref, perms)
			result, err := m.handleNodeResolution(resolution, err)
			if err != nil {
				return "", fmt.Errorf("could not resolve %q: %w", ref, err)
			}
			return result, nil
		}
	}

	if resolveErr != nil {
		return "", fmt.Errorf("could not resolve %q from %q: %w", specifier, referrer, resolveErr)
	}
	return target, nil
}

// resolveGraphTarget dispatches a statically recorded edge target on its
// module kind.
func (m *ModuleLoader) resolveGraphTarget(g *graph.ModuleGraph, target string, perms *permissions.Container) (string, error) {
	switch mod := g.Get(target).(type) {
	case *graph.NpmModule:
		resolution, err := m.state.NodeResolver.ResolveNpmReference(mod.NvReference, mod.SubPath, perms)
		result, err := m.handleNodeResolution(resolution, err)
		if err != nil {
			return "", fmt.Errorf("could not resolve %q: %w", mod.NvReference, err)
		}
		return result, nil
	case *graph.NodeModule:
		return node.ResolveBuiltinModule(mod.ModuleName)
	case *graph.EsmModule:
		return mod.ModuleSpecifier, nil
	case *graph.JsonModule:
		return mod.ModuleSpecifier, nil
	case *graph.ExternalModule:
		return m.state.NodeResolver.ResolveIntoNodeModules(mod.ModuleSpecifier), nil
	default:
		// Target absent from the graph: pass the recorded specifier through.
		return target, nil
	}
}

// handleNodeResolution records CommonJS outcomes and maps builtins into
// the node: namespace.
func (m *ModuleLoader) handleNodeResolution(resolution *node.Resolution, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if resolution == nil {
		return "", fmt.Errorf("not found")
	}
	switch resolution.Kind {
	case node.CommonJs:
		m.state.CjsResolutions.Insert(resolution.Specifier)
	case node.BuiltIn:
		return node.ResolveBuiltinModule(resolution.Specifier)
	}
	return resolution.Specifier, nil
}

// Load produces executable source for a specifier. The specifier must
// either live inside an npm realm or already be present in the committed
// graph; anything else is a missing-preparation defect surfaced as an
// error naming the specifier.
func (m *ModuleLoader) Load(specifier, referrer string, isDynamic bool) (*ModuleSource, error) {
	return m.loadSync(specifier, referrer, isDynamic)
}

// LoadAsync satisfies engine loading contracts that demand an
// asynchronous hook. Loading never actually suspends: the channel is
// already resolved when returned.
func (m *ModuleLoader) LoadAsync(specifier, referrer string, isDynamic bool) <-chan LoadResult {
	out := make(chan LoadResult, 1)
	source, err := m.loadSync(specifier, referrer, isDynamic)
	out <- LoadResult{Source: source, Err: err}
	close(out)
	return out
}

// LoadResult pairs a load outcome with its error for the asynchronous
// adapter.
type LoadResult struct {
	Source *ModuleSource
	Err    error
}

// PrepareLoad runs graph preparation for a dynamically imported root. For
// npm-realm specifiers there is nothing to prepare.
func (m *ModuleLoader) PrepareLoad(ctx context.Context, specifier string, isDynamic bool) error {
	if m.state.NodeResolver.InNpmPackage(specifier) {
		return nil
	}
	rootPerms := m.rootPermissions
	if isDynamic {
		rootPerms = m.dynamicPermissions
	}
	return m.state.Preparer.PrepareModuleLoad(ctx, []string{specifier}, isDynamic, m.lib,
		rootPerms, m.dynamicPermissions)
}

func (m *ModuleLoader) loadSync(specifier, referrer string, isDynamic bool) (*ModuleSource, error) {
	var codeSource moduleCodeSource
	if m.state.NodeResolver.InNpmPackage(specifier) {
		loaded, err := m.loadNpmRealmModule(specifier, referrer, isDynamic)
		if err != nil {
			return nil, err
		}
		codeSource = *loaded
	} else {
		loaded, err := m.loadPreparedModule(specifier, referrer)
		if err != nil {
			return nil, err
		}
		codeSource = *loaded
	}

	code := codeSource.code
	if !m.state.Options.InspectorAttached {
		// Without an inspector the inline map is never consulted; drop it
		// to reduce memory.
		code = CodeWithoutSourceMap(code)
	}

	return &ModuleSource{
		Code:           code,
		ModuleType:     codeSource.mediaType.AsModuleType(),
		Specifier:      specifier,
		FoundSpecifier: codeSource.foundURL,
	}, nil
}

func (m *ModuleLoader) loadNpmRealmModule(specifier, referrer string, isDynamic bool) (*moduleCodeSource, error) {
	u, err := url.Parse(specifier)
	if err != nil || u.Scheme != "file" {
		return nil, fmt.Errorf("invalid npm realm specifier %q", specifier)
	}
	raw, err := os.ReadFile(u.Path)
	if err != nil {
		msg := fmt.Sprintf("unable to load %s", u.Path)
		if referrer != "" {
			msg += fmt.Sprintf(" imported from %s", referrer)
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	perms := m.rootPermissions
	if isDynamic {
		perms = m.dynamicPermissions
	}

	var code string
	if m.state.CjsResolutions.Contains(specifier) {
		code, err = m.state.Translator.TranslateCjsToEsm(specifier, string(raw), media.FromSpecifier(specifier), perms.Clone())
	} else {
		code, err = m.state.Translator.EsmWithNodeGlobals(specifier, string(raw))
	}
	if err != nil {
		return nil, err
	}

	return &moduleCodeSource{
		code:      code,
		foundURL:  specifier,
		mediaType: media.FromSpecifier(specifier),
	}, nil
}

func (m *ModuleLoader) loadPreparedModule(specifier, referrer string) (*moduleCodeSource, error) {
	if strings.HasPrefix(specifier, "node:") {
		// Builtins are provided by the engine itself and must never reach
		// the loader.
		panic(fmt.Sprintf("builtin module %q reached the load path", specifier))
	}

	g := m.state.Container.Graph()
	switch mod := g.Get(specifier).(type) {
	case *graph.JsonModule:
		return &moduleCodeSource{code: mod.Source, foundURL: mod.ModuleSpecifier, mediaType: mod.MediaType}, nil
	case *graph.EsmModule:
		var code string
		switch mod.MediaType {
		case media.JavaScript, media.Unknown, media.Cjs, media.Mjs, media.Json:
			code = mod.Source
		case media.Dts, media.Dmts, media.Dcts:
			// Type-only sources execute as nothing.
			code = ""
		case media.TypeScript, media.Mts, media.Cts, media.Jsx, media.Tsx:
			emitted, err := m.state.Emitter.Emit(mod.ModuleSpecifier, mod.MediaType, mod.Source)
			if err != nil {
				return nil, err
			}
			code = emitted
		default:
			panic(fmt.Sprintf("unexpected media type %s for %s", mod.MediaType, mod.ModuleSpecifier))
		}

		if !mod.MediaType.IsDeclaration() {
			// The parse result has served its purpose once code exists.
			m.state.Sources.Free(mod.ModuleSpecifier)
		}

		return &moduleCodeSource{code: code, foundURL: mod.ModuleSpecifier, mediaType: mod.MediaType}, nil
	default:
		msg := fmt.Sprintf("loading unprepared module: %s", specifier)
		if referrer != "" {
			msg += fmt.Sprintf(", imported from: %s", referrer)
		}
		return nil, fmt.Errorf("%s", msg)
	}
}
