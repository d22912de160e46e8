package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skiffworks/skiff/cache"
	"github.com/skiffworks/skiff/fetch"
	"github.com/skiffworks/skiff/media"
	"github.com/skiffworks/skiff/permissions"
	"github.com/skiffworks/skiff/resolver"
	"github.com/skiffworks/skiff/resolver/node"
)

// Reporter observes specifiers as they are loaded into the graph. A watch
// mode caller uses it to learn which local files participate in a run.
type Reporter interface {
	OnLoad(specifier string)
}

// BuildOptions scope one transitive build.
type BuildOptions struct {
	IsDynamic bool
	// Permissions gate every content fetch of this build; the caller
	// selects the root or dynamic snapshot according to IsDynamic.
	Permissions *permissions.Container
}

// fetchConcurrency bounds concurrent content fetches within one build.
const fetchConcurrency = 16

// Builder extends a module graph with the transitive closure of a root
// set, fetching content, parsing dependencies, and resolving edges.
type Builder struct {
	fetcher      fetch.Fetcher
	resolver     *resolver.GraphResolver
	nodeResolver *node.Resolver
	sources      *cache.ParsedSourceCache
	reporter     Reporter
	logger       *zap.Logger
}

// NewBuilder wires a builder. reporter may be nil.
func NewBuilder(
	fetcher fetch.Fetcher,
	graphResolver *resolver.GraphResolver,
	nodeResolver *node.Resolver,
	sources *cache.ParsedSourceCache,
	reporter Reporter,
	logger *zap.Logger,
) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		fetcher:      fetcher,
		resolver:     graphResolver,
		nodeResolver: nodeResolver,
		sources:      sources,
		reporter:     reporter,
		logger:       logger,
	}
}

// outcome is the result of processing one pending specifier.
type outcome struct {
	module   Module
	redirect string
	next     []string
}

// Build extends g with every module transitively reachable from roots.
// Fetches within one frontier run concurrently; the build completes before
// returning, leaving g ready for validation.
func (b *Builder) Build(ctx context.Context, g *ModuleGraph, roots []string, opts BuildOptions) error {
	pending := make([]string, 0, len(roots))
	queued := map[string]bool{}
	for _, root := range roots {
		if !g.Contains(root) && !queued[root] {
			pending = append(pending, root)
			queued[root] = true
		}
	}

	for len(pending) > 0 {
		outcomes := make([]*outcome, len(pending))

		eg, groupCtx := errgroup.WithContext(ctx)
		eg.SetLimit(fetchConcurrency)
		var mu sync.Mutex

		for i, specifier := range pending {
			i, specifier := i, specifier
			eg.Go(func() error {
				result, err := b.process(groupCtx, specifier, opts)
				if err != nil {
					return err
				}
				mu.Lock()
				outcomes[i] = result
				mu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		var frontier []string
		for _, result := range outcomes {
			if result == nil || result.module == nil {
				continue
			}
			if result.redirect != "" {
				g.AddRedirect(result.redirect, result.module.Specifier())
			}
			g.Insert(result.module)
			b.report(result.module.Specifier())

			for _, next := range result.next {
				if !g.Contains(next) && !queued[next] {
					frontier = append(frontier, next)
					queued[next] = true
				}
			}
		}
		pending = frontier
	}

	return nil
}

// process classifies and materializes a single specifier.
func (b *Builder) process(ctx context.Context, specifier string, opts BuildOptions) (*outcome, error) {
	if strings.HasPrefix(specifier, "npm:") {
		ref, err := resolver.ParseNpmPackageReqReference(specifier)
		if err != nil {
			return nil, err
		}
		nv, err := b.nodeResolver.ReqReferenceToNv(ref)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", specifier, err)
		}
		return &outcome{module: &NpmModule{ModuleSpecifier: specifier, NvReference: nv, SubPath: ref.SubPath}}, nil
	}

	if name, ok := strings.CutPrefix(specifier, "node:"); ok {
		if !node.IsBuiltin(name) {
			return nil, fmt.Errorf("unknown built-in \"node:%s\" module", name)
		}
		return &outcome{module: &NodeModule{ModuleSpecifier: specifier, ModuleName: name}}, nil
	}

	if b.nodeResolver.InNpmPackage(specifier) {
		// Package-realm files load straight from disk at runtime; the graph
		// records only their identity.
		return &outcome{module: &ExternalModule{ModuleSpecifier: specifier}}, nil
	}

	result, err := b.fetcher.Fetch(ctx, specifier, opts.Permissions)
	if err != nil {
		return nil, err
	}

	redirect := ""
	found := result.Specifier
	if found == "" {
		found = specifier
	} else if found != specifier {
		redirect = specifier
	}

	if result.MediaType == media.Json {
		return &outcome{
			module: &JsonModule{
				ModuleSpecifier: found,
				Source:          string(result.Source),
				MediaType:       result.MediaType,
			},
			redirect: redirect,
		}, nil
	}

	info, err := b.sources.ModuleInfo(found, result.MediaType, result.Source)
	if err != nil {
		return nil, fmt.Errorf("analyzing %q: %w", found, err)
	}

	esm := &EsmModule{
		ModuleSpecifier: found,
		Source:          string(result.Source),
		MediaType:       result.MediaType,
		Dependencies:    map[string]*Dependency{},
	}
	var next []string
	for _, desc := range info.Dependencies {
		dep := &Dependency{Specifier: desc.Specifier, TypeOnly: desc.TypeOnly}
		target, err := b.resolver.Resolve(desc.Specifier, found)
		if err != nil {
			diag, ok := err.(*resolver.Diagnostic)
			if !ok {
				diag = &resolver.Diagnostic{
					Specifier: desc.Specifier,
					Referrer:  found,
					Message:   err.Error(),
				}
			}
			diag.Line = desc.Position.Line
			diag.Column = desc.Position.Column
			dep.Code = &ResolutionErr{Diagnostic: diag}
		} else {
			dep.Code = &ResolutionOk{Specifier: target, Position: desc.Position}
			next = append(next, target)
		}
		esm.Dependencies[desc.Specifier] = dep
	}

	b.logger.Debug("loaded module",
		zap.String("specifier", found),
		zap.String("media_type", result.MediaType.String()),
		zap.Int("dependencies", len(esm.Dependencies)))

	return &outcome{module: esm, redirect: redirect, next: next}, nil
}

func (b *Builder) report(specifier string) {
	if b.reporter != nil && strings.HasPrefix(specifier, "file://") {
		b.reporter.OnLoad(specifier)
	}
}
