package loader

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/skiffworks/skiff/check"
	"github.com/skiffworks/skiff/graph"
	"github.com/skiffworks/skiff/lockfile"
	"github.com/skiffworks/skiff/permissions"
	"github.com/skiffworks/skiff/resolver"
)

// LoadPreparer populates the shared graph with everything a root set needs
// before the engine may load it: transitive build, validation, lockfile
// integrity, and type-check gating.
type LoadPreparer struct {
	options   *Options
	container *graph.Container
	lock      *lockfile.Lockfile
	builder   *graph.Builder
	checker   check.Checker
	logger    *zap.Logger

	// fatal terminates the process on integrity violations; swapped only
	// in tests.
	fatal func(msg string, fields ...zap.Field)
}

// NewLoadPreparer wires a preparer. lock may be nil when no lockfile is
// configured; checker may be nil when checking is disabled.
func NewLoadPreparer(
	options *Options,
	container *graph.Container,
	lock *lockfile.Lockfile,
	builder *graph.Builder,
	checker check.Checker,
	logger *zap.Logger,
) *LoadPreparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checker == nil {
		checker = check.NopChecker{}
	}
	return &LoadPreparer{
		options:   options,
		container: container,
		lock:      lock,
		builder:   builder,
		checker:   checker,
		logger:    logger,
		fatal:     logger.Fatal,
	}
}

// PrepareModuleLoad must be called for every root (and, through the
// transitive build, every statically reachable dependency) before the
// engine loads it. No partially built graph is ever published: all work
// happens on an exclusive permit's working copy until commit.
func (p *LoadPreparer) PrepareModuleLoad(
	ctx context.Context,
	roots []string,
	isDynamic bool,
	lib check.TypeLib,
	rootPermissions *permissions.Container,
	dynamicPermissions *permissions.Container,
) error {
	p.logger.Debug("preparing module load", zap.Strings("roots", roots))

	permit, err := p.container.AcquireUpdatePermit(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()

	working := permit.Graph()

	// Snapshot the specifiers already present so an explicit reload can
	// tell previously seen roots apart from genuinely new ones.
	reloadExclusions := map[string]bool{}
	for _, specifier := range working.Specifiers() {
		reloadExclusions[specifier] = true
	}

	fetchPerms := rootPermissions
	if isDynamic {
		fetchPerms = dynamicPermissions
	}
	err = p.builder.Build(ctx, working, roots, graph.BuildOptions{
		IsDynamic:   isDynamic,
		Permissions: fetchPerms.Clone(),
	})
	if err != nil {
		return err
	}

	if err := working.Validate(roots); err != nil {
		return err
	}

	if p.lock != nil {
		if err := p.lock.Verify(working); err != nil {
			var integrity *lockfile.IntegrityError
			if errors.As(err, &integrity) {
				// Integrity violations are never tolerated.
				p.fatal(integrity.Error(), zap.String("specifier", integrity.Specifier))
			}
			return err
		}
		if err := p.lock.Write(); err != nil {
			return err
		}
	}

	committed := permit.Commit()

	if p.options.TypeCheckMode != check.ModeNone && !p.container.IsTypeChecked(roots, lib.String()) {
		segment := committed.Segment(roots)
		reload := p.options.Reload && !allContained(reloadExclusions, roots)
		err := p.checker.Check(ctx, segment, check.Options{
			Lib:               lib,
			Reload:            reload,
			LogIgnoredOptions: false,
		})
		if err != nil {
			return err
		}
		p.container.SetTypeChecked(roots, lib.String())
	}

	p.logger.Debug("prepared module load", zap.Int("graph_size", committed.Len()))
	return nil
}

// LoadAndTypeCheckFiles prepares raw CLI file paths or URLs with allow-all
// permissions under the main-thread library variant.
func (p *LoadPreparer) LoadAndTypeCheckFiles(ctx context.Context, files []string) error {
	cwd := p.options.Cwd()
	roots := make([]string, 0, len(files))
	for _, file := range files {
		specifier, err := resolver.ResolveURLOrPath(file, cwd)
		if err != nil {
			return err
		}
		roots = append(roots, specifier)
	}
	return p.PrepareModuleLoad(ctx, roots, false, check.LibWindow,
		permissions.AllowAll(), permissions.AllowAll())
}

func allContained(set map[string]bool, keys []string) bool {
	for _, key := range keys {
		if !set[key] {
			return false
		}
	}
	return true
}
