package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skiffworks/skiff/cache"
	"github.com/skiffworks/skiff/check"
	"github.com/skiffworks/skiff/fetch"
	"github.com/skiffworks/skiff/graph"
	"github.com/skiffworks/skiff/lockfile"
	"github.com/skiffworks/skiff/media"
	"github.com/skiffworks/skiff/permissions"
	"github.com/skiffworks/skiff/resolver"
	"github.com/skiffworks/skiff/resolver/node"
)

type countingChecker struct {
	calls int
	opts  []check.Options
	err   error
}

func (c *countingChecker) Check(_ context.Context, _ *graph.ModuleGraph, opts check.Options) error {
	c.calls++
	c.opts = append(c.opts, opts)
	return c.err
}

func newPreparer(t *testing.T, opts *Options, modules map[string]fetch.Result, checker check.Checker, lock *lockfile.Lockfile) (*LoadPreparer, *graph.Container) {
	t.Helper()
	container := graph.NewContainer()
	builder := graph.NewBuilder(fetch.NewMemoryFetcher(modules), resolver.NewGraphResolver(nil),
		node.NewResolver(t.TempDir()), cache.NewParsedSourceCache(0), nil, zap.NewNop())
	return NewLoadPreparer(opts, container, lock, builder, checker, zap.NewNop()), container
}

func appModules() map[string]fetch.Result {
	return map[string]fetch.Result{
		"file:///app/main.ts": {
			Source:    []byte("import { greet } from \"./greet.ts\";\ngreet();\n"),
			MediaType: media.TypeScript,
		},
		"file:///app/greet.ts": {
			Source:    []byte("export function greet(): void {}\n"),
			MediaType: media.TypeScript,
		},
	}
}

func prepare(t *testing.T, p *LoadPreparer, roots []string, lib check.TypeLib) error {
	t.Helper()
	return p.PrepareModuleLoad(context.Background(), roots, false, lib,
		permissions.AllowAll(), permissions.AllowAll())
}

func TestPrepareModuleLoadCommitsTransitiveGraph(t *testing.T) {
	p, container := newPreparer(t, &Options{}, appModules(), check.NopChecker{}, nil)

	require.NoError(t, prepare(t, p, []string{"file:///app/main.ts"}, check.LibWindow))

	g := container.Graph()
	assert.True(t, g.Contains("file:///app/main.ts"))
	assert.True(t, g.Contains("file:///app/greet.ts"))
}

func TestPrepareFailureLeavesCommittedGraphUntouched(t *testing.T) {
	modules := map[string]fetch.Result{
		"file:///app/broken.ts": {
			Source:    []byte("import \"not-installed\";\n"),
			MediaType: media.TypeScript,
		},
	}
	p, container := newPreparer(t, &Options{}, modules, check.NopChecker{}, nil)

	err := prepare(t, p, []string{"file:///app/broken.ts"}, check.LibWindow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-installed")
	assert.Equal(t, 0, container.Graph().Len())
}

func TestPrepareTypeChecksOncePerRootSet(t *testing.T) {
	checker := &countingChecker{}
	p, _ := newPreparer(t, &Options{TypeCheckMode: check.ModeAll}, appModules(), checker, nil)
	roots := []string{"file:///app/main.ts"}

	require.NoError(t, prepare(t, p, roots, check.LibWindow))
	require.NoError(t, prepare(t, p, roots, check.LibWindow))

	assert.Equal(t, 1, checker.calls)
}

func TestPrepareChecksEachLibVariant(t *testing.T) {
	checker := &countingChecker{}
	p, _ := newPreparer(t, &Options{TypeCheckMode: check.ModeAll}, appModules(), checker, nil)
	roots := []string{"file:///app/main.ts"}

	require.NoError(t, prepare(t, p, roots, check.LibWindow))
	require.NoError(t, prepare(t, p, roots, check.LibWorker))

	require.Equal(t, 2, checker.calls)
	assert.Equal(t, check.LibWindow, checker.opts[0].Lib)
	assert.Equal(t, check.LibWorker, checker.opts[1].Lib)
}

func TestPrepareReloadAppliesOnlyToUnseenRoots(t *testing.T) {
	checker := &countingChecker{}
	p, _ := newPreparer(t, &Options{TypeCheckMode: check.ModeAll, Reload: true}, appModules(), checker, nil)
	roots := []string{"file:///app/main.ts"}

	require.NoError(t, prepare(t, p, roots, check.LibWindow))
	require.NoError(t, prepare(t, p, roots, check.LibWorker))

	require.Equal(t, 2, checker.calls)
	assert.True(t, checker.opts[0].Reload, "first sight of the root forces a reload check")
	assert.False(t, checker.opts[1].Reload, "a root already in the graph is excluded from reload")
}

func TestPrepareFailsOnTypeErrorAndRechecksOnRetry(t *testing.T) {
	checker := &countingChecker{err: &check.Error{Diagnostics: []check.Diagnostic{
		{Specifier: "file:///app/main.ts", Line: 2, Message: "argument of type 'number' is not assignable"},
	}}}
	p, container := newPreparer(t, &Options{TypeCheckMode: check.ModeAll}, appModules(), checker, nil)
	roots := []string{"file:///app/main.ts"}

	err := prepare(t, p, roots, check.LibWindow)
	require.Error(t, err)
	var typeErr *check.Error
	require.ErrorAs(t, err, &typeErr)
	assert.False(t, container.IsTypeChecked(roots, check.LibWindow.String()),
		"a failed check must not be registered")

	checker.err = nil
	require.NoError(t, prepare(t, p, roots, check.LibWindow))
	assert.Equal(t, 2, checker.calls, "the retry runs the checker again")
	assert.True(t, container.IsTypeChecked(roots, check.LibWindow.String()))
}

func TestPrepareSkipsCheckingWhenDisabled(t *testing.T) {
	checker := &countingChecker{}
	p, _ := newPreparer(t, &Options{TypeCheckMode: check.ModeNone}, appModules(), checker, nil)

	require.NoError(t, prepare(t, p, []string{"file:///app/main.ts"}, check.LibWindow))
	assert.Zero(t, checker.calls)
}

func TestLoadAndTypeCheckFilesResolvesAgainstCwd(t *testing.T) {
	p, container := newPreparer(t, &Options{InitialCwd: "/app"}, appModules(), check.NopChecker{}, nil)

	require.NoError(t, p.LoadAndTypeCheckFiles(context.Background(), []string{"main.ts"}))
	assert.True(t, container.Graph().Contains("file:///app/main.ts"))
}

func TestPrepareWritesLockfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skiff.lock")
	lock, err := lockfile.New(path)
	require.NoError(t, err)

	p, _ := newPreparer(t, &Options{}, appModules(), check.NopChecker{}, lock)
	require.NoError(t, prepare(t, p, []string{"file:///app/main.ts"}, check.LibWindow))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	mainHash := lockfile.HashSource(string(appModules()["file:///app/main.ts"].Source))
	assert.Contains(t, string(data), mainHash)
}

func TestPrepareIntegrityMismatchIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skiff.lock")
	tampered := `{"version":"3","remote":{"file:///app/main.ts":"deadbeef"}}`
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	lock, err := lockfile.New(path)
	require.NoError(t, err)

	p, container := newPreparer(t, &Options{}, appModules(), check.NopChecker{}, lock)
	var fatalMsg string
	p.fatal = func(msg string, _ ...zap.Field) { fatalMsg = msg }

	err = prepare(t, p, []string{"file:///app/main.ts"}, check.LibWindow)
	require.Error(t, err)

	var integrity *lockfile.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "file:///app/main.ts", integrity.Specifier)
	assert.Contains(t, fatalMsg, "integrity check failed")
	assert.Equal(t, 0, container.Graph().Len(), "a failed verification never commits")
}
