package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skiffworks/skiff/cache"
	"github.com/skiffworks/skiff/check"
	"github.com/skiffworks/skiff/fetch"
	"github.com/skiffworks/skiff/graph"
	"github.com/skiffworks/skiff/importmap"
	"github.com/skiffworks/skiff/loader"
	"github.com/skiffworks/skiff/lockfile"
	"github.com/skiffworks/skiff/resolver"
	"github.com/skiffworks/skiff/resolver/node"
	"github.com/skiffworks/skiff/watch"
)

var (
	reload        bool
	checkMode     string
	importMapPath string
	lockPath      string
	inspect       bool
	watchMode     bool
	verbose       bool
)

// checker gates prepared graphs when a type-check mode is selected. The
// default accepts everything; an embedding binary installs its own
// implementation before Execute.
var checker check.Checker = check.NopChecker{}

// RunCmd represents the run command
var RunCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Prepare module graphs and print the load plan",
	Long: `Resolves the given files or URLs, builds their transitive module
graphs, validates every import edge, and prints the resulting load plan.

Example usage:
  skiff run main.ts
  skiff run --check all main.ts worker.ts
  skiff run --import-map import_map.json --lock skiff.lock main.ts
  skiff run -w main.ts`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFiles(cmd, args)
	},
}

func init() {
	RunCmd.Flags().BoolVar(&reload, "reload", false, "Force re-checking of roots not seen before")
	RunCmd.Flags().StringVar(&checkMode, "check", "local", "Type-check mode: none, local, or all (gates on the installed checker; the built-in default accepts everything)")
	RunCmd.Flags().StringVar(&importMapPath, "import-map", "", "Path to an import map JSON file")
	RunCmd.Flags().StringVar(&lockPath, "lock", "", "Path to the lockfile")
	RunCmd.Flags().BoolVar(&inspect, "inspect", false, "Keep inline source maps for an attached inspector")
	RunCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Watch loaded files and re-prepare on change")
	RunCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func runFiles(cmd *cobra.Command, files []string) error {
	ctx := cmd.Context()

	logger := zap.NewNop()
	if verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = dev
		defer func() { _ = logger.Sync() }()
	}

	mode, err := parseCheckMode(checkMode)
	if err != nil {
		return err
	}

	var m *importmap.ImportMap
	if importMapPath != "" {
		data, err := os.ReadFile(importMapPath)
		if err != nil {
			return fmt.Errorf("reading import map: %w", err)
		}
		m, err = importmap.Parse(data)
		if err != nil {
			return err
		}
	}

	var lock *lockfile.Lockfile
	if lockPath != "" {
		lock, err = lockfile.New(lockPath)
		if err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	options := &loader.Options{
		TypeCheckMode:     mode,
		Reload:            reload,
		InspectorAttached: inspect,
		InitialCwd:        cwd,
	}

	var reporter graph.Reporter
	var watcher *watch.Watcher
	if watchMode {
		watcher, err = watch.New(logger)
		if err != nil {
			return err
		}
		defer watcher.Close()
		reporter = watcher
	}

	if err := prepareAndPrint(ctx, cmd, options, m, lock, reporter, logger, files); err != nil {
		if !watchMode {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "prepare failed: %v\n", err)
	}
	if !watchMode {
		return nil
	}

	changes := watcher.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case changed, ok := <-changes:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "changed: %s\n", strings.Join(changed, ", "))
			if err := prepareAndPrint(ctx, cmd, options, m, lock, reporter, logger, files); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "prepare failed: %v\n", err)
			}
		}
	}
}

// prepareAndPrint builds a fresh graph for the roots; watch mode calls it
// once per change batch so edited sources are refetched.
func prepareAndPrint(
	ctx context.Context,
	cmd *cobra.Command,
	options *loader.Options,
	m *importmap.ImportMap,
	lock *lockfile.Lockfile,
	reporter graph.Reporter,
	logger *zap.Logger,
	files []string,
) error {
	cwd := options.Cwd()
	sources := cache.NewParsedSourceCache(0)
	container := graph.NewContainer()
	builder := graph.NewBuilder(fetch.NewFileFetcher(), resolver.NewGraphResolver(m),
		node.NewResolver(cwd), sources, reporter, logger)
	preparer := loader.NewLoadPreparer(options, container, lock, builder, checker, logger)

	if err := preparer.LoadAndTypeCheckFiles(ctx, files); err != nil {
		return err
	}

	roots := make([]string, 0, len(files))
	for _, file := range files {
		specifier, err := resolver.ResolveURLOrPath(file, cwd)
		if err != nil {
			return err
		}
		roots = append(roots, specifier)
	}

	printPlan(cmd.OutOrStdout(), container.Graph(), roots)
	return nil
}

func parseCheckMode(raw string) (check.Mode, error) {
	switch raw {
	case "none":
		return check.ModeNone, nil
	case "local":
		return check.ModeLocal, nil
	case "all":
		return check.ModeAll, nil
	}
	return 0, fmt.Errorf("invalid check mode %q: expected none, local, or all", raw)
}

func printPlan(w io.Writer, g *graph.ModuleGraph, roots []string) {
	fmt.Fprintf(w, "prepared %d modules\n", g.Len())
	seen := map[string]bool{}
	for _, root := range roots {
		printModule(w, g, root, 0, seen)
	}
}

func printModule(w io.Writer, g *graph.ModuleGraph, specifier string, depth int, seen map[string]bool) {
	indent := strings.Repeat("  ", depth)
	switch m := g.Get(specifier).(type) {
	case *graph.EsmModule:
		fmt.Fprintf(w, "%s%s (%s)\n", indent, m.ModuleSpecifier, m.MediaType)
		if seen[m.ModuleSpecifier] {
			return
		}
		seen[m.ModuleSpecifier] = true
		for _, raw := range sortedDependencyKeys(m.Dependencies) {
			if ok, isOk := m.Dependencies[raw].Code.(*graph.ResolutionOk); isOk {
				printModule(w, g, ok.Specifier, depth+1, seen)
			}
		}
	case *graph.JsonModule:
		fmt.Fprintf(w, "%s%s (%s)\n", indent, m.ModuleSpecifier, m.MediaType)
	case *graph.NpmModule:
		fmt.Fprintf(w, "%s%s (npm %s)\n", indent, m.ModuleSpecifier, m.NvReference)
	case *graph.NodeModule:
		fmt.Fprintf(w, "%s%s (builtin)\n", indent, m.ModuleSpecifier)
	case *graph.ExternalModule:
		fmt.Fprintf(w, "%s%s (external)\n", indent, m.ModuleSpecifier)
	default:
		fmt.Fprintf(w, "%s%s (unresolved)\n", indent, specifier)
	}
}

func sortedDependencyKeys(deps map[string]*graph.Dependency) []string {
	keys := make([]string, 0, len(deps))
	for key := range deps {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
