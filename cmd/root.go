package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/skiffworks/skiff/cmd/run"
)

// version is set via build-time ldflags
var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "skiff",
	Short: "Prepare and load JavaScript and TypeScript module graphs",
	Long: `Skiff resolves, fetches, and validates module graphs for JavaScript
and TypeScript programs: file and data URLs, import maps, npm package
requirements, and Node builtins.

Use 'skiff --help' to see all available commands, or 'skiff <command> --help'
for detailed information about a specific command.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(run.RunCmd)
}
