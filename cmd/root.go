// Package cmd holds the toolgate CLI commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when toolgate is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Federate MCP tool servers behind one endpoint",
	Long: `toolgate manages a fleet of MCP tool servers (stdio subprocesses, SSE and
streamable-http endpoints), keeps them connected, and exposes their tools
under one prefixed namespace for LLM runtimes.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main with
// the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "toolgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
