// Package main provides the entry point for the scour pipeline CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scourlab/scour/cmd/scour/commands"
	"github.com/scourlab/scour/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scour",
		Short: "Scour - distributed deep-research pipeline",
		Long: `Scour turns a free-text topic into a researched summary: web search,
content extraction, and LLM summarization, coordinated across worker
replicas through a message bus and a Postgres ledger.

Commands:
  api              HTTP intake and read API
  search-worker    search stage worker
  analysis-worker  analysis stage worker
  archiver         completed-request archiver
  migrate          apply ledger schema migrations
  requests         list recent requests
  mcp              MCP stdio server`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add commands.
	rootCmd.AddCommand(commands.NewAPICommand())
	rootCmd.AddCommand(commands.NewSearchWorkerCommand())
	rootCmd.AddCommand(commands.NewAnalysisWorkerCommand())
	rootCmd.AddCommand(commands.NewArchiverCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewRequestsCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "scour %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
