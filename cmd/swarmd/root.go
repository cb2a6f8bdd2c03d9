package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version, commit, and date are populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to keep it testable.
func buildRootCmd() *cobra.Command {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "swarmd",
		Short: "Hierarchical multi-agent orchestrator",
		Long: `swarmd drives a tree-shaped team of LLM-backed workers (one global
supervisor -> several team supervisors -> multiple workers per team) to
completion against a user-supplied task, streaming progress events to
clients via a JSON HTTP API.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(buildServeCmd(), buildDemoCmd())
	return root
}
