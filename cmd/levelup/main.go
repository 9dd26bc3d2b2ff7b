package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "levelup",
		Short: "Levelup - Human-checkpointed TDD pipeline for coding agents",
		Long: `Levelup runs a test-driven development pipeline against a target repository:
agents gather requirements, plan, write failing tests, implement, and review,
pausing at checkpoints for a human decision. Every run works on its own git
branch and worktree; runs, checkpoints and tickets live in a shared SQLite
store that the CLI, the approve TUI and the web API all operate on.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "state database path (env LEVELUP_DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
