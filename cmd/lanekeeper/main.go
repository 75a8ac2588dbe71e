package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skohara/lanekeeper/internal/cli"
	"github.com/skohara/lanekeeper/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "lanekeeper",
		Short:   "lanekeeper - event-sourced work-unit coordination over git",
		Version: version.String(),
		Long: `lanekeeper coordinates work units across agents working in isolated git
worktrees. State lives in an append-only event log replicated through git;
backlog and status files are regenerated projections of it.`,
	}

	rootCmd.AddCommand(cli.InitCmd())
	rootCmd.AddCommand(cli.WatchCmd())
	rootCmd.AddCommand(cli.WuCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
