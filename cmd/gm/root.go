package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	repoPathFlag string
)

var rootCmd = &cobra.Command{
	Use:   "gm",
	Short: "General Manager: orchestrate concurrent AI coding agents",
	Long: `gm launches several AI coding agents in isolated git worktrees,
waits for them, merges their branches in an order chosen to minimise
conflicts, then drives build and test, pausing for human approval
whenever it hits a conflict or a failure it cannot resolve on its own.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to gm config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&repoPathFlag, "repo", "", "target repository path (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(worktreesCmd)
}
