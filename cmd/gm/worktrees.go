package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/gm/internal/gitrunner"
	"github.com/ShayCichocki/gm/internal/worktree"
)

var worktreesForce bool

var worktreesCmd = &cobra.Command{
	Use:   "worktrees",
	Short: "Inspect and prune agent worktrees",
}

var worktreesListCmd = &cobra.Command{
	Use:   "list <repo-path>",
	Short: "List every worktree the Worktree Manager has created for a repo",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorktreesList,
}

var worktreesPruneCmd = &cobra.Command{
	Use:   "prune <repo-path>",
	Short: "Run git worktree prune against a repo",
	Long: `Remove git's administrative files for worktrees whose directory was
deleted outside of gm, e.g. after a crash. Does not touch live worktrees.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorktreesPrune,
}

func init() {
	worktreesPruneCmd.Flags().BoolVarP(&worktreesForce, "force", "f", false, "skip confirmation prompt")
	worktreesCmd.AddCommand(worktreesListCmd)
	worktreesCmd.AddCommand(worktreesPruneCmd)
}

func runWorktreesList(cmd *cobra.Command, args []string) error {
	repoPath := args[0]
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	wt := worktree.NewManager(repoPath, a.cfg.BranchPrefix, a.cfg.WorktreeDir, func(dir string) gitrunner.Runner {
		return gitrunner.NewRunner(dir)
	})
	entries, err := wt.List()
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No worktrees.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  branch=%s  head=%s\n", e.Path, e.Branch, e.Head)
	}
	return nil
}

func runWorktreesPrune(cmd *cobra.Command, args []string) error {
	repoPath := args[0]

	if !worktreesForce {
		fmt.Printf("Run 'git worktree prune' in %s? [y/N] ", repoPath)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "y" {
			fmt.Println("Prune cancelled.")
			return nil
		}
	}

	runner := gitrunner.NewRunner(repoPath)
	if err := runner.WorktreePrune(); err != nil {
		return fmt.Errorf("worktree prune: %w", err)
	}
	color.Green("pruned stale worktree metadata in %s", repoPath)
	return nil
}
