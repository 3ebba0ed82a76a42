package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/pkg/types"
)

var statusProjectID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show GM project state",
	Long: `Display the state of one GM project, or list recent projects if no
--project is given.

Shows:
  - Current phase and agent/merge/build/test counts
  - Pending decisions awaiting approve/reject
  - Recent projects if no project id is given`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProjectID, "project", "", "project id to show (defaults to listing recent projects)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if statusProjectID == "" {
		return listRecentProjects(a.store)
	}

	p, err := a.store.GetProject(statusProjectID)
	if err != nil {
		return fmt.Errorf("get project %s: %w", statusProjectID, err)
	}
	if p == nil {
		fmt.Printf("No project found with id %s.\n", statusProjectID)
		return nil
	}

	displayProject(p)

	pending, err := a.store.PendingDecisionsForProject(p.ProjectID)
	if err != nil {
		return fmt.Errorf("list pending decisions: %w", err)
	}
	displayPendingDecisions(pending)
	return nil
}

func listRecentProjects(st *store.Store) error {
	projects, err := st.ListProjects(20, 0)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	if len(projects) == 0 {
		fmt.Println("No projects yet. Run 'gm run <repo-path> --agent ...' to start one.")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%s  %-12s %-10s agents=%d merged=%d\n", p.ProjectID, p.Name, phaseLabel(p.Phase), p.AgentCount, p.MergedCount)
	}
	return nil
}

func displayProject(p *types.GMProject) {
	fmt.Printf("project %s (%s)\n", p.ProjectID, p.Name)
	fmt.Printf("  repo:    %s\n", p.RepoPath)
	fmt.Printf("  phase:   %s\n", phaseLabel(p.Phase))
	fmt.Printf("  agents:  %d launched, %d merged\n", p.AgentCount, p.MergedCount)
	fmt.Printf("  build:   %d attempt(s)\n", p.BuildAttempts)
	fmt.Printf("  test:    %d attempt(s)\n", p.TestAttempts)
	if len(p.MergeOrder) > 0 {
		fmt.Printf("  order:   %s\n", strings.Join(p.MergeOrder, ", "))
	}
	if p.ErrorMessage != "" {
		color.Red("  error:   %s", p.ErrorMessage)
	}
}

func displayPendingDecisions(pending []*types.Decision) {
	if len(pending) == 0 {
		return
	}
	fmt.Println("  pending decisions:")
	for _, d := range pending {
		color.Yellow("    %s (%s): %s", d.DecisionID, d.Kind, d.Description)
	}
}

func phaseLabel(phase types.Phase) string {
	switch phase {
	case types.PhaseCompleted:
		return color.GreenString(string(phase))
	case types.PhaseFailed:
		return color.RedString(string(phase))
	default:
		return color.YellowString(string(phase))
	}
}
