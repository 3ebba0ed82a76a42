package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/gm/internal/eventhub"
	"github.com/ShayCichocki/gm/pkg/types"
)

var (
	runName         string
	runAgents       []string
	runBuildCommand string
	runTestCommand  string
)

var runCmd = &cobra.Command{
	Use:   "run <repo-path>",
	Short: "Launch a GM project against a repository",
	Long: `Launch N agents in isolated worktrees under repo-path, wait for them,
merge in overlap order, then build and test, printing every phase
transition and decision request as it happens.

Agents are given with repeated --agent team:task flags, e.g.:

  gm run ./myrepo --agent builder:"implement the login form" --agent solo:"fix the flaky test"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "project name (defaults to the repo's base name)")
	runCmd.Flags().StringArrayVar(&runAgents, "agent", nil, "team:task pair, repeatable")
	runCmd.Flags().StringVar(&runBuildCommand, "build", "", "shell command to build the merged repo")
	runCmd.Flags().StringVar(&runTestCommand, "test", "", "shell command to test the merged repo")
}

func runRun(cmd *cobra.Command, args []string) error {
	repoPath := args[0]

	specs, err := parseAgentFlags(runAgents)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("run: at least one --agent team:task is required")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	name := runName
	if name == "" {
		name = filepath.Base(repoPath)
	}

	sub := a.hub.Subscribe("gm")
	defer a.hub.Close(sub)

	ctx := cmd.Context()
	projectID, err := a.gm.LaunchProject(ctx, types.LaunchRequest{
		ProjectName: name, RepoPath: repoPath,
		BuildCommand: runBuildCommand, TestCommand: runTestCommand,
		Agents: specs,
	})
	if err != nil {
		return fmt.Errorf("launch project: %w", err)
	}
	color.Cyan("project %s launched", projectID)

	return watchProject(sub, projectID)
}

// parseAgentFlags turns repeated "team:task" strings into AgentSpecs.
func parseAgentFlags(raw []string) ([]types.AgentSpec, error) {
	specs := make([]types.AgentSpec, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --agent value %q, expected team:task", r)
		}
		specs = append(specs, types.AgentSpec{Team: parts[0], Task: parts[1]})
	}
	return specs, nil
}

// watchProject prints every event on the gm channel for one project
// until it reaches a terminal phase, each as one colored line from
// printEvent.
func watchProject(sub *eventhub.Subscription, projectID string) error {
	for {
		ev, ok := sub.Next()
		if !ok {
			return fmt.Errorf("event hub closed before project %s finished", projectID)
		}
		printEvent(ev, projectID)
		switch ev.Type {
		case string(types.EventProjectCompleted):
			return nil
		case string(types.EventProjectFailed):
			return fmt.Errorf("project %s failed", projectID)
		}
	}
}

func printEvent(ev eventhub.Event, projectID string) {
	switch p := ev.Payload.(type) {
	case types.PhaseChangePayload:
		if p.ProjectID != projectID {
			return
		}
		color.Yellow("[%s] phase -> %s", time.Now().Format("15:04:05"), p.Phase)
	case types.DecisionRequiredPayload:
		if p.ProjectID != projectID {
			return
		}
		color.Red("decision required (%s): %s -- resolve with `gm approve %s` or `gm reject %s`",
			p.DecisionType, p.Description, p.DecisionID, p.DecisionID)
	case types.MergeConflictPayload:
		if p.ProjectID != projectID {
			return
		}
		color.Red("merge conflict on session %s: %v", p.SessionID, p.ConflictedFiles)
	case types.BuildResultPayload:
		if p.ProjectID != projectID {
			return
		}
		printStatusLine(p.Success, "build")
	case types.TestResultPayload:
		if p.ProjectID != projectID {
			return
		}
		printStatusLine(p.Success, "test")
	case types.ProjectCompletedPayload:
		if p.ProjectID != projectID {
			return
		}
		color.Green("project %s completed", projectID)
	case types.ProjectFailedPayload:
		if p.ProjectID != projectID {
			return
		}
		color.Red("project %s failed: %s", projectID, p.Reason)
	}
}

func printStatusLine(success bool, label string) {
	if success {
		color.Green("%s passed", label)
		return
	}
	color.Red("%s failed", label)
}
