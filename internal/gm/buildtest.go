package gm

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/gm/internal/gmerr"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/pkg/types"
)

// outputTail bounds how much of a build/test command's combined output
// is kept in events and decision context.
const outputTail = 4000

// runBuildPhase runs build_command with bounded automatic repair (spec
// §4.6 Building). An unset build_command is a no-op success.
func (p *pipeline) runBuildPhase(ctx context.Context) (bool, error) {
	if p.project.BuildCommand == "" {
		return true, nil
	}
	return p.runRepairableCommand(ctx, p.project.BuildCommand, &p.project.BuildAttempts,
		p.publishBuildStarted, p.publishBuildResult, p.publishBuildFixAttempt,
		buildFixPrompt, types.DecisionBuildFailure)
}

// runTestPhase runs test_command with bounded automatic repair (spec
// §4.6 Testing). Identical structure to building.
func (p *pipeline) runTestPhase(ctx context.Context) (bool, error) {
	if p.project.TestCommand == "" {
		return true, nil
	}
	return p.runRepairableCommand(ctx, p.project.TestCommand, &p.project.TestAttempts,
		p.publishTestStarted, p.publishTestResult, p.publishTestFixAttempt,
		testFixPrompt, types.DecisionTestFailure)
}

// runRepairableCommand implements the shared build/test shape: run,
// report, and on failure request a decision before retrying with a
// repair agent, capped at maxRepairCycles (spec §4.6 Building/Testing).
func (p *pipeline) runRepairableCommand(
	ctx context.Context,
	command string,
	attempts *int,
	publishStarted func(),
	publishResult func(success bool, tail string),
	publishFixAttempt func(attempt int),
	fixPrompt func(log string) string,
	decisionKind types.DecisionKind,
) (bool, error) {
	failureErr := gmerr.ErrBuildFailure
	if decisionKind == types.DecisionTestFailure {
		failureErr = gmerr.ErrTestFailure
	}

	for cycle := 0; ; cycle++ {
		*attempts++
		publishStarted()

		output, runErr := p.cmd.RunShell(ctx, p.project.RepoPath, command)
		tail := tailOf(string(output), outputTail)
		success := runErr == nil
		publishResult(success, tail)
		_ = p.store.UpsertProject(p.project)
		_ = p.store.AppendLog(store.LogEntry{ProjectID: p.project.ProjectID, Message: tail})

		if success {
			return true, nil
		}
		if cycle >= maxRepairCycles {
			return false, fmt.Errorf("%s: %w", command, failureErr)
		}

		d, future, err := p.gate.Request(p.project.ProjectID, decisionKind, "automated command failed: "+command, "repair", tail)
		if err != nil {
			return false, err
		}
		p.project.Decisions = append(p.project.Decisions, d.DecisionID)
		p.publishDecisionRequired(d)

		action, waitErr := future.Wait(ctx)
		if waitErr != nil {
			return false, waitErr
		}
		if action != types.ActionApprove {
			return false, fmt.Errorf("%s: %w", command, failureErr)
		}

		publishFixAttempt(cycle + 1)
		if _, err := p.runRepairAgent(ctx, p.project.RepoPath, fixPrompt(tail)); err != nil {
			return false, fmt.Errorf("%s: %w", command, failureErr)
		}
		if err := p.worktree.CommitHost("gm: repair attempt " + command); err != nil {
			return false, fmt.Errorf("%s: %w", command, failureErr)
		}
	}
}
