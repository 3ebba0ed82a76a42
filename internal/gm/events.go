package gm

import "github.com/ShayCichocki/gm/pkg/types"

// setPhase persists the new phase and emits the phase_change event in
// one step, matching every other transition in this package.
func (p *pipeline) setPhase(phase types.Phase) error {
	p.project.Phase = phase
	if err := p.store.UpsertProject(p.project); err != nil {
		return err
	}
	p.hub.Publish("gm", "phase_change", types.PhaseChangePayload{
		ProjectID: p.project.ProjectID, Phase: phase,
	})
	return nil
}

func (p *pipeline) publishAgentLaunched(sessionID, teamName string) {
	p.hub.Publish("gm", "agent_launched", types.AgentLaunchedPayload{
		ProjectID: p.project.ProjectID, SessionID: sessionID, TeamName: teamName,
	})
}

func (p *pipeline) publishAgentCompleted(sessionID string, status types.SessionStatus) {
	p.hub.Publish("gm", "agent_completed", types.AgentCompletedPayload{
		ProjectID: p.project.ProjectID, SessionID: sessionID, Status: status,
	})
}

func (p *pipeline) publishMergeOrder(order []string) {
	p.hub.Publish("gm", "merge_order_determined", types.MergeOrderDeterminedPayload{
		ProjectID: p.project.ProjectID, MergeOrder: order,
	})
}

func (p *pipeline) publishMergeStarted(sessionID string, index int) {
	p.hub.Publish("gm", "merge_started", types.MergeStartedPayload{
		ProjectID: p.project.ProjectID, SessionID: sessionID, Index: index,
	})
}

func (p *pipeline) publishMergeConflict(sessionID string, files []string, errText string) {
	p.hub.Publish("gm", "merge_conflict", types.MergeConflictPayload{
		ProjectID: p.project.ProjectID, SessionID: sessionID, ConflictedFiles: files, Error: errText,
	})
}

func (p *pipeline) publishMergeCompleted(sessionID string, skipped bool, result types.MergeResult) {
	p.hub.Publish("gm", "merge_completed", types.MergeCompletedPayload{
		ProjectID: p.project.ProjectID, SessionID: sessionID, Skipped: skipped, Result: result,
	})
}

func (p *pipeline) publishConflictResolved(sessionID string) {
	p.hub.Publish("gm", "conflict_resolved", types.ConflictResolvedPayload{
		ProjectID: p.project.ProjectID, SessionID: sessionID,
	})
}

func (p *pipeline) publishBuildStarted() {
	p.hub.Publish("gm", "build_started", types.BuildStartedPayload{ProjectID: p.project.ProjectID})
}

func (p *pipeline) publishBuildResult(success bool, outputTail string) {
	p.hub.Publish("gm", "build_result", types.BuildResultPayload{
		ProjectID: p.project.ProjectID, Success: success, OutputTail: outputTail,
	})
}

func (p *pipeline) publishBuildFixAttempt(attempt int) {
	p.hub.Publish("gm", "build_fix_attempt", types.BuildFixAttemptPayload{
		ProjectID: p.project.ProjectID, Attempt: attempt,
	})
}

func (p *pipeline) publishTestStarted() {
	p.hub.Publish("gm", "test_started", types.TestStartedPayload{ProjectID: p.project.ProjectID})
}

func (p *pipeline) publishTestResult(success bool, outputTail string) {
	p.hub.Publish("gm", "test_result", types.TestResultPayload{
		ProjectID: p.project.ProjectID, Success: success, OutputTail: outputTail,
	})
}

func (p *pipeline) publishTestFixAttempt(attempt int) {
	p.hub.Publish("gm", "test_fix_attempt", types.TestFixAttemptPayload{
		ProjectID: p.project.ProjectID, Attempt: attempt,
	})
}

func (p *pipeline) publishDecisionRequired(d *types.Decision) {
	p.hub.Publish("gm", "decision_required", types.DecisionRequiredPayload{
		ProjectID: p.project.ProjectID, DecisionID: d.DecisionID, DecisionType: d.Kind,
		Description: d.Description, ProposedAction: d.ProposedAction, Context: d.Context,
	})
}

func (p *pipeline) publishCompleted() {
	p.hub.Publish("gm", "project_completed", types.ProjectCompletedPayload{ProjectID: p.project.ProjectID})
}

func (p *pipeline) publishFailed(reason string) {
	p.hub.Publish("gm", "project_failed", types.ProjectFailedPayload{
		ProjectID: p.project.ProjectID, Reason: reason,
	})
}
