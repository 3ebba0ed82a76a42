package types

// EventType is the discriminator carried by every Event payload.
type EventType string

const (
	EventProjectStarted        EventType = "project_started"
	EventPhaseChange           EventType = "phase_change"
	EventAgentLaunched         EventType = "agent_launched"
	EventAgentCompleted        EventType = "agent_completed"
	EventMergeOrderDetermined  EventType = "merge_order_determined"
	EventMergeStarted          EventType = "merge_started"
	EventMergeConflict         EventType = "merge_conflict"
	EventMergeCompleted        EventType = "merge_completed"
	EventConflictResolved      EventType = "conflict_resolved"
	EventBuildStarted          EventType = "build_started"
	EventBuildResult           EventType = "build_result"
	EventBuildFixAttempt       EventType = "build_fix_attempt"
	EventTestStarted           EventType = "test_started"
	EventTestResult            EventType = "test_result"
	EventTestFixAttempt        EventType = "test_fix_attempt"
	EventDecisionRequired      EventType = "decision_required"
	EventDecisionResolved      EventType = "decision_resolved"
	EventProjectCompleted      EventType = "project_completed"
	EventProjectFailed         EventType = "project_failed"

	// Events on the "teams" channel.
	EventTeamProgress EventType = "team_progress"
)

// Event is the envelope published on an Event Hub channel. Payload is one
// of the *Payload structs below, chosen by Type.
type Event struct {
	Channel string
	Type    EventType
	Payload any
}

type ProjectStartedPayload struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

type PhaseChangePayload struct {
	ProjectID string `json:"project_id"`
	Phase     Phase  `json:"phase"`
}

type AgentLaunchedPayload struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	TeamName  string `json:"team_name"`
}

type AgentCompletedPayload struct {
	ProjectID string        `json:"project_id"`
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
}

type MergeOrderDeterminedPayload struct {
	ProjectID  string   `json:"project_id"`
	MergeOrder []string `json:"merge_order"`
}

type MergeStartedPayload struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
}

type MergeConflictPayload struct {
	ProjectID        string   `json:"project_id"`
	SessionID        string   `json:"session_id"`
	ConflictedFiles  []string `json:"conflicted_files"`
	Error            string   `json:"error"`
}

type MergeCompletedPayload struct {
	ProjectID string      `json:"project_id"`
	SessionID string      `json:"session_id"`
	Skipped   bool        `json:"skipped"`
	Result    MergeResult `json:"result"`
}

type ConflictResolvedPayload struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
}

type BuildStartedPayload struct {
	ProjectID string `json:"project_id"`
}

type BuildResultPayload struct {
	ProjectID  string `json:"project_id"`
	Success    bool   `json:"success"`
	OutputTail string `json:"output_tail"`
}

type BuildFixAttemptPayload struct {
	ProjectID string `json:"project_id"`
	Attempt   int    `json:"attempt"`
}

type TestStartedPayload struct {
	ProjectID string `json:"project_id"`
}

type TestResultPayload struct {
	ProjectID  string `json:"project_id"`
	Success    bool   `json:"success"`
	OutputTail string `json:"output_tail"`
}

type TestFixAttemptPayload struct {
	ProjectID string `json:"project_id"`
	Attempt   int    `json:"attempt"`
}

type DecisionRequiredPayload struct {
	ProjectID      string       `json:"project_id"`
	DecisionID     string       `json:"decision_id"`
	DecisionType   DecisionKind `json:"decision_type"`
	Description    string       `json:"description"`
	ProposedAction string       `json:"proposed_action"`
	Context        string       `json:"context"`
}

type DecisionResolvedPayload struct {
	ProjectID  string         `json:"project_id"`
	DecisionID string         `json:"decision_id"`
	Action     DecisionAction `json:"action"`
}

type ProjectCompletedPayload struct {
	ProjectID string `json:"project_id"`
}

type ProjectFailedPayload struct {
	ProjectID string `json:"project_id"`
	Reason    string `json:"reason"`
}

// TeamProgressPayload is published on the "teams" channel.
type TeamProgressPayload struct {
	SessionID string `json:"session_id"`
	Event     string `json:"event"` // stdout|stderr|completed|cancelled, or resource_error on the watchdog's resource_error event
	Data      string `json:"data,omitempty"`
	Status    string `json:"status,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
}
