// Package types holds the data model shared across the General Manager's
// components: sessions, tasks, projects, decisions and events.
package types

import "time"

// SessionStatus is the lifecycle state of an AgentSession.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// MergeResult is the outcome of merging a session's branch into the host checkout.
type MergeResult string

const (
	MergeUnset          MergeResult = "unset"
	MergeMerged         MergeResult = "merged"
	MergeMergedResolved MergeResult = "merged_resolved"
	MergeSkipped        MergeResult = "skipped"
	MergeFailed         MergeResult = "failed"
)

// AgentSession is one teammate running on one isolated branch.
//
// Branch exists iff Status != SessionPending and MergeResult wasn't set to
// skipped before launch. FilesChanged is empty until Status is terminal —
// it is only ever finalized by the Team Launcher on session exit.
type AgentSession struct {
	SessionID     string
	ProjectID     string
	TeamName      string
	Task          string
	Branch        string
	WorktreePath  string
	Status        SessionStatus
	FilesChanged  []string
	MergeResult   MergeResult
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// IsTerminal reports whether the session has reached a terminal status.
func (s *AgentSession) IsTerminal() bool {
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a TeammateTask.
type TaskStatus string

const (
	TeammateTaskPending    TaskStatus = "pending"
	TeammateTaskRunning    TaskStatus = "running"
	TeammateTaskCompleted  TaskStatus = "completed"
	TeammateTaskFailed     TaskStatus = "failed"
)

// TeammateTask is one unit of work inside a session. A session may be a
// single atomic task or a scripted sequence of them; each is owned by
// exactly one AgentSession and is destroyed with it.
type TeammateTask struct {
	TaskID      string
	SessionID   string
	Teammate    string
	Role        string
	Status      TaskStatus
	Output      string
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}
