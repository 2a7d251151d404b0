package core

// TaskStatus is the lifecycle status of a single task within a run.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the task will not be scheduled again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// SatisfiesDependency returns true if a dependent task may run after a task in this status.
func (s TaskStatus) SatisfiesDependency() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// SkipReason records why a task ended up skipped.
type SkipReason string

const (
	// SkipReasonCondition marks a task whose `when` condition evaluated to false.
	SkipReasonCondition SkipReason = "condition"

	// SkipReasonUnreachable marks a task downstream of a failed task.
	SkipReasonUnreachable SkipReason = "unreachable"
)

// WorkflowStatus is the status of a whole workflow run.
type WorkflowStatus string

const (
	WorkflowStatusInitializing WorkflowStatus = "initializing"
	WorkflowStatusRunning      WorkflowStatus = "running"
	WorkflowStatusPaused       WorkflowStatus = "paused"
	WorkflowStatusCompleted    WorkflowStatus = "completed"
	WorkflowStatusFailed       WorkflowStatus = "failed"
	WorkflowStatusCancelled    WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) String() string {
	return string(s)
}

// IsTerminal returns true for completed, failed, and cancelled runs.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// Resumable returns true if a persisted run in this status can be picked up again.
func (s WorkflowStatus) Resumable() bool {
	return s == WorkflowStatusRunning || s == WorkflowStatusPaused
}
