// Package event defines the progress notifications emitted while a run executes.
package event

import (
	"fmt"
	"time"

	"github.com/cschleiden/go-dslflow/core"
)

type Type string

const (
	WorkflowStarted   Type = "workflow_started"
	WorkflowResumed   Type = "workflow_resumed"
	WorkflowPaused    Type = "workflow_paused"
	WorkflowCompleted Type = "workflow_completed"
	WorkflowFailed    Type = "workflow_failed"
	WorkflowCancelled Type = "workflow_cancelled"

	TaskStarted    Type = "task_started"
	TaskCompleted  Type = "task_completed"
	TaskFailed     Type = "task_failed"
	TaskRetrying   Type = "task_retrying"
	TaskSkipped    Type = "task_skipped"
	TaskFallback   Type = "task_fallback"
	CheckpointSave Type = "checkpoint_saved"
)

// Event is a single progress notification. Events are emitted after the transition they
// describe has been checkpointed.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	RunID  string `json:"run_id"`
	TaskID string `json:"task_id,omitempty"`

	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`

	// Delay is the backoff before the next attempt of a retrying task.
	Delay time.Duration `json:"delay,omitempty"`

	// Summary is set on the terminal workflow events and on WorkflowPaused.
	Summary *core.Summary `json:"summary,omitempty"`
}

func (e Event) String() string {
	switch {
	case e.TaskID != "" && e.Error != "":
		return fmt.Sprintf("%s %s[%s]: %s", e.Type, e.RunID, e.TaskID, e.Error)
	case e.TaskID != "":
		return fmt.Sprintf("%s %s[%s]", e.Type, e.RunID, e.TaskID)
	case e.Summary != nil:
		return fmt.Sprintf("%s %s", e.Type, e.Summary)
	default:
		return fmt.Sprintf("%s %s", e.Type, e.RunID)
	}
}

// ForWorkflowStatus returns the terminal or paused event type for a run status.
func ForWorkflowStatus(s core.WorkflowStatus) (Type, bool) {
	switch s {
	case core.WorkflowStatusCompleted:
		return WorkflowCompleted, true
	case core.WorkflowStatusFailed:
		return WorkflowFailed, true
	case core.WorkflowStatusCancelled:
		return WorkflowCancelled, true
	case core.WorkflowStatusPaused:
		return WorkflowPaused, true
	}

	return "", false
}
