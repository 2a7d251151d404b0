package core

import (
	"encoding/json"
	"maps"
	"time"
)

// SchemaVersion is the version of the persisted checkpoint layout.
const SchemaVersion = 1

// FallbackValue is recorded in TaskState.Fallback for tasks completed with a fallback
// value.
const FallbackValue = "value"

// TaskState is the mutable execution state of a single task.
type TaskState struct {
	Status TaskStatus `json:"status"`

	// Attempts is the number of times the task has been dispatched.
	Attempts int `json:"attempts"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// RetryAt is set while a task waits for its retry backoff to elapse.
	RetryAt *time.Time `json:"retry_at,omitempty"`

	// Result is the payload captured from the agent run, or the fallback value.
	Result json.RawMessage `json:"result,omitempty"`

	// Error describes the last failed attempt. ErrorType is the Go type name of the
	// failure, Permanent is set when it could not be retried and Stack holds the stack of
	// a panicking agent.
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`
	Stack     string `json:"stack,omitempty"`

	// Cancelled marks a task that failed because the run was cancelled.
	Cancelled bool `json:"cancelled,omitempty"`

	SkipReason SkipReason `json:"skip_reason,omitempty"`

	// Fallback records how a task was recovered: "value" or the ID of the alternate task.
	Fallback string `json:"fallback,omitempty"`
}

func (ts *TaskState) Clone() *TaskState {
	if ts == nil {
		return nil
	}

	c := *ts
	c.StartedAt = cloneTime(ts.StartedAt)
	c.FinishedAt = cloneTime(ts.FinishedAt)
	c.RetryAt = cloneTime(ts.RetryAt)
	if ts.Result != nil {
		c.Result = append(json.RawMessage(nil), ts.Result...)
	}

	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t
	return &c
}

// WorkflowState is the checkpoint unit of a workflow run.
type WorkflowState struct {
	SchemaVersion int `json:"schema_version"`

	// ID identifies the run. Nested runs use "<parent-id>/<task-id>".
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`

	Name    string `json:"name"`
	Version string `json:"version,omitempty"`

	// GraphHash identifies the task graph the run was started with.
	GraphHash string `json:"graph_hash"`

	Status WorkflowStatus `json:"status"`

	Tasks map[string]*TaskState `json:"tasks"`

	// Variables holds scoped variable bindings, see VarKey.
	Variables map[string]json.RawMessage `json:"variables"`

	// Error is set when the run failed for a reason outside of any task.
	Error string `json:"error,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	CheckpointAt time.Time `json:"checkpoint_at"`
}

// NewWorkflowState creates the initial state for a run with all tasks pending.
func NewWorkflowState(id, name, version, graphHash string, taskIDs []string, now time.Time) *WorkflowState {
	tasks := make(map[string]*TaskState, len(taskIDs))
	for _, id := range taskIDs {
		tasks[id] = &TaskState{Status: TaskStatusPending}
	}

	return &WorkflowState{
		SchemaVersion: SchemaVersion,
		ID:            id,
		Name:          name,
		Version:       version,
		GraphHash:     graphHash,
		Status:        WorkflowStatusInitializing,
		Tasks:         tasks,
		Variables:     map[string]json.RawMessage{},
		CreatedAt:     now,
		CheckpointAt:  now,
	}
}

// Task returns the state of the given task, or nil.
func (s *WorkflowState) Task(id string) *TaskState {
	if s == nil || s.Tasks == nil {
		return nil
	}

	return s.Tasks[id]
}

// Statuses returns a task ID -> status view of the state.
func (s *WorkflowState) Statuses() map[string]TaskStatus {
	out := make(map[string]TaskStatus, len(s.Tasks))
	for id, ts := range s.Tasks {
		out[id] = ts.Status
	}

	return out
}

// Clone returns a deep copy of the state.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}

	c := *s
	c.Tasks = make(map[string]*TaskState, len(s.Tasks))
	for id, ts := range s.Tasks {
		c.Tasks[id] = ts.Clone()
	}

	c.Variables = make(map[string]json.RawMessage, len(s.Variables))
	for k, v := range s.Variables {
		c.Variables[k] = append(json.RawMessage(nil), v...)
	}

	return &c
}

// Bind sets a variable binding.
func (s *WorkflowState) Bind(key string, value json.RawMessage) {
	if s.Variables == nil {
		s.Variables = map[string]json.RawMessage{}
	}

	s.Variables[key] = value
}

// VariablesSnapshot returns a copy of the current bindings.
func (s *WorkflowState) VariablesSnapshot() map[string]json.RawMessage {
	return maps.Clone(s.Variables)
}
