package core

import "fmt"

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusReady, TaskStatusSkipped},
	// Ready -> Failed covers failing `when` guards and cancelling a stored run.
	TaskStatusReady:   {TaskStatusRunning, TaskStatusSkipped, TaskStatusFailed},
	// Running -> Ready covers both retries and restarting an interrupted attempt on resume.
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusReady},
}

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusInitializing: {WorkflowStatusRunning, WorkflowStatusFailed},
	WorkflowStatusRunning: {
		WorkflowStatusPaused, WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled,
	},
	WorkflowStatusPaused: {WorkflowStatusRunning, WorkflowStatusCancelled},
}

// CanTransitionTask reports whether a task may move from one status to another.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// CanTransitionWorkflow reports whether a run may move from one status to another.
func CanTransitionWorkflow(from, to WorkflowStatus) bool {
	for _, s := range workflowTransitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// TransitionError is returned when a state change violates the lifecycle.
type TransitionError struct {
	Subject string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Subject, e.From, e.To)
}

// SetTaskStatus moves a task to the given status. Setting the current status is a no-op.
func (s *WorkflowState) SetTaskStatus(id string, to TaskStatus) error {
	ts := s.Task(id)
	if ts == nil {
		return fmt.Errorf("unknown task %q", id)
	}

	if ts.Status != to && !CanTransitionTask(ts.Status, to) {
		return &TransitionError{Subject: "task " + id, From: string(ts.Status), To: string(to)}
	}

	ts.Status = to

	return nil
}

// SetStatus moves the run to the given status. Setting the current status is a no-op.
func (s *WorkflowState) SetStatus(to WorkflowStatus) error {
	if s.Status != to && !CanTransitionWorkflow(s.Status, to) {
		return &TransitionError{Subject: "run " + s.ID, From: string(s.Status), To: string(to)}
	}

	s.Status = to

	return nil
}
