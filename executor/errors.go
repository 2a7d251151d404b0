package executor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRunActive is returned when a run with the same ID is already executing in this
	// process.
	ErrRunActive = errors.New("run is already active")

	// ErrRunExists is returned when starting a run with the ID of a stored run.
	ErrRunExists = errors.New("run already exists")

	// ErrNotResumable is returned when resuming a run that has already finished.
	ErrNotResumable = errors.New("run cannot be resumed")

	// ErrDefinitionChanged is returned when resuming a run against a task graph that
	// differs from the one it was started with.
	ErrDefinitionChanged = errors.New("workflow definition changed since the run was started")

	// ErrNoSubflowResolver is returned for subflow tasks when no resolver is configured.
	ErrNoSubflowResolver = errors.New("no subflow resolver configured")

	errNestedPaused = errors.New("nested run paused")

	errNoWorkerSlot = errors.New("no free worker slot")
)

// PersistenceError is returned when a checkpoint cannot be written. It ends the run.
type PersistenceError struct {
	RunID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting run %q: %v", e.RunID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NestedRunError describes a nested run that did not complete.
type NestedRunError struct {
	RunID  string
	Status string
	Cause  string
}

func (e *NestedRunError) Error() string {
	if e.Cause == "" {
		return fmt.Sprintf("nested run %q %s", e.RunID, e.Status)
	}

	return fmt.Sprintf("nested run %q %s: %s", e.RunID, e.Status, e.Cause)
}

// DefinitionOfDoneError is the failure of an attempt whose agent returned but whose
// Definition-of-Done condition evaluated to false.
type DefinitionOfDoneError struct {
	Task      string
	Condition string
}

func (e *DefinitionOfDoneError) Error() string {
	return fmt.Sprintf("task %q: definition of done not met: %s", e.Task, e.Condition)
}

// TimeoutError is the failure of an attempt that exceeded the task timeout.
type TimeoutError struct {
	Task    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out after %s", e.Task, e.Timeout)
}
