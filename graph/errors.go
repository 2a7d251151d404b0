package graph

import (
	"fmt"
	"strings"
)

// UnknownDependencyError is returned when a task depends on a task that does not exist.
type UnknownDependencyError struct {
	Task       string
	MissingDep string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.Task, e.MissingDep)
}

// CyclicDependencyError is returned when the dependencies form a cycle. Path starts and
// ends with the same task.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Path, " -> "))
}

// InvalidTaskError is returned for a structurally invalid task definition.
type InvalidTaskError struct {
	Task   string
	Reason string
}

func (e *InvalidTaskError) Error() string {
	if e.Task == "" {
		return "invalid task: " + e.Reason
	}

	return fmt.Sprintf("invalid task %q: %s", e.Task, e.Reason)
}

func invalidf(task, format string, args ...any) error {
	return &InvalidTaskError{Task: task, Reason: fmt.Sprintf(format, args...)}
}
