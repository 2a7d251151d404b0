package graph

import (
	"time"

	"github.com/cschleiden/go-dslflow/condition"
	"github.com/cschleiden/go-dslflow/recovery"
)

// TaskNode is the immutable definition of a task. Nodes must not be modified once they
// are part of a TaskGraph.
type TaskNode struct {
	ID          string
	Description string

	// Agent is the ID of the agent executing the task. For a task with subtasks it is the
	// default agent inherited by subtasks that do not name one.
	Agent string

	// Subflow references a nested workflow definition, resolved at run time.
	Subflow string

	DependsOn []string

	// When guards the task: if it evaluates to false the task is skipped and its
	// dependents still run.
	When *condition.Condition

	// DoD is the Definition-of-Done checked after the agent returns.
	DoD *condition.Condition

	Recovery *recovery.Strategy

	Outputs []OutputBinding

	// Subtasks are run as a nested graph in place of the task itself.
	Subtasks []*TaskNode

	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration

	// Prompt is the instruction passed to the agent.
	Prompt string

	// Params are passed to the agent unchanged.
	Params map[string]any
}

// OutputBinding captures a value from the task result into a variable.
type OutputBinding struct {
	// Name of the variable, bound as task.<task-id>.<name>.
	Name string

	// Path is a gjson path into the result. An empty path binds the whole result.
	Path string

	// Export additionally binds the value as workflow.<name>.
	Export bool
}

// IsGroup returns true if the task fans out into subtasks.
func (n *TaskNode) IsGroup() bool {
	return len(n.Subtasks) > 0
}
