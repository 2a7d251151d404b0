// Package agent defines how tasks are handed to the processes that execute them.
package agent

import (
	"context"
	"encoding/json"

	"github.com/cschleiden/go-dslflow/graph"
	"github.com/cschleiden/go-dslflow/internal/workflowerrors"
)

// Inputs is what a runner receives besides the task definition.
type Inputs struct {
	RunID   string
	Attempt int

	// WorkDir is the directory the run operates in.
	WorkDir string

	// Variables are the bindings visible to the task at dispatch time.
	Variables map[string]json.RawMessage
}

// Runner executes a single task attempt. Implementations must be safe for concurrent use
// and must return promptly once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, task *graph.TaskNode, in Inputs) (json.RawMessage, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *graph.TaskNode, in Inputs) (json.RawMessage, error)

func (f RunnerFunc) Run(ctx context.Context, task *graph.TaskNode, in Inputs) (json.RawMessage, error) {
	return f(ctx, task, in)
}

// Permanent marks err as a failure that retrying cannot fix. Retry strategies are
// skipped for permanent errors, fallbacks still apply.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return workflowerrors.NewPermanentError(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return err != nil && !workflowerrors.CanRetry(err)
}
