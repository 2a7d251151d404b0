package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/cschleiden/go-dslflow/agent"
	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/log"
	"github.com/cschleiden/go-dslflow/workflow"
)

// runNested executes a task with subtasks or a subflow reference as a child run with the
// ID "<run-id>/<task-id>". A child left paused or interrupted by an earlier attempt is
// resumed from its own checkpoint.
func (c *coordinator) runNested(ctx context.Context, j *job) (json.RawMessage, error) {
	def, err := c.nestedDefinition(ctx, j)
	if err != nil {
		return nil, err
	}

	childID := backend.NestedPrefix(c.state.ID) + j.exec.ID

	child, err := c.e.startNested(ctx, def, childID, c.run)
	if err != nil {
		return nil, err
	}
	defer c.run.removeChild(childID)

	summary, err := child.Wait(context.Background())
	if err != nil {
		return nil, err
	}

	switch summary.Status {
	case core.WorkflowStatusCompleted:
		return nestedResult(child.State(), def)

	case core.WorkflowStatusPaused:
		return nil, errNestedPaused

	case core.WorkflowStatusCancelled:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return nil, &NestedRunError{RunID: childID, Status: string(summary.Status), Cause: summary.FirstError}
}

func (c *coordinator) nestedDefinition(ctx context.Context, j *job) (*workflow.Definition, error) {
	n := j.exec

	if n.IsGroup() {
		sub, _ := c.g.Subgraph(n.ID)

		return &workflow.Definition{
			Name:      c.def.Name + "/" + n.ID,
			Version:   c.def.Version,
			Agents:    c.def.Agents,
			Graph:     sub,
			Variables: j.vars,
		}, nil
	}

	if c.e.options.Subflows == nil {
		return nil, agent.Permanent(fmt.Errorf("task %q: %w", n.ID, ErrNoSubflowResolver))
	}

	d, err := c.e.options.Subflows.Resolve(ctx, n.Subflow)
	if err != nil {
		return nil, fmt.Errorf("resolving subflow %q: %w", n.Subflow, err)
	}

	vars, err := d.WithInputs(n.Params)
	if err != nil {
		return nil, agent.Permanent(err)
	}

	nd := *d
	nd.Variables = vars

	return &nd, nil
}

// nestedResult is an object of the child's task results keyed by task ID.
func nestedResult(state *core.WorkflowState, def *workflow.Definition) (json.RawMessage, error) {
	results := make(map[string]json.RawMessage, len(state.Tasks))
	for _, id := range def.Graph.Order() {
		if ts := state.Tasks[id]; ts != nil && len(ts.Result) > 0 {
			results[id] = ts.Result
		}
	}

	return json.Marshal(results)
}

// startNested starts or resumes the child run of a nested task.
func (e *Executor) startNested(ctx context.Context, def *workflow.Definition, id string, parent *Run) (*Run, error) {
	state, err := e.backend.Load(ctx, id)
	switch {
	case errors.Is(err, backend.ErrNotFound):

	case err != nil:
		return nil, fmt.Errorf("loading nested run: %w", err)

	case state.Status == core.WorkflowStatusCompleted && state.GraphHash == def.Graph.Hash():
		return finishedRun(state, e.mc), nil

	case state.Status.Resumable():
		if state.GraphHash != def.Graph.Hash() {
			return nil, agent.Permanent(fmt.Errorf("%w: nested run %q", ErrDefinitionChanged, id))
		}

		e.logger.Debug("resuming nested run", log.RunIDKey, id)
		prepareResume(state, def)

		return e.launch(ctx, def, state, true, parent)

	default:
		// A failed or cancelled child of an earlier attempt starts over.
		if err := e.backend.Delete(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return nil, &PersistenceError{RunID: id, Err: err}
		}
	}

	state = core.NewWorkflowState(id, def.Name, def.Version, def.Graph.Hash(), def.Graph.Order(), e.options.Clock.Now())
	state.ParentID = parent.ID
	state.Variables = maps.Clone(def.Variables)

	return e.launch(ctx, def, state, false, parent)
}
