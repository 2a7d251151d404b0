package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-dslflow/agent"
	"github.com/cschleiden/go-dslflow/condition"
	"github.com/cschleiden/go-dslflow/graph"
	"github.com/cschleiden/go-dslflow/internal/workflowerrors"
	"github.com/cschleiden/go-dslflow/log"
)

type jobKind int

const (
	// jobGuard evaluates the `when` condition of a ready task.
	jobGuard jobKind = iota

	// jobAttempt runs a task attempt.
	jobAttempt
)

type job struct {
	kind   jobKind
	taskID string

	// node is the task the attempt is recorded for. Its Definition-of-Done, outputs and
	// recovery apply.
	node *graph.TaskNode

	// exec is the task whose agent runs. It differs from node for fallback attempts.
	exec     *graph.TaskNode
	fallback string

	attempt int
	vars    map[string]json.RawMessage
}

type outcome struct {
	job *job

	// ok is the result of a guard evaluation.
	ok bool

	result   json.RawMessage
	bindings []binding
	err      error

	// triggerMatched is the result of the recovery condition for failed attempts.
	triggerMatched bool

	duration time.Duration
}

// execute runs on a worker goroutine. It must not touch coordinator state besides the
// immutable definition and the options.
func (c *coordinator) execute(ctx context.Context, j *job) (o *outcome) {
	o = &outcome{job: j}
	start := c.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			o.err = workflowerrors.NewPanicError(r)
		}

		o.duration = c.clock.Since(start)
	}()

	if j.kind == jobGuard {
		o.ok, o.err = condition.Evaluate(ctx, j.node.When, c.conditionContext(j.vars))
		return o
	}

	ctx, span := c.e.tracer.Start(ctx, "Task: "+j.taskID, trace.WithAttributes(
		attribute.String(log.TaskIDKey, j.taskID),
		attribute.String(log.AgentIDKey, j.exec.Agent),
		attribute.Int(log.AttemptKey, j.attempt),
	))
	defer span.End()

	o.result, o.err = c.runTask(ctx, j)

	if o.err == nil {
		o.bindings, o.err = bindOutputs(j.node, o.result)
	}

	if o.err == nil && j.node.DoD != nil {
		vars := maps.Clone(j.vars)
		for _, b := range o.bindings {
			vars[b.key] = b.value
		}

		done, err := condition.Evaluate(ctx, j.node.DoD, c.conditionContext(vars))
		switch {
		case err != nil:
			o.err = err
		case !done:
			o.err = &DefinitionOfDoneError{Task: j.taskID, Condition: j.node.DoD.String()}
		}
	}

	if o.err != nil {
		span.SetStatus(codes.Error, o.err.Error())

		if r := j.node.Recovery; r != nil && r.When != nil && ctx.Err() == nil {
			matched, err := condition.Evaluate(ctx, r.When, c.conditionContext(j.vars))
			if err != nil {
				c.logger.Warn("evaluating recovery condition",
					log.TaskIDKey, j.taskID,
					log.ConditionKey, r.When.String(),
					"error", err)
			}
			o.triggerMatched = matched
		}
	}

	return o
}

func (c *coordinator) runTask(ctx context.Context, j *job) (json.RawMessage, error) {
	n := j.exec

	attemptCtx := ctx
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	var result json.RawMessage
	var err error
	switch {
	case n.IsGroup() || n.Subflow != "":
		result, err = c.runNested(attemptCtx, j)
	default:
		result, err = c.runAgent(attemptCtx, j)
	}

	if err != nil {
		if n.Timeout > 0 && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Task: j.taskID, Timeout: n.Timeout}
		}

		return nil, err
	}

	if len(result) == 0 {
		return json.RawMessage("null"), nil
	}

	compact, err := canonical(result)
	if err != nil {
		return nil, fmt.Errorf("task %q: agent returned invalid JSON", j.taskID)
	}

	return compact, nil
}

// canonical returns the compact encoding of a JSON value, the form it has after a
// checkpoint round-trip.
func canonical(v json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return nil, err
	}

	return json.RawMessage(buf.Bytes()), nil
}

func (c *coordinator) runAgent(ctx context.Context, j *job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = workflowerrors.NewPanicError(r)
		}
	}()

	return c.e.runner.Run(ctx, j.exec, agent.Inputs{
		RunID:     c.state.ID,
		Attempt:   j.attempt,
		WorkDir:   c.e.options.WorkDir,
		Variables: j.vars,
	})
}

func (c *coordinator) conditionContext(vars map[string]json.RawMessage) *condition.Context {
	return &condition.Context{
		WorkDir: c.e.options.WorkDir,
		Env:     condition.EnvFromVariables(vars),
		Timeout: c.e.options.ConditionTimeout,
		Shell:   c.e.options.Shell,
	}
}
