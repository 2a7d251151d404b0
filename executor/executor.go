// Package executor runs workflow definitions: it dispatches ready tasks to agents,
// applies recovery strategies to failed attempts and checkpoints every transition.
//
// Each run is driven by a single coordinator goroutine that is the only writer of the
// run's state. Task attempts execute on a bounded worker pool and report back over a
// channel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-dslflow/agent"
	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/internal/metrickeys"
	"github.com/cschleiden/go-dslflow/log"
	"github.com/cschleiden/go-dslflow/metrics"
	"github.com/cschleiden/go-dslflow/workflow"
)

type Executor struct {
	backend backend.Backend
	runner  agent.Runner
	options Options

	logger *slog.Logger
	tracer trace.Tracer
	mc     metrics.Client

	mu     sync.Mutex
	active map[string]*Run
}

func New(b backend.Backend, runner agent.Runner, opts ...Option) *Executor {
	options := ApplyOptions(opts...)

	return &Executor{
		backend: b,
		runner:  runner,
		options: options,
		logger:  options.Logger,
		tracer:  options.TracerProvider.Tracer(backend.TracerName),
		mc:      options.Metrics,
		active:  map[string]*Run{},
	}
}

// Start begins a new run of the definition.
func (e *Executor) Start(ctx context.Context, def *workflow.Definition, opts ...RunOption) (*Run, error) {
	var ro RunOptions
	for _, opt := range opts {
		opt(&ro)
	}

	if ro.ID == "" {
		ro.ID = e.options.NewRunID()
	}

	vars, err := def.WithInputs(ro.Inputs)
	if err != nil {
		return nil, err
	}

	if _, err := e.backend.Load(ctx, ro.ID); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrRunExists, ro.ID)
	} else if !errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("checking for existing run: %w", err)
	}

	state := core.NewWorkflowState(ro.ID, def.Name, def.Version, def.Graph.Hash(), def.Graph.Order(), e.options.Clock.Now())
	state.Variables = vars

	return e.launch(ctx, def, state, false, nil)
}

// Resume continues a paused or interrupted run from its last checkpoint. Tasks that were
// running when the checkpoint was written are restarted; the interrupted attempt does not
// count towards their retry budget.
func (e *Executor) Resume(ctx context.Context, def *workflow.Definition, id string) (*Run, error) {
	state, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !state.Status.Resumable() {
		return nil, fmt.Errorf("%w: run %q is %s", ErrNotResumable, id, state.Status)
	}

	if state.GraphHash != def.Graph.Hash() {
		return nil, fmt.Errorf("%w: run %q", ErrDefinitionChanged, id)
	}

	prepareResume(state, def)

	return e.launch(ctx, def, state, true, nil)
}

// Cancel cancels a run. An active run is cancelled and awaited, a paused run is marked as
// cancelled together with its paused nested runs.
func (e *Executor) Cancel(ctx context.Context, id string) (*core.Summary, error) {
	e.mu.Lock()
	r, ok := e.active[id]
	e.mu.Unlock()

	if ok {
		r.Cancel()
		return r.Wait(ctx)
	}

	state, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !state.Status.Resumable() {
		return nil, fmt.Errorf("%w: run %q is %s", ErrNotResumable, id, state.Status)
	}

	summaries, err := e.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nested runs: %w", err)
	}

	for _, s := range summaries {
		if s.ID == id || !backend.Covers(id, s.ID) || !s.Status.Resumable() {
			continue
		}

		nested, err := e.load(ctx, s.ID)
		if err != nil {
			return nil, err
		}

		if err := e.markCancelled(ctx, nested); err != nil {
			return nil, err
		}
	}

	if err := e.markCancelled(ctx, state); err != nil {
		return nil, err
	}

	return state.Summarize(), nil
}

// markCancelled persists a stored run as cancelled. Tasks that were running or waiting for
// a retry are failed with the cancellation marker.
func (e *Executor) markCancelled(ctx context.Context, state *core.WorkflowState) error {
	now := e.options.Clock.Now()

	for id, ts := range state.Tasks {
		if ts.Status != core.TaskStatusRunning && ts.Status != core.TaskStatusReady {
			continue
		}

		if err := state.SetTaskStatus(id, core.TaskStatusFailed); err != nil {
			return err
		}
		ts.Cancelled = true
		ts.Error = "cancelled"
		ts.FinishedAt = &now
		ts.RetryAt = nil
	}

	if err := state.SetStatus(core.WorkflowStatusCancelled); err != nil {
		return err
	}
	state.CheckpointAt = now

	if err := e.backend.Save(ctx, state); err != nil {
		return &PersistenceError{RunID: state.ID, Err: err}
	}

	e.logger.Info("run cancelled", log.RunIDKey, state.ID)

	return nil
}

func (e *Executor) load(ctx context.Context, id string) (*core.WorkflowState, error) {
	state, err := e.backend.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	return state, nil
}

// prepareResume moves interrupted attempts back to ready.
func prepareResume(state *core.WorkflowState, def *workflow.Definition) {
	for _, id := range def.Graph.Order() {
		ts := state.Tasks[id]
		if ts == nil {
			state.Tasks[id] = &core.TaskState{Status: core.TaskStatusPending}
			continue
		}

		if ts.Status == core.TaskStatusRunning {
			// Running -> Ready is always a valid transition.
			_ = state.SetTaskStatus(id, core.TaskStatusReady)
			ts.StartedAt = nil
			if ts.Attempts > 0 {
				ts.Attempts--
			}
		}
	}
}

func (e *Executor) register(r *Run) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.active[r.ID]; ok {
		return fmt.Errorf("%w: %q", ErrRunActive, r.ID)
	}

	e.active[r.ID] = r

	return nil
}

func (e *Executor) unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, id)
}

// launch starts the coordinator of a run. A nested run is registered with its parent
// before it can dispatch, so pausing the parent reaches it.
func (e *Executor) launch(ctx context.Context, def *workflow.Definition, state *core.WorkflowState, resumed bool, parent *Run) (*Run, error) {
	mc := e.mc.WithTags(metrics.Tags{
		metrickeys.Workflow: def.Name,
		metrickeys.Nested:   fmt.Sprint(state.ParentID != ""),
	})

	runCtx, cancel := context.WithCancel(ctx)
	r := newRun(state, cancel, e.options.EventBuffer, mc)

	if err := e.register(r); err != nil {
		cancel()
		return nil, err
	}

	if parent != nil {
		parent.addChild(r)
	}

	c := newCoordinator(runCtx, e, r, def, state, mc)
	if err := c.start(resumed); err != nil {
		cancel()
		e.unregister(r.ID)
		if parent != nil {
			parent.removeChild(r.ID)
		}
		return nil, err
	}

	go func() {
		summary, err := c.loop()
		cancel()

		e.unregister(r.ID)
		r.finish(summary, err)
	}()

	return r, nil
}
