package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-dslflow/agent"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/event"
	"github.com/cschleiden/go-dslflow/graph"
	"github.com/cschleiden/go-dslflow/internal/metrickeys"
	"github.com/cschleiden/go-dslflow/internal/worker"
	"github.com/cschleiden/go-dslflow/internal/workflowerrors"
	"github.com/cschleiden/go-dslflow/log"
	"github.com/cschleiden/go-dslflow/metrics"
	"github.com/cschleiden/go-dslflow/recovery"
	"github.com/cschleiden/go-dslflow/workflow"
)

// coordinator drives a single run. Its fields are only accessed from the coordinator
// goroutine.
type coordinator struct {
	e      *Executor
	run    *Run
	def    *workflow.Definition
	g      *graph.TaskGraph
	state  *core.WorkflowState
	logger *slog.Logger
	mc     metrics.Client
	clock  clock.Clock

	ctx  context.Context
	span trace.Span
	pool *worker.Pool[*job, *outcome]

	inflight    map[string]*job
	guardPassed map[string]bool
	events      []event.Event

	pausing    bool
	cancelling bool
	started    time.Time

	// transitionErr is the first status change that violated the task lifecycle.
	transitionErr error
}

func newCoordinator(ctx context.Context, e *Executor, r *Run, def *workflow.Definition, state *core.WorkflowState, mc metrics.Client) *coordinator {
	c := &coordinator{
		e:     e,
		run:   r,
		def:   def,
		g:     def.Graph,
		state: state,
		logger: e.logger.With(
			log.RunIDKey, state.ID,
			log.WorkflowKey, state.Name,
		),
		mc:          mc,
		clock:       e.options.Clock,
		inflight:    map[string]*job{},
		guardPassed: map[string]bool{},
	}

	if state.ParentID != "" {
		c.logger = c.logger.With(log.ParentRunIDKey, state.ParentID)
	}

	c.ctx, c.span = e.tracer.Start(ctx, "Workflow: "+state.Name, trace.WithAttributes(
		attribute.String(log.RunIDKey, state.ID),
		attribute.String(log.WorkflowKey, state.Name),
		attribute.String(log.VersionKey, state.Version),
	))

	c.pool = worker.NewPool(e.options.MaxParallelTasks, c.execute)

	return c
}

// start persists the run as running.
func (c *coordinator) start(resumed bool) error {
	c.started = c.clock.Now()
	if err := c.state.SetStatus(core.WorkflowStatusRunning); err != nil {
		c.span.End()
		return err
	}
	c.state.Error = ""

	if err := c.save(); err != nil {
		c.span.End()
		return err
	}

	typ := event.WorkflowStarted
	if resumed {
		typ = event.WorkflowResumed
	}
	c.emit(event.Event{Type: typ})
	c.flush()

	c.mc.Counter(metrickeys.RunStarted, metrics.Tags{}, 1)
	c.logger.Info("run started", "resumed", resumed, "max_parallel", c.pool.Capacity())

	return nil
}

func (c *coordinator) loop() (*core.Summary, error) {
	defer c.span.End()

	pauseC := c.run.pause
	doneC := c.ctx.Done()

	for {
		// Pause and cancel requests take precedence over dispatching and over completions
		// that are ready at the same time.
		select {
		case <-pauseC:
			pauseC = nil
			c.requestPause()
			continue
		case <-doneC:
			doneC = nil
			c.requestCancel()
			continue
		default:
		}

		if err := c.advance(); err != nil {
			return c.abort(err)
		}

		if status, ok := c.finished(); ok {
			return c.finalize(status)
		}

		var timer *clock.Timer
		var retryC <-chan time.Time
		if d, ok := c.nextRetry(); ok {
			timer = c.clock.Timer(d)
			retryC = timer.C
		}

		select {
		case o := <-c.pool.Results():
			if err := c.handle(o); err != nil {
				stopTimer(timer)
				return c.abort(err)
			}

		case <-retryC:

		case <-pauseC:
			pauseC = nil
			c.requestPause()

		case <-doneC:
			doneC = nil
			c.requestCancel()
		}

		stopTimer(timer)
	}
}

func (c *coordinator) requestPause() {
	c.pausing = true
	c.logger.Info("pausing run", log.InFlightKey, len(c.inflight))
}

func (c *coordinator) requestCancel() {
	c.cancelling = true
	c.logger.Info("cancelling run", log.InFlightKey, len(c.inflight))
}

func stopTimer(t *clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

// advance promotes pending tasks whose dependencies are satisfied and dispatches ready
// tasks into free slots, in definition order. The resulting transitions are persisted
// before any attempt starts.
func (c *coordinator) advance() error {
	if c.transitionErr != nil {
		return c.transitionErr
	}

	now := c.clock.Now()
	changed := false

	for _, id := range c.g.ReadySet(c.state.Statuses()) {
		c.setTaskStatus(id, core.TaskStatusReady)
		changed = true
	}

	var jobs []*job
	if !c.pausing && !c.cancelling {
		free := min(c.pool.Free(), c.pool.Capacity()-len(c.inflight))

		for _, id := range c.g.Order() {
			if free <= 0 {
				break
			}

			ts := c.state.Tasks[id]
			if ts.Status != core.TaskStatusReady || c.inflight[id] != nil {
				continue
			}

			if ts.RetryAt != nil && ts.RetryAt.After(now) {
				continue
			}

			node, _ := c.g.Node(id)
			if node.When != nil && !c.guardPassed[id] && ts.Attempts == 0 && ts.Fallback == "" {
				jobs = append(jobs, &job{
					kind:   jobGuard,
					taskID: id,
					node:   node,
					exec:   node,
					vars:   c.state.VariablesSnapshot(),
				})
				free--
				continue
			}

			jobs = append(jobs, c.dispatch(node, ts, now))
			changed = true
			free--
		}
	}

	if c.transitionErr != nil {
		return c.transitionErr
	}

	if changed {
		if err := c.save(); err != nil {
			return err
		}
	}

	for _, j := range jobs {
		if err := c.submit(j); err != nil {
			return err
		}
	}

	if len(jobs) > 0 {
		c.mc.Gauge(metrickeys.TasksInFlight, metrics.Tags{}, int64(len(c.inflight)))
	}

	c.flush()

	return nil
}

// submit hands a job to the worker pool and tracks it until its outcome is handled.
func (c *coordinator) submit(j *job) error {
	if !c.pool.TryDispatch(c.ctx, j) {
		return fmt.Errorf("%w: task %q", errNoWorkerSlot, j.taskID)
	}

	c.inflight[j.taskID] = j

	return nil
}

// dispatch moves a ready task to running and prepares its attempt.
func (c *coordinator) dispatch(node *graph.TaskNode, ts *core.TaskState, now time.Time) *job {
	c.setTaskStatus(node.ID, core.TaskStatusRunning)
	ts.Attempts++
	ts.StartedAt = &now
	ts.FinishedAt = nil
	ts.RetryAt = nil

	j := &job{
		kind:    jobAttempt,
		taskID:  node.ID,
		node:    node,
		exec:    node,
		attempt: ts.Attempts,
		vars:    c.state.VariablesSnapshot(),
	}

	if ts.Fallback != "" {
		alt, _ := c.g.Node(ts.Fallback)
		j.exec = alt
		j.fallback = ts.Fallback
	}

	agentTag := j.exec.Agent
	if agentTag == "" {
		agentTag = "nested"
	}
	c.mc.Counter(metrickeys.TaskDispatched, metrics.Tags{metrickeys.Agent: agentTag}, 1)

	c.logger.Debug("dispatching task",
		log.TaskIDKey, node.ID,
		log.AttemptKey, ts.Attempts,
		log.FallbackKey, j.fallback)

	c.emit(event.Event{Type: event.TaskStarted, TaskID: node.ID, Attempt: ts.Attempts})

	return j
}

// finished reports whether the loop should end and with which status.
func (c *coordinator) finished() (core.WorkflowStatus, bool) {
	if len(c.inflight) > 0 {
		return "", false
	}

	if c.cancelling {
		return core.WorkflowStatusCancelled, true
	}

	statuses := c.state.Statuses()
	if c.g.IsTerminal(statuses) {
		for _, s := range statuses {
			if s == core.TaskStatusFailed {
				return core.WorkflowStatusFailed, true
			}
		}

		return core.WorkflowStatusCompleted, true
	}

	if c.pausing {
		return core.WorkflowStatusPaused, true
	}

	return "", false
}

// nextRetry returns the time until the earliest pending retry becomes due.
func (c *coordinator) nextRetry() (time.Duration, bool) {
	if c.pausing || c.cancelling {
		return 0, false
	}

	now := c.clock.Now()

	var next *time.Time
	for id, ts := range c.state.Tasks {
		if ts.Status != core.TaskStatusReady || ts.RetryAt == nil || c.inflight[id] != nil {
			continue
		}

		if next == nil || ts.RetryAt.Before(*next) {
			next = ts.RetryAt
		}
	}

	if next == nil {
		return 0, false
	}

	d := next.Sub(now)
	if d < 0 {
		d = 0
	}

	return d, true
}

// handle applies the outcome of a job to the run state.
func (c *coordinator) handle(o *outcome) error {
	j := o.job
	delete(c.inflight, j.taskID)

	node := j.node
	ts := c.state.Tasks[j.taskID]
	now := c.clock.Now()

	var perr *PersistenceError
	if errors.As(o.err, &perr) {
		return perr
	}

	if j.kind == jobGuard {
		if c.ctx.Err() != nil {
			return nil
		}

		switch {
		case o.err != nil:
			c.logger.Warn("evaluating task condition", log.TaskIDKey, j.taskID, log.ConditionKey, node.When.String(), "error", o.err)
			c.failTask(j.taskID, ts, o.err, now)

		case !o.ok:
			c.skip(j.taskID, ts, core.SkipReasonCondition, now)

		default:
			c.guardPassed[j.taskID] = true
			return nil
		}

		return c.checkpoint()
	}

	c.mc.Timing(metrickeys.TaskDuration, metrics.Tags{}, o.duration)

	switch {
	case errors.Is(o.err, errNestedPaused):
		// The interrupted attempt is retried when the run is resumed.
		c.setTaskStatus(j.taskID, core.TaskStatusReady)
		ts.StartedAt = nil
		ts.Attempts--

	case o.err == nil:
		c.complete(j.taskID, ts, o.result, o.bindings, now)
		if j.fallback != "" {
			ts.Fallback = j.fallback
		}

	case c.ctx.Err() != nil:
		c.setTaskStatus(j.taskID, core.TaskStatusFailed)
		ts.Cancelled = true
		ts.Error = "cancelled"
		ts.FinishedAt = &now
		c.mc.Counter(metrickeys.TaskFinished, metrics.Tags{metrickeys.Status: "cancelled"}, 1)
		c.emit(event.Event{Type: event.TaskFailed, TaskID: j.taskID, Attempt: ts.Attempts, Error: ts.Error})

	default:
		c.recover(node, ts, o, now)
	}

	return c.checkpoint()
}

func (c *coordinator) recover(node *graph.TaskNode, ts *core.TaskState, o *outcome, now time.Time) {
	recordError(ts, o.err)

	action := recovery.Decide(node.Recovery, recovery.FailureContext{
		Attempt:           ts.Attempts,
		Err:               o.err,
		Permanent:         agent.IsPermanent(o.err),
		TriggerMatched:    o.triggerMatched,
		FallbackAttempted: o.job.fallback != "",
	})

	logger := c.logger.With(log.TaskIDKey, node.ID, log.AttemptKey, ts.Attempts, "error", o.err)

	switch action.Kind {
	case recovery.ActionRetry:
		retryAt := now.Add(action.Delay)
		c.setTaskStatus(node.ID, core.TaskStatusReady)
		ts.RetryAt = &retryAt

		logger.Info("retrying task", log.BackoffKey, action.Delay.Milliseconds())
		c.mc.Counter(metrickeys.TaskRetried, metrics.Tags{}, 1)
		c.emit(event.Event{Type: event.TaskRetrying, TaskID: node.ID, Attempt: ts.Attempts, Error: ts.Error, Delay: action.Delay})

	case recovery.ActionFallback:
		if action.Task != "" {
			c.setTaskStatus(node.ID, core.TaskStatusReady)
			ts.Fallback = action.Task

			logger.Info("falling back to task", log.FallbackKey, action.Task)
			c.emit(event.Event{Type: event.TaskFallback, TaskID: node.ID, Attempt: ts.Attempts, Error: ts.Error})
			return
		}

		logger.Info("falling back to value")
		c.emit(event.Event{Type: event.TaskFallback, TaskID: node.ID, Attempt: ts.Attempts, Error: ts.Error})
		c.complete(node.ID, ts, action.Value, fallbackBindings(node, action.Value), now)
		ts.Fallback = core.FallbackValue

	default:
		logger.Warn("task failed")
		c.failTask(node.ID, ts, o.err, now)
	}
}

func (c *coordinator) complete(id string, ts *core.TaskState, result json.RawMessage, bindings []binding, now time.Time) {
	c.setTaskStatus(id, core.TaskStatusCompleted)
	ts.Result = result
	ts.FinishedAt = &now
	ts.RetryAt = nil

	for _, b := range bindings {
		c.state.Bind(b.key, b.value)
	}

	c.mc.Counter(metrickeys.TaskFinished, metrics.Tags{metrickeys.Status: string(core.TaskStatusCompleted)}, 1)
	c.emit(event.Event{Type: event.TaskCompleted, TaskID: id, Attempt: ts.Attempts})
}

// recordError stores the normalized failure of an attempt in the task state.
func recordError(ts *core.TaskState, err error) {
	werr := workflowerrors.FromError(err)

	ts.Error = werr.Message
	ts.ErrorType = werr.Type
	ts.Permanent = werr.Permanent
	ts.Stack = werr.Stacktrace
}

// failTask marks the task failed and skips every task downstream of it, since none of
// them can run anymore.
func (c *coordinator) failTask(id string, ts *core.TaskState, err error, now time.Time) {
	c.setTaskStatus(id, core.TaskStatusFailed)
	recordError(ts, err)
	ts.FinishedAt = &now
	ts.RetryAt = nil

	c.mc.Counter(metrickeys.TaskFinished, metrics.Tags{metrickeys.Status: string(core.TaskStatusFailed)}, 1)
	c.emit(event.Event{Type: event.TaskFailed, TaskID: id, Attempt: ts.Attempts, Error: ts.Error})

	for _, d := range c.g.Descendants(id) {
		dts := c.state.Tasks[d]
		if dts.Status == core.TaskStatusPending || (dts.Status == core.TaskStatusReady && c.inflight[d] == nil) {
			c.skip(d, dts, core.SkipReasonUnreachable, now)
		}
	}
}

func (c *coordinator) skip(id string, ts *core.TaskState, reason core.SkipReason, now time.Time) {
	c.setTaskStatus(id, core.TaskStatusSkipped)
	ts.SkipReason = reason
	ts.FinishedAt = &now

	c.logger.Debug("skipping task", log.TaskIDKey, id, "reason", reason)
	c.mc.Counter(metrickeys.TaskSkipped, metrics.Tags{"reason": string(reason)}, 1)
	c.emit(event.Event{Type: event.TaskSkipped, TaskID: id})
}

// checkpoint persists the state and publishes the events of the transitions it contains.
func (c *coordinator) checkpoint() error {
	if c.transitionErr != nil {
		return c.transitionErr
	}

	if err := c.save(); err != nil {
		return err
	}

	c.flush()

	return nil
}

func (c *coordinator) save() error {
	c.state.CheckpointAt = c.clock.Now()

	if err := c.e.backend.Save(context.WithoutCancel(c.ctx), c.state); err != nil {
		return &PersistenceError{RunID: c.state.ID, Err: err}
	}

	c.run.checkpointed(c.state)

	return nil
}

// setTaskStatus applies a lifecycle-checked status change. The first violation is kept
// and ends the run before the next checkpoint.
func (c *coordinator) setTaskStatus(id string, to core.TaskStatus) {
	if err := c.state.SetTaskStatus(id, to); err != nil && c.transitionErr == nil {
		c.logger.Error("invalid task transition", log.TaskIDKey, id, "error", err)
		c.transitionErr = err
	}
}

func (c *coordinator) emit(ev event.Event) {
	ev.RunID = c.state.ID
	ev.At = c.clock.Now()
	c.events = append(c.events, ev)
}

func (c *coordinator) flush() {
	for _, ev := range c.events {
		c.run.send(ev)
	}

	c.events = c.events[:0]
}

func (c *coordinator) finalize(status core.WorkflowStatus) (*core.Summary, error) {
	if err := c.state.SetStatus(status); err != nil {
		return c.abort(err)
	}

	if err := c.save(); err != nil {
		c.span.SetStatus(codes.Error, err.Error())
		return c.state.Summarize(), err
	}

	summary := c.state.Summarize()

	if typ, ok := event.ForWorkflowStatus(status); ok {
		c.emit(event.Event{Type: typ, Summary: summary})
	}
	c.flush()

	c.pool.Wait()

	c.span.SetAttributes(attribute.String(log.StatusKey, string(status)))
	if status == core.WorkflowStatusFailed {
		c.span.SetStatus(codes.Error, summary.FirstError)
	}

	if status != core.WorkflowStatusPaused {
		c.mc.Counter(metrickeys.RunFinished, metrics.Tags{metrickeys.Status: string(status)}, 1)
		c.mc.Timing(metrickeys.RunDuration, metrics.Tags{}, c.clock.Since(c.started))
	}

	c.logger.Info("run ended", log.StatusKey, status, "summary", summary.String())

	return summary, nil
}

// abort ends the run after a checkpoint could not be written or a status change violated
// the lifecycle. In-flight attempts are cancelled and awaited, their outcomes are
// discarded.
func (c *coordinator) abort(err error) (*core.Summary, error) {
	c.logger.Error("run aborted", "error", err)
	c.span.SetStatus(codes.Error, err.Error())

	c.run.cancel()
	for len(c.inflight) > 0 {
		o := <-c.pool.Results()
		delete(c.inflight, o.job.taskID)
	}
	c.pool.Wait()

	if serr := c.state.SetStatus(core.WorkflowStatusFailed); serr != nil {
		c.logger.Error("failing run", "error", serr)
		c.state.Status = core.WorkflowStatusFailed
	}
	c.state.Error = err.Error()
	if serr := c.save(); serr != nil {
		c.logger.Error("persisting failed run", "error", serr)
	}

	summary := c.state.Summarize()
	c.emit(event.Event{Type: event.WorkflowFailed, Summary: summary, Error: err.Error()})
	c.flush()

	c.mc.Counter(metrickeys.RunFinished, metrics.Tags{metrickeys.Status: string(core.WorkflowStatusFailed)}, 1)

	return summary, err
}
