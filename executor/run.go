package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/event"
	"github.com/cschleiden/go-dslflow/internal/metrickeys"
	"github.com/cschleiden/go-dslflow/metrics"
)

// Run is the handle of an executing workflow run.
type Run struct {
	ID       string
	ParentID string

	mc metrics.Client

	events chan event.Event

	pause          chan struct{}
	pauseOnce      sync.Once
	pauseRequested atomic.Bool
	cancel         context.CancelFunc

	// children are the nested runs started by the run's tasks.
	childMu  sync.Mutex
	children map[string]*Run

	// state holds a copy of the latest checkpoint.
	state atomic.Pointer[core.WorkflowState]

	done    chan struct{}
	summary *core.Summary
	err     error
}

func newRun(state *core.WorkflowState, cancel context.CancelFunc, buffer int, mc metrics.Client) *Run {
	r := &Run{
		ID:       state.ID,
		ParentID: state.ParentID,
		mc:       mc,
		events:   make(chan event.Event, buffer),
		pause:    make(chan struct{}),
		cancel:   cancel,
		children: map[string]*Run{},
		done:     make(chan struct{}),
	}

	r.state.Store(state.Clone())

	return r
}

// finishedRun returns a handle for a run that already reached a terminal status.
func finishedRun(state *core.WorkflowState, mc metrics.Client) *Run {
	r := newRun(state, func() {}, 0, mc)
	r.finish(state.Summarize(), nil)

	return r
}

// Pause stops dispatching new tasks in the run and its nested runs. No task is
// dispatched after Pause returns. The run pauses once all in-flight tasks have finished.
func (r *Run) Pause() {
	r.pauseRequested.Store(true)
	r.pauseOnce.Do(func() {
		close(r.pause)
	})

	r.childMu.Lock()
	defer r.childMu.Unlock()

	for _, child := range r.children {
		child.Pause()
	}
}

// addChild registers a nested run. A child added after Pause is paused right away.
func (r *Run) addChild(child *Run) {
	r.childMu.Lock()
	r.children[child.ID] = child
	r.childMu.Unlock()

	if r.pauseRequested.Load() {
		child.Pause()
	}
}

func (r *Run) removeChild(id string) {
	r.childMu.Lock()
	defer r.childMu.Unlock()

	delete(r.children, id)
}

// Cancel aborts in-flight tasks and ends the run as cancelled.
func (r *Run) Cancel() {
	r.cancel()
}

// Events returns the progress events of the run. The channel is closed when the run
// ends. Events are dropped if the channel is not drained.
func (r *Run) Events() <-chan event.Event {
	return r.events
}

// Done is closed when the run has ended, paused or failed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run has ended or paused. It returns the summary of the final
// checkpoint. A non-nil error means the run could not be persisted.
func (r *Run) Wait(ctx context.Context) (*core.Summary, error) {
	select {
	case <-r.done:
		return r.summary, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the summary of the latest checkpoint.
func (r *Run) Status() *core.Summary {
	return r.state.Load().Summarize()
}

// State returns a copy of the latest checkpoint.
func (r *Run) State() *core.WorkflowState {
	return r.state.Load().Clone()
}

func (r *Run) checkpointed(state *core.WorkflowState) {
	r.state.Store(state.Clone())
}

func (r *Run) send(ev event.Event) {
	select {
	case r.events <- ev:
	default:
		r.mc.Counter(metrickeys.EventsDropped, metrics.Tags{}, 1)
	}
}

func (r *Run) finish(summary *core.Summary, err error) {
	r.summary = summary
	r.err = err

	close(r.events)
	close(r.done)
}
