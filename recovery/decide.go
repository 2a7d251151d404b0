package recovery

import (
	"encoding/json"
	"time"
)

type ActionKind int

const (
	// ActionPropagate marks the task failed.
	ActionPropagate ActionKind = iota

	// ActionRetry puts the task back to ready after Delay.
	ActionRetry

	// ActionFallback completes the task with Value, or with the result of running Task.
	ActionFallback
)

func (k ActionKind) String() string {
	switch k {
	case ActionRetry:
		return "retry"
	case ActionFallback:
		return "fallback"
	default:
		return "propagate"
	}
}

type Action struct {
	Kind  ActionKind
	Delay time.Duration
	Value json.RawMessage
	Task  string
}

func (a Action) String() string {
	switch a.Kind {
	case ActionRetry:
		return "retry after " + a.Delay.String()
	case ActionFallback:
		if a.Task != "" {
			return "fallback to task " + a.Task
		}
		return "fallback to value"
	default:
		return "propagate failure"
	}
}

// FailureContext describes a failed attempt.
type FailureContext struct {
	// Attempt is the 1-based number of the attempt that failed.
	Attempt int

	Err error

	// Permanent failures are never retried.
	Permanent bool

	// TriggerMatched is the result of evaluating the strategy's When condition. It is
	// ignored for strategies without one.
	TriggerMatched bool

	// FallbackAttempted is set when the failure came from running a fallback task.
	FallbackAttempted bool
}

// Decide picks the recovery action for a failed attempt. It performs no I/O.
func Decide(s *Strategy, fc FailureContext) Action {
	if s == nil {
		return Action{Kind: ActionPropagate}
	}

	if s.When != nil && !fc.TriggerMatched {
		return Action{Kind: ActionPropagate}
	}

	switch s.Kind {
	case KindRetry:
		if !fc.Permanent && !fc.FallbackAttempted && fc.Attempt < s.MaxAttempts {
			return Action{Kind: ActionRetry, Delay: Backoff(s.Backoff, s.MaxBackoff, fc.Attempt)}
		}

		if s.Then != nil {
			// The outer trigger already held.
			fc.TriggerMatched = true
			return Decide(s.Then, fc)
		}

	case KindFallback:
		if fc.FallbackAttempted {
			break
		}

		if s.FallbackTask != "" {
			return Action{Kind: ActionFallback, Task: s.FallbackTask}
		}

		return Action{Kind: ActionFallback, Value: fallbackValue(s.FallbackValue)}
	}

	return Action{Kind: ActionPropagate}
}
