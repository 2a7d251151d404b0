// Package recovery decides what happens to a task after a failed attempt.
package recovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cschleiden/go-dslflow/condition"
)

type Kind string

const (
	KindRetry    Kind = "retry"
	KindFallback Kind = "fallback"
	KindFail     Kind = "fail"
)

const (
	DefaultMaxAttempts = 3
	DefaultMaxBackoff  = 5 * time.Minute
)

// Strategy is the recovery policy attached to a task.
type Strategy struct {
	Kind Kind

	// MaxAttempts bounds the total number of attempts, including the first one.
	MaxAttempts int

	// Backoff is the delay before the first retry. It doubles with every further attempt.
	Backoff time.Duration

	// MaxBackoff caps the delay. Defaults to DefaultMaxBackoff.
	MaxBackoff time.Duration

	// FallbackValue is substituted as the task result.
	FallbackValue json.RawMessage

	// FallbackTask is the ID of a task whose agent is run in place of the failed one.
	FallbackTask string

	// Then is applied once retries are exhausted.
	Then *Strategy

	// When restricts the strategy to failures for which the condition holds.
	When *condition.Condition
}

func Retry(maxAttempts int, backoff time.Duration) *Strategy {
	return &Strategy{Kind: KindRetry, MaxAttempts: maxAttempts, Backoff: backoff}
}

func FallbackValue(v json.RawMessage) *Strategy {
	return &Strategy{Kind: KindFallback, FallbackValue: v}
}

func FallbackTask(id string) *Strategy {
	return &Strategy{Kind: KindFallback, FallbackTask: id}
}

func Fail() *Strategy {
	return &Strategy{Kind: KindFail}
}

func (s *Strategy) Validate() error {
	if s == nil {
		return nil
	}

	switch s.Kind {
	case KindRetry:
		if s.MaxAttempts < 1 {
			return fmt.Errorf("retry requires max_attempts >= 1, got %d", s.MaxAttempts)
		}
		if s.Backoff < 0 || s.MaxBackoff < 0 {
			return fmt.Errorf("backoff must not be negative")
		}
		if s.Then != nil {
			if s.Then.Kind == KindRetry {
				return fmt.Errorf("retry cannot be followed by another retry")
			}
			if s.Then.When != nil {
				return fmt.Errorf("then cannot have its own when condition")
			}
			if err := s.Then.Validate(); err != nil {
				return fmt.Errorf("then: %w", err)
			}
		}

	case KindFallback:
		if s.FallbackTask != "" && len(s.FallbackValue) > 0 {
			return fmt.Errorf("fallback takes either a task or a value, not both")
		}
		if len(s.FallbackValue) > 0 && !json.Valid(s.FallbackValue) {
			return fmt.Errorf("fallback value is not valid JSON")
		}

	case KindFail:

	default:
		return fmt.Errorf("unknown recovery strategy %q", s.Kind)
	}

	if s.When != nil {
		if err := s.When.Validate(); err != nil {
			return fmt.Errorf("when: %w", err)
		}
	}

	return nil
}

// Tasks returns the IDs of tasks the strategy may re-route to.
func (s *Strategy) Tasks() []string {
	var ids []string
	for ; s != nil; s = s.Then {
		if s.FallbackTask != "" {
			ids = append(ids, s.FallbackTask)
		}
	}

	return ids
}

func (s *Strategy) String() string {
	if s == nil {
		return "fail"
	}

	var out string
	switch s.Kind {
	case KindRetry:
		out = fmt.Sprintf("retry(%d, %s)", s.MaxAttempts, s.Backoff)
	case KindFallback:
		if s.FallbackTask != "" {
			out = fmt.Sprintf("fallback(task %s)", s.FallbackTask)
		} else {
			out = fmt.Sprintf("fallback(%s)", fallbackValue(s.FallbackValue))
		}
	default:
		out = string(s.Kind)
	}

	if s.When != nil {
		out += " when " + s.When.String()
	}

	if s.Then != nil {
		out += " then " + s.Then.String()
	}

	return out
}

// fallbackValue returns the compact encoding of v, or null when v is empty.
func fallbackValue(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return v
	}

	return json.RawMessage(buf.Bytes())
}

// Backoff returns the delay before the retry following the given attempt: base for
// attempt 1, doubling from there and capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}

	if max <= 0 {
		max = DefaultMaxBackoff
	}

	b := backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := base
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
		if d >= max {
			break
		}
	}

	return min(d, max)
}
