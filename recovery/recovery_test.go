package recovery

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cschleiden/go-dslflow/condition"
	"github.com/stretchr/testify/require"
)

func Test_Backoff(t *testing.T) {
	tests := []struct {
		base, max time.Duration
		attempt   int
		want      time.Duration
	}{
		{time.Second, 0, 1, time.Second},
		{time.Second, 0, 2, 2 * time.Second},
		{time.Second, 0, 3, 4 * time.Second},
		{time.Second, 0, 4, 8 * time.Second},
		{time.Second, 5 * time.Second, 4, 5 * time.Second},
		{time.Second, 5 * time.Second, 40, 5 * time.Second},
		{10 * time.Second, 5 * time.Second, 1, 5 * time.Second},
		{0, 0, 3, 0},
		{time.Second, 0, 0, 0},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, Backoff(tt.base, tt.max, tt.attempt), "base=%s max=%s attempt=%d", tt.base, tt.max, tt.attempt)
	}
}

func Test_Decide(t *testing.T) {
	failure := errors.New("boom")

	tests := []struct {
		name     string
		strategy *Strategy
		fc       FailureContext
		want     Action
	}{
		{
			name: "no strategy propagates",
			fc:   FailureContext{Attempt: 1, Err: failure},
			want: Action{Kind: ActionPropagate},
		},
		{
			name:     "fail propagates",
			strategy: Fail(),
			fc:       FailureContext{Attempt: 1, Err: failure},
			want:     Action{Kind: ActionPropagate},
		},
		{
			name:     "first retry",
			strategy: Retry(3, time.Second),
			fc:       FailureContext{Attempt: 1, Err: failure},
			want:     Action{Kind: ActionRetry, Delay: time.Second},
		},
		{
			name:     "second retry doubles",
			strategy: Retry(3, time.Second),
			fc:       FailureContext{Attempt: 2, Err: failure},
			want:     Action{Kind: ActionRetry, Delay: 2 * time.Second},
		},
		{
			name:     "retries exhausted",
			strategy: Retry(3, time.Second),
			fc:       FailureContext{Attempt: 3, Err: failure},
			want:     Action{Kind: ActionPropagate},
		},
		{
			name:     "single attempt never retries",
			strategy: Retry(1, time.Second),
			fc:       FailureContext{Attempt: 1, Err: failure},
			want:     Action{Kind: ActionPropagate},
		},
		{
			name:     "permanent error skips retry",
			strategy: Retry(3, time.Second),
			fc:       FailureContext{Attempt: 1, Err: failure, Permanent: true},
			want:     Action{Kind: ActionPropagate},
		},
		{
			name:     "fallback value",
			strategy: FallbackValue(json.RawMessage(`{"summary":"n/a"}`)),
			fc:       FailureContext{Attempt: 1, Err: failure},
			want:     Action{Kind: ActionFallback, Value: json.RawMessage(`{"summary":"n/a"}`)},
		},
		{
			name:     "fallback value is compacted",
			strategy: FallbackValue(json.RawMessage("{\"summary\": \"n/a\",\n \"score\": 0}")),
			fc:       FailureContext{Attempt: 1, Err: failure},
			want:     Action{Kind: ActionFallback, Value: json.RawMessage(`{"summary":"n/a","score":0}`)},
		},
		{
			name:     "empty fallback value is null",
			strategy: &Strategy{Kind: KindFallback},
			fc:       FailureContext{Attempt: 1, Err: failure},
			want:     Action{Kind: ActionFallback, Value: json.RawMessage(`null`)},
		},
		{
			name:     "fallback task",
			strategy: FallbackTask("manual"),
			fc:       FailureContext{Attempt: 1, Err: failure, Permanent: true},
			want:     Action{Kind: ActionFallback, Task: "manual"},
		},
		{
			name:     "failed fallback propagates",
			strategy: FallbackTask("manual"),
			fc:       FailureContext{Attempt: 1, Err: failure, FallbackAttempted: true},
			want:     Action{Kind: ActionPropagate},
		},
		{
			name: "retry then fallback",
			strategy: &Strategy{
				Kind: KindRetry, MaxAttempts: 2, Backoff: time.Second,
				Then: FallbackValue(json.RawMessage(`"default"`)),
			},
			fc:   FailureContext{Attempt: 2, Err: failure},
			want: Action{Kind: ActionFallback, Value: json.RawMessage(`"default"`)},
		},
		{
			name: "trigger not matched",
			strategy: &Strategy{
				Kind: KindRetry, MaxAttempts: 3, Backoff: time.Second,
				When: condition.FileExists("retryable"),
			},
			fc:   FailureContext{Attempt: 1, Err: failure},
			want: Action{Kind: ActionPropagate},
		},
		{
			name: "trigger matched",
			strategy: &Strategy{
				Kind: KindRetry, MaxAttempts: 3, Backoff: time.Second,
				When: condition.FileExists("retryable"),
			},
			fc:   FailureContext{Attempt: 1, Err: failure, TriggerMatched: true},
			want: Action{Kind: ActionRetry, Delay: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Decide(tt.strategy, tt.fc))
		})
	}
}

func Test_Decide_RetryBound(t *testing.T) {
	s := Retry(4, 10*time.Millisecond)

	retries := 0
	for attempt := 1; ; attempt++ {
		a := Decide(s, FailureContext{Attempt: attempt, Err: errors.New("x")})
		if a.Kind != ActionRetry {
			break
		}
		retries++
	}

	require.Equal(t, 3, retries)
}

func Test_Validate(t *testing.T) {
	require.NoError(t, (*Strategy)(nil).Validate())
	require.NoError(t, Retry(3, time.Second).Validate())
	require.NoError(t, FallbackTask("x").Validate())
	require.NoError(t, Fail().Validate())

	require.Error(t, Retry(0, time.Second).Validate())
	require.Error(t, Retry(2, -time.Second).Validate())
	require.Error(t, (&Strategy{Kind: "ignore"}).Validate())
	require.Error(t, (&Strategy{Kind: KindFallback, FallbackTask: "x", FallbackValue: json.RawMessage(`1`)}).Validate())
	require.Error(t, (&Strategy{Kind: KindFallback, FallbackValue: json.RawMessage(`{`)}).Validate())
	require.Error(t, (&Strategy{Kind: KindRetry, MaxAttempts: 2, Then: Retry(2, 0)}).Validate())
	require.Error(t, (&Strategy{Kind: KindFail, When: condition.CommandSucceeds("")}).Validate())
}

func Test_String(t *testing.T) {
	s := &Strategy{
		Kind: KindRetry, MaxAttempts: 3, Backoff: time.Second,
		When: condition.Always(),
		Then: FallbackTask("manual"),
	}

	require.Equal(t, "retry(3, 1s) when always then fallback(task manual)", s.String())
	require.Equal(t, []string{"manual"}, s.Tasks())
}
