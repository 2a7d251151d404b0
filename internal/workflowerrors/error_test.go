package workflowerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NewError_Nil(t *testing.T) {
	err := FromError(nil)
	require.Nil(t, err)
}

func Test_NewError_DoesNotWrapAgain(t *testing.T) {
	err := FromError(errors.New("foo"))

	err2 := FromError(err)
	require.Same(t, err, err2)
	require.NoError(t, errors.Unwrap(err2))
}

func Test_NewError_KeepsCause(t *testing.T) {
	e := FromError(fmt.Errorf("running agent: %w", &CustomError{msg: "quota exceeded"}))

	require.Equal(t, "running agent: quota exceeded", e.Error())
	require.Equal(t, "", e.Type)

	var cause *Error
	require.ErrorAs(t, e.Unwrap(), &cause)
	require.Equal(t, "CustomError", cause.Type)
}

func Test_NewPermanentError(t *testing.T) {
	input := errors.New("foo")
	e := NewPermanentError(input)

	require.EqualError(t, e, input.Error())
	require.True(t, e.Permanent)
	require.NoError(t, e.Unwrap())
}

func Test_NewPermanentError_DoesNotModifyInput(t *testing.T) {
	input := FromError(errors.New("foo"))
	_ = NewPermanentError(input)

	require.False(t, input.Permanent)
}

func Test_Permanent_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("task build: %w", NewPermanentError(errors.New("bad input")))

	require.False(t, CanRetry(err))
	require.True(t, FromError(err).Permanent)
}

func Test_FromError_KeepsPanicStack(t *testing.T) {
	pe := &PanicError{message: "panic: x", stacktrace: "goroutine 1"}
	e := FromError(fmt.Errorf("running agent: %w", pe))

	require.Equal(t, "running agent: panic: x", e.Message)
	require.Equal(t, "goroutine 1", e.Stacktrace)

	e = FromError(pe)
	require.Equal(t, "PanicError", e.Type)
	require.Equal(t, "goroutine 1", e.Stacktrace)
}

func TestCanRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "Plain",
			err:  errors.New("foo"),
			want: true,
		},
		{
			name: "Error",
			err:  FromError(errors.New("foo")),
			want: true,
		},
		{
			name: "Permanent",
			err:  NewPermanentError(errors.New("foo")),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanRetry(tt.err); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}
