package workflowerrors

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NewPanicError(t *testing.T) {
	e := func() (pe *PanicError) {
		defer func() {
			if r := recover(); r != nil {
				pe = NewPanicError(r)
			}
		}()

		panic("agent crashed")
	}()

	require.Equal(t, "panic: agent crashed", e.Error())
	require.NotContains(t, e.Stack(), "workflowerrors/panic.go")
	require.Contains(t, e.Stack(), "Test_NewPanicError")
}
