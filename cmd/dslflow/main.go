// Command dslflow runs DSL workflow definitions with checkpointed, resumable state.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes
const (
	exitCompleted = 0
	exitFailed    = 1
	exitPaused    = 2
	exitCancelled = 3
	exitError     = 4
)

// exitCodeError carries the exit code of a command that ran to a non-successful end.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}

	var ec *exitCodeError
	if errors.As(err, &ec) {
		os.Exit(ec.code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(exitError)
}
