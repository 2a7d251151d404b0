package workflowerrors

import "fmt"

// PanicError is returned for an agent run that panicked.
type PanicError struct {
	message    string
	stacktrace string
}

func (pe *PanicError) Error() string {
	return pe.message
}

func (pe *PanicError) Stack() string {
	return pe.stacktrace
}

// NewPanicError captures the recovered value and the current stack. Call it from the
// deferred function that recovered.
func NewPanicError(r any) *PanicError {
	return &PanicError{
		message:    fmt.Sprintf("panic: %v", r),
		stacktrace: stack(1),
	}
}
