package condition

import "fmt"

type ErrorKind string

const (
	// ErrorKindMalformed is a structurally invalid condition.
	ErrorKindMalformed ErrorKind = "malformed"

	// ErrorKindSpawn is a command that could not be started.
	ErrorKindSpawn ErrorKind = "spawn"

	// ErrorKindTimeout is a command_succeeds command that did not finish in time.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindIO is a filesystem error other than "does not exist".
	ErrorKindIO ErrorKind = "io"
)

// EvaluationError is returned when a condition cannot be evaluated. It is distinct from a
// condition evaluating to false.
type EvaluationError struct {
	Kind      ErrorKind
	Condition string
	Err       error
}

func (e *EvaluationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("evaluating %s: %s", e.Condition, e.Kind)
	}

	return fmt.Sprintf("evaluating %s: %s: %v", e.Condition, e.Kind, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func malformed(c *Condition, format string, args ...any) error {
	return &EvaluationError{
		Kind:      ErrorKindMalformed,
		Condition: c.String(),
		Err:       fmt.Errorf(format, args...),
	}
}
