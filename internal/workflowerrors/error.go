// Package workflowerrors normalizes the errors of failed task attempts into the fields
// recorded in a task's checkpoint.
package workflowerrors

import "errors"

// Error is a normalized task failure.
type Error struct {
	// Type is the Go type name of the failure, empty for plain and wrapped errors.
	Type    string
	Message string

	// Permanent failures are not retried.
	Permanent bool

	// Stacktrace is set for panics.
	Stacktrace string

	Cause error
}

func (we *Error) Error() string {
	return we.Message
}

func (we *Error) Unwrap() error {
	if we == nil || we.Cause == nil {
		return nil
	}

	return we.Cause
}

var _ error = (*Error)(nil)

// FromError normalizes err. The permanent flag and the stack of any error in the chain
// are carried to the result.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*Error); ok {
		return e
	}

	e := &Error{
		Type:    getErrorType(err),
		Message: err.Error(),
	}

	if st, ok := err.(interface{ Stack() string }); ok {
		e.Stacktrace = st.Stack()
	}

	if cause := errors.Unwrap(err); cause != nil {
		c := FromError(cause)
		e.Cause = c
		e.Permanent = c.Permanent

		if e.Stacktrace == "" {
			e.Stacktrace = c.Stacktrace
		}
	}

	return e
}

// NewPermanentError marks err as not retryable.
func NewPermanentError(err error) *Error {
	e := *FromError(err)
	e.Permanent = true
	return &e
}

// CanRetry reports whether err may be retried. Errors are retryable unless marked
// permanent.
func CanRetry(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return !e.Permanent
	}

	return true
}
