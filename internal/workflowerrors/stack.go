package workflowerrors

import goerrors "github.com/go-errors/errors"

// stack returns the formatted stack of the caller, skipping skip additional frames.
func stack(skip int) string {
	goerr := goerrors.Wrap("", skip+1)
	return string(goerr.Stack())
}
