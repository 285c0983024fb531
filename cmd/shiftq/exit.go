package main

import (
	"errors"
	"fmt"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran but did not succeed (clear failed, shift conflict)
	ExitCommandError = 2 // bad flags, unreadable config, store could not be opened
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func newExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func wrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// exitCode returns the exit code for err. Errors that are not an ExitError
// exit with ExitFailure.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
