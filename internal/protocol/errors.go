package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks a generation request missing its template, project or objects.
var ErrInvalidRequest = errors.New("invalid request")

// ErrBusy is returned when a preview or generation is already in flight.
var ErrBusy = errors.New("operation already in progress")

// ValidationError reports an invalid template draft.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RemoteFailure wraps a transport or server error of a remote operation.
type RemoteFailure struct {
	Op  string
	Err error
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RemoteFailure) Unwrap() error { return e.Err }

func invalidRequest(what string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidRequest, what)
}

func remote(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteFailure{Op: op, Err: err}
}
