package api

import (
	"errors"
	"fmt"
)

// ErrRemote matches every *Error with errors.Is.
var ErrRemote = errors.New("nexus api call failed")

// Error is the single failure kind returned by Client. Transport failures
// carry StatusCode 0; remote rejections carry the status and, when the body
// was JSON, its decoded Payload.
type Error struct {
	Operation  string
	Method     string
	Path       string
	StatusCode int
	Payload    any
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("nexus %s (%s %s): status %d: %v", e.Operation, e.Method, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("nexus %s (%s %s): %v", e.Operation, e.Method, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRemote) true for any *Error.
func (e *Error) Is(target error) bool {
	return target == ErrRemote
}
