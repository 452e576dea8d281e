package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is the kind shared by every "does not exist" failure: flows,
// versions, runs, connectors and modification targets.
var ErrNotFound = errors.New("not found")

// ValidationError lists every structural problem found in a proposed flow
// or modification.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// UnsupportedActionError is returned when a connector does not declare the
// requested action.
type UnsupportedActionError struct {
	Connector string
	Action    string
	Supported []string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("action %q not supported by connector %q (supported: %s)",
		e.Action, e.Connector, strings.Join(e.Supported, ", "))
}

// UnknownOperationError is returned for a modification action other than
// insert_step, update_step or delete_step.
type UnknownOperationError struct {
	Operation string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown modification action %q", e.Operation)
}

// StepNotFoundError is returned when a modification names a step that is
// not in the current version.
type StepNotFoundError struct {
	StepID string
}

func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("step %q not found", e.StepID)
}

func (e *StepNotFoundError) Unwrap() error { return ErrNotFound }

// StepExecutionError is returned from execution when a step fails under the
// stop policy or its connector fails unexpectedly. The run is already marked
// failed when this error is returned.
type StepExecutionError struct {
	RunID   int64
	StepID  string
	Message string
	Err     error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("run %d: step %q failed: %s", e.RunID, e.StepID, e.Message)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }
