package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by Handle.Get when the wait elapses before the
	// task reaches a terminal state. It says nothing about the task itself,
	// which may still complete later.
	ErrTimeout = errors.New("timed out waiting for task result")

	// ErrUnknownTask is returned when the result store has no record for an
	// ID, either because it was never dispatched or because the record's TTL
	// expired and it was pruned. Distinct from PENDING and from failure.
	ErrUnknownTask = errors.New("unknown or expired task id")

	// ErrRevoked is returned by Handle.Get when the task was cancelled or
	// expired before completing.
	ErrRevoked = errors.New("task was revoked")
)

// TaskError carries the failure cause recorded by the worker that executed
// the task. Handle.Get returns it when the task reached FAILURE, so the
// caller sees the original cause rather than a generic error.
type TaskError struct {
	TaskID  string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}
