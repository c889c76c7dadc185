// Package tasks defines the core data structures for task representation in asyncq.
// A task is a named unit of work dispatched by a producer, executed out-of-band by
// a worker, and observed through a result handle.
package tasks

import (
	"time"
)

// DefaultQueue is the routing key used when a Signature does not name one.
const DefaultQueue = "default"

// Task represents one dispatched unit of work.
//
// The ID is assigned at dispatch time and is immutable; it is the key under
// which workers record state and results. Name routes the task to a registered
// handler. Args and Kwargs carry the positional and named inputs exactly as
// the producer supplied them.
type Task struct {
	// ID is the unique identifier for this dispatch (UUID). Never reused.
	ID string `json:"id"`

	// Name references work registered with the execution layer
	// (e.g. "email.send", "image.resize").
	Name string `json:"name"`

	// Args holds the positional inputs.
	Args []interface{} `json:"args,omitempty"`

	// Kwargs holds the named inputs.
	Kwargs map[string]interface{} `json:"kwargs,omitempty"`

	// Queue is the routing key the task was dispatched to.
	Queue string `json:"queue"`

	// CreatedAt is the timestamp the task was dispatched.
	CreatedAt time.Time `json:"created_at"`

	// NotBefore, when non-zero, delays eligibility: a worker must not start
	// the task before this instant.
	NotBefore time.Time `json:"not_before,omitempty"`

	// ExpiresAt, when non-zero, is the instant after which the task must not
	// start. Expired tasks are revoked, not executed.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// RetryCount tracks how many times this task has been retried after
	// failures. Incremented by the queue client, never by handlers.
	RetryCount int `json:"retry_count"`
}

// Expired reports whether the task's start deadline has passed at now.
func (t *Task) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Signature is the immutable dispatch request: what to run, with which inputs,
// and under which options. Producers build a Signature and hand it to
// Client.Dispatch; it is never mutated after submission.
type Signature struct {
	// Name must reference work registered with the execution layer.
	Name string

	// Args are the positional inputs.
	Args []interface{}

	// Kwargs are the named inputs.
	Kwargs map[string]interface{}

	// Queue is the target routing key. Empty means DefaultQueue.
	Queue string

	// Delay postpones eligibility: the task may not start before now+Delay.
	Delay time.Duration

	// ExpiresIn, when positive, sets a start deadline of now+ExpiresIn.
	ExpiresIn time.Duration
}
