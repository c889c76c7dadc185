package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/guido-cesarano/asyncq/pkg/tasks"
)

// pollInterval is how often Get re-reads the result store while waiting.
const pollInterval = 50 * time.Millisecond

// Handle is a read-only, polling-based view of one dispatched task. It is
// returned by Dispatch and can be re-attached to any known ID with
// Client.Handle. Handles never execute work and never own state transitions;
// they read the result store and, for Revoke, send a cancellation request.
//
// A Handle is safe for concurrent use. It caches the last observed state as
// an advisory shortcut for terminal states; the result store stays
// authoritative for everything else.
type Handle struct {
	id string
	c  *Client

	mu   sync.Mutex
	last tasks.State
}

// Handle attaches to an existing task ID. No validation is performed; if the
// ID was never dispatched or has been pruned, reads return ErrUnknownTask.
func (c *Client) Handle(id string) *Handle {
	return &Handle{id: id, c: c}
}

// ID returns the task identifier. Immutable for the life of the task.
func (h *Handle) ID() string {
	return h.id
}

// State returns the last known lifecycle state. It is non-blocking and never
// fails because the underlying work failed; FAILURE is a state, not an error
// of this call. Errors are reserved for an unreachable store (transport) and
// for unknown/pruned IDs (ErrUnknownTask).
func (h *Handle) State(ctx context.Context) (tasks.State, error) {
	h.mu.Lock()
	if h.last.Terminal() {
		defer h.mu.Unlock()
		return h.last, nil
	}
	h.mu.Unlock()

	meta, err := h.c.Inspect(ctx, h.id)
	if err != nil {
		return "", err
	}
	h.cache(meta.State)
	return meta.State, nil
}

// cache records an observed state. A terminal observation sticks; anything
// else only replaces a non-terminal one, so the cache can never appear to
// move backwards even if reads race.
func (h *Handle) cache(s tasks.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.last.Terminal() {
		h.last = s
	}
}

// Ready reports whether the task reached a terminal state
// (SUCCESS, FAILURE or REVOKED).
func (h *Handle) Ready(ctx context.Context) (bool, error) {
	s, err := h.State(ctx)
	if err != nil {
		return false, err
	}
	return s.Terminal(), nil
}

// Successful reports whether the task reached SUCCESS.
func (h *Handle) Successful(ctx context.Context) (bool, error) {
	s, err := h.State(ctx)
	if err != nil {
		return false, err
	}
	return s == tasks.StateSuccess, nil
}

// Failed reports whether the task reached FAILURE.
func (h *Handle) Failed(ctx context.Context) (bool, error) {
	s, err := h.State(ctx)
	if err != nil {
		return false, err
	}
	return s == tasks.StateFailure, nil
}

// Get blocks until the task reaches a terminal state, the timeout elapses, or
// ctx is cancelled, whichever comes first. A timeout <= 0 means no deadline.
//
// Outcomes are kept distinct:
//   - SUCCESS returns the stored result value (decoded from JSON)
//   - FAILURE returns the stored cause as a *TaskError
//   - REVOKED returns ErrRevoked
//   - an elapsed timeout returns ErrTimeout; the task may still complete later
//   - cancelling ctx abandons the wait (ctx.Err()) without touching the task
//
// No locks are held while waiting, and concurrent Gets on the same Handle are
// fine.
func (h *Handle) Get(ctx context.Context, timeout time.Duration) (interface{}, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		meta, err := h.c.Inspect(ctx, h.id)
		if err != nil {
			return nil, err
		}
		h.cache(meta.State)

		switch meta.State {
		case tasks.StateSuccess:
			var value interface{}
			if meta.Result != "" {
				if err := json.Unmarshal([]byte(meta.Result), &value); err != nil {
					return nil, err
				}
			}
			return value, nil
		case tasks.StateFailure:
			return nil, &TaskError{TaskID: h.id, Message: meta.Error}
		case tasks.StateRevoked:
			return nil, ErrRevoked
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

// Revoke asks the execution layer to cancel the underlying task. This is
// independent of any in-flight Get: abandoning a wait is done by cancelling
// its context, not by revoking the task.
func (h *Handle) Revoke(ctx context.Context) error {
	return h.c.Revoke(ctx, h.id)
}
