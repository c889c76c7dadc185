package tasks

// State is the client-observable lifecycle state of a task.
//
// The lifecycle is monotonic along the partial order
// PENDING/RETRY < STARTED < {SUCCESS, FAILURE, REVOKED}: once a poller has
// observed a terminal state for an ID, no later observation of that ID is
// non-terminal. The handle never writes states; transitions are owned by the
// worker and the queue client.
type State string

const (
	// StatePending means the task was dispatched but not yet claimed by a worker.
	StatePending State = "PENDING"
	// StateStarted means a worker claimed the task and is executing it.
	StateStarted State = "STARTED"
	// StateRetry means the last attempt failed and the task is waiting to be re-claimed.
	StateRetry State = "RETRY"
	// StateSuccess is terminal: the task completed and a result is stored.
	StateSuccess State = "SUCCESS"
	// StateFailure is terminal: the task exhausted its attempts and the cause is stored.
	StateFailure State = "FAILURE"
	// StateRevoked is terminal: the task was cancelled before or during execution,
	// or expired before it could start.
	StateRevoked State = "REVOKED"
)

// Terminal reports whether no further transition can occur from s.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	}
	return false
}

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateStarted, StateRetry, StateSuccess, StateFailure, StateRevoked:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next respects the lifecycle.
// Terminal states admit no transition. PENDING is only ever an initial state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	switch s {
	case StatePending:
		return next == StateStarted || next == StateRevoked
	case StateStarted:
		return next == StateSuccess || next == StateFailure || next == StateRetry || next == StateRevoked
	case StateRetry:
		return next == StateStarted || next == StateRevoked
	}
	return false
}
