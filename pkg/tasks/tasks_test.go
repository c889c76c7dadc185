package tasks

import (
	"errors"
	"testing"
	"time"
)

func TestStateTerminal(t *testing.T) {
	terminal := []State{StateSuccess, StateFailure, StateRevoked}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}

	nonTerminal := []State{StatePending, StateStarted, StateRetry}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StatePending, StateStarted},
		{StatePending, StateRevoked},
		{StateStarted, StateSuccess},
		{StateStarted, StateFailure},
		{StateStarted, StateRetry},
		{StateStarted, StateRevoked},
		{StateRetry, StateStarted},
		{StateRetry, StateRevoked},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransition(tr.to) {
			t.Errorf("Expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	// Terminal states admit nothing.
	for _, from := range []State{StateSuccess, StateFailure, StateRevoked} {
		for _, to := range []State{StatePending, StateStarted, StateRetry, StateSuccess, StateFailure, StateRevoked} {
			if from.CanTransition(to) {
				t.Errorf("Expected terminal %s -> %s to be refused", from, to)
			}
		}
	}

	// PENDING is initial only.
	if StateStarted.CanTransition(StatePending) {
		t.Error("Expected STARTED -> PENDING to be refused")
	}
	if StateRetry.CanTransition(StatePending) {
		t.Error("Expected RETRY -> PENDING to be refused")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()

	task := Task{}
	if task.Expired(now) {
		t.Error("Task without deadline should never expire")
	}

	task.ExpiresAt = now.Add(-time.Second)
	if !task.Expired(now) {
		t.Error("Expected task past its deadline to be expired")
	}

	task.ExpiresAt = now.Add(time.Second)
	if task.Expired(now) {
		t.Error("Expected task before its deadline to not be expired")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Check("email.send"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Expected ErrNotRegistered, got %v", err)
	}

	r.Add("email.send", "image.resize")
	if err := r.Check("email.send"); err != nil {
		t.Errorf("Expected registered name to pass, got %v", err)
	}
	if len(r.Names()) != 2 {
		t.Errorf("Expected 2 registered names, got %d", len(r.Names()))
	}
}
