package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/guido-cesarano/asyncq/pkg/queue"
	"github.com/guido-cesarano/asyncq/pkg/tasks"
)

func setupWorker(t *testing.T) (*queue.Client, *Worker) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := queue.NewClient(s.Addr())
	return client, New(client)
}

func TestWorkerExecutesTask(t *testing.T) {
	client, w := setupWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Register("add", func(ctx context.Context, task *tasks.Task) (interface{}, error) {
		var sum float64
		for _, arg := range task.Args {
			n, ok := arg.(float64)
			if !ok {
				return nil, fmt.Errorf("not a number: %v", arg)
			}
			sum += n
		}
		return sum, nil
	})
	go w.Run(ctx)

	handle, err := client.Dispatch(ctx, tasks.Signature{Name: "add", Args: []interface{}{10, 20}})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	value, err := handle.Get(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n, ok := value.(float64); !ok || n != 30 {
		t.Errorf("Expected 30, got %v", value)
	}

	ready, err := handle.Ready(ctx)
	if err != nil || !ready {
		t.Errorf("Expected handle ready after completion (%v)", err)
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	client, w := setupWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan struct{}, 8)
	w.WithMaxRetries(1)
	w.Register("flaky", func(ctx context.Context, task *tasks.Task) (interface{}, error) {
		attempts <- struct{}{}
		return nil, errors.New("connection refused")
	})
	go w.Run(ctx)

	handle, err := client.Dispatch(ctx, tasks.Signature{Name: "flaky"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	_, err = handle.Get(ctx, 10*time.Second)
	var taskErr *queue.TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("Expected *TaskError, got %v", err)
	}
	if taskErr.Message != "connection refused" {
		t.Errorf("Expected original cause, got %q", taskErr.Message)
	}

	// One initial attempt plus one retry.
	if got := len(attempts); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}

	failed, err := handle.Failed(ctx)
	if err != nil || !failed {
		t.Errorf("Expected Failed true (%v)", err)
	}
}

func TestWorkerSkipsRevokedTask(t *testing.T) {
	client, w := setupWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executed := make(chan struct{}, 1)
	w.Register("noop", func(ctx context.Context, task *tasks.Task) (interface{}, error) {
		executed <- struct{}{}
		return "ran", nil
	})

	// Revoke while PENDING, before any worker is running.
	handle, err := client.Dispatch(ctx, tasks.Signature{Name: "noop"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if err := handle.Revoke(ctx); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	go w.Run(ctx)

	_, err = handle.Get(ctx, 5*time.Second)
	if !errors.Is(err, queue.ErrRevoked) {
		t.Fatalf("Expected ErrRevoked, got %v", err)
	}

	select {
	case <-executed:
		t.Error("Revoked task must not execute")
	case <-time.After(2 * time.Second):
	}
}

func TestWorkerDropsExpiredTask(t *testing.T) {
	client, w := setupWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executed := make(chan struct{}, 1)
	w.Register("noop", func(ctx context.Context, task *tasks.Task) (interface{}, error) {
		executed <- struct{}{}
		return "ran", nil
	})

	handle, err := client.Dispatch(ctx, tasks.Signature{Name: "noop", ExpiresIn: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// Let the deadline pass before the worker sees the task.
	time.Sleep(100 * time.Millisecond)
	go w.Run(ctx)

	_, err = handle.Get(ctx, 5*time.Second)
	if !errors.Is(err, queue.ErrRevoked) {
		t.Fatalf("Expected ErrRevoked for expired task, got %v", err)
	}

	select {
	case <-executed:
		t.Error("Expired task must not execute")
	case <-time.After(2 * time.Second):
	}
}

func TestWorkerUnknownHandlerFails(t *testing.T) {
	client, w := setupWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The producer-side registry knows the name but this worker has no
	// handler bound; the mismatch must surface as FAILURE, not a hang.
	client.Register("orphan")
	w.WithMaxRetries(0)
	go w.Run(ctx)

	handle, err := client.Dispatch(ctx, tasks.Signature{Name: "orphan"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	_, err = handle.Get(ctx, 5*time.Second)
	var taskErr *queue.TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("Expected *TaskError, got %v", err)
	}
}
