package integration_tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guido-cesarano/asyncq/pkg/queue"
	"github.com/guido-cesarano/asyncq/pkg/tasks"
	"github.com/guido-cesarano/asyncq/pkg/worker"
)

// setupIntegrationRedis connects to the local Redis instance.
// Requires docker-compose up -d (or cmd/redis_server) to be running.
func setupIntegrationRedis(t *testing.T) *queue.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not reachable at localhost:6379 (%v)", err)
	}

	// Clear state for a clean run
	rdb.FlushDB(context.Background())

	return queue.NewClient("localhost:6379")
}

func TestIntegrationDispatchAndAwait(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := worker.New(client)
	w.Register("add", func(ctx context.Context, task *tasks.Task) (interface{}, error) {
		var sum float64
		for _, arg := range task.Args {
			sum += arg.(float64)
		}
		return sum, nil
	})
	go w.Run(ctx)

	handle, err := client.Dispatch(ctx, tasks.Signature{Name: "add", Args: []interface{}{10, 20}})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// Fresh dispatch is not ready yet.
	if ready, _ := handle.Ready(ctx); ready {
		t.Error("Expected handle not ready immediately after dispatch")
	}

	value, err := handle.Get(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n, ok := value.(float64); !ok || n != 30 {
		t.Errorf("Expected 30, got %v", value)
	}

	// Processing queue drained once the task completed.
	depths := client.GetQueueDepths(ctx)
	if depths["processing_queue"] != 0 {
		t.Errorf("Expected processing_queue empty, got %d", depths["processing_queue"])
	}
}

func TestIntegrationRevoke(t *testing.T) {
	client := setupIntegrationRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := worker.New(client)
	w.Register("noop", func(ctx context.Context, task *tasks.Task) (interface{}, error) {
		return "ran", nil
	})

	// Dispatch delayed so revocation lands while the task is still PENDING.
	handle, err := client.Dispatch(ctx, tasks.Signature{Name: "noop", Delay: 2 * time.Second})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if err := handle.Revoke(ctx); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	go w.Run(ctx)

	_, err = handle.Get(ctx, 10*time.Second)
	if !errors.Is(err, queue.ErrRevoked) {
		t.Fatalf("Expected ErrRevoked, got %v", err)
	}
	if ok, _ := handle.Successful(ctx); ok {
		t.Error("Revoked task must never report success")
	}
}
