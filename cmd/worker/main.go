// Package main implements the asyncq worker process.
// The worker continuously dequeues tasks from Redis, runs the registered
// handler, and records outcomes so producer handles resolve.
//
// Features:
//   - Concurrent task processing with graceful shutdown
//   - Prometheus metrics exposed on /metrics
//   - Automatic retry with exponential backoff, dead letter queue
//   - Background scheduler for delayed and retried tasks
//
// Usage:
//
//	go run cmd/worker/main.go
//
// Redis address, queues and metrics address come from asyncq.yaml or
// ASYNCQ_-prefixed environment variables.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guido-cesarano/asyncq/pkg/config"
	"github.com/guido-cesarano/asyncq/pkg/logger"
	"github.com/guido-cesarano/asyncq/pkg/queue"
	"github.com/guido-cesarano/asyncq/pkg/tasks"
	"github.com/guido-cesarano/asyncq/pkg/worker"
)

// main initializes the worker, starts the metrics server, and begins
// processing tasks. It supports graceful shutdown via SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	client := queue.NewClient(cfg.Redis.Addr).
		WithQueues(cfg.Worker.Queues...).
		WithResultTTL(cfg.Worker.ResultTTL)

	ctx, cancel := context.WithCancel(context.Background())

	// Prometheus metrics server
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.Log.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("Metrics server listening")
		http.ListenAndServe(cfg.Worker.MetricsAddr, nil)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Log.Info().Msg("Shutting down worker...")
		cancel()
	}()

	w := worker.New(client).WithMaxRetries(cfg.Worker.MaxRetries)
	registerHandlers(w)

	go w.CollectQueueMetrics(ctx)

	logger.Log.Info().Strs("queues", cfg.Worker.Queues).Msg("Worker started. Waiting for tasks...")
	w.Run(ctx)
}

// registerHandlers binds the built-in demo handlers. Real deployments replace
// these with their own.
func registerHandlers(w *worker.Worker) {
	w.Register("add", processAdd)
	w.Register("email.send", processEmail)
	w.Register("image.resize", processImageResize)
	w.Register("sleep", processSleep)

	// Keep outbound email under control.
	w.RateLimit("email.send", 10, 20)
}

// processAdd sums its numeric positional inputs.
func processAdd(ctx context.Context, task *tasks.Task) (interface{}, error) {
	var sum float64
	for i, arg := range task.Args {
		n, ok := arg.(float64)
		if !ok {
			return nil, fmt.Errorf("add: argument %d is not a number: %v", i, arg)
		}
		sum += n
	}
	return sum, nil
}

// processEmail handles email tasks.
func processEmail(ctx context.Context, task *tasks.Task) (interface{}, error) {
	logger.Log.Info().Str("task_id", task.ID).Msg("Sending email...")
	time.Sleep(200 * time.Millisecond) // Simulate talking to the mail service
	return map[string]string{"status": "sent", "timestamp": time.Now().Format(time.RFC3339)}, nil
}

// processImageResize handles image resizing tasks.
func processImageResize(ctx context.Context, task *tasks.Task) (interface{}, error) {
	logger.Log.Info().Str("task_id", task.ID).Msg("Resizing image...")
	time.Sleep(500 * time.Millisecond) // Simulate CPU work
	return map[string]string{"status": "resized"}, nil
}

// processSleep blocks for kwargs["seconds"] seconds; useful for exercising
// timeouts and revocation.
func processSleep(ctx context.Context, task *tasks.Task) (interface{}, error) {
	seconds, _ := task.Kwargs["seconds"].(float64)
	if seconds <= 0 {
		seconds = 5
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(seconds * float64(time.Second))):
	}
	return map[string]string{"status": "slept"}, nil
}
