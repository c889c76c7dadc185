// Package worker implements the asyncq execution runtime.
// A Worker continuously dequeues tasks, runs the handler registered for the
// task's name, and records the outcome in the result store so that handles
// held by producers observe SUCCESS, FAILURE or REVOKED.
//
// Features:
//   - Concurrent task processing with graceful shutdown via context
//   - Automatic retry with exponential backoff, dead letter queue on exhaustion
//   - Revocation and expiry checks before a task is started
//   - Prometheus metrics for throughput, latency and queue depth
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guido-cesarano/asyncq/pkg/logger"
	"github.com/guido-cesarano/asyncq/pkg/queue"
	"github.com/guido-cesarano/asyncq/pkg/tasks"
)

// DefaultMaxRetries is how many failed attempts a task gets before it is
// recorded as FAILURE and moved to the dead letter queue.
const DefaultMaxRetries = 3

// Prometheus metrics for monitoring task processing.
var (
	// tasksProcessed tracks the total number of processed tasks by outcome and name.
	// Labels:
	//   - status: "success", "retry", "failed", "revoked" or "expired"
	//   - name: task name (e.g., "email.send")
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asyncq_processed_total",
		Help: "The total number of processed tasks",
	}, []string{"status", "name"})

	// taskDuration tracks handler execution latency in seconds.
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asyncq_task_duration_seconds",
		Help:    "Duration of task handler execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})

	// queueDepth tracks the number of tasks in each queue.
	// Updated periodically by CollectQueueMetrics.
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "asyncq_queue_depth",
		Help: "Number of tasks in each queue",
	}, []string{"queue"})

	// queueLatency tracks the time a task spends queued before being started.
	queueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asyncq_queue_latency_seconds",
		Help:    "Time spent in queue before processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})
)

// HandlerFunc executes one task and returns its result value. The returned
// value is stored (JSON-encoded) under the task's record on success; a
// returned error is recorded as the failure cause once retries are exhausted.
type HandlerFunc func(ctx context.Context, task *tasks.Task) (interface{}, error)

// rateLimit is a per-name token bucket configuration.
type rateLimit struct {
	limit int
	burst int
}

// Worker dequeues and executes tasks. Register handlers before calling Run;
// the registry is also pushed into the queue client so the same client can
// validate dispatches.
type Worker struct {
	client     *queue.Client
	maxRetries int

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	limits   map[string]rateLimit
}

// New creates a Worker bound to the given queue client.
func New(client *queue.Client) *Worker {
	return &Worker{
		client:     client,
		maxRetries: DefaultMaxRetries,
		handlers:   make(map[string]HandlerFunc),
		limits:     make(map[string]rateLimit),
	}
}

// WithMaxRetries overrides the retry budget per task.
func (w *Worker) WithMaxRetries(n int) *Worker {
	if n >= 0 {
		w.maxRetries = n
	}
	return w
}

// Register binds a handler to a task name and marks the name as known for
// dispatch validation.
func (w *Worker) Register(name string, fn HandlerFunc) {
	w.mu.Lock()
	w.handlers[name] = fn
	w.mu.Unlock()
	w.client.Register(name)
}

// RateLimit caps execution of one task name at limit tasks/sec with the given
// burst capacity. Declined tasks are requeued without consuming a retry.
func (w *Worker) RateLimit(name string, limit, burst int) {
	w.mu.Lock()
	w.limits[name] = rateLimit{limit: limit, burst: burst}
	w.mu.Unlock()
}

func (w *Worker) handler(name string) (HandlerFunc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn, ok := w.handlers[name]
	return fn, ok
}

func (w *Worker) limit(name string) (rateLimit, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rl, ok := w.limits[name]
	return rl, ok
}

// Run executes the worker loop until ctx is cancelled. It also starts the
// delayed-queue scheduler so retries and delayed dispatches become eligible.
//
// Task Processing Flow:
//  1. Dequeue atomically into the processing queue
//  2. Drop revoked or expired tasks (recorded as REVOKED, never executed)
//  3. Mark STARTED; a refused write means the task finished or was revoked
//     while queued, so it is acked and dropped
//  4. Execute the handler
//  5. On success: record SUCCESS with the result value
//  6. On failure: retry with exponential backoff while attempts remain,
//     otherwise record FAILURE and move to the dead letter queue
func (w *Worker) Run(ctx context.Context) {
	go w.client.StartScheduler(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			task, raw, err := w.client.Dequeue(ctx)
			if err != nil {
				// Empty queues and transient connection errors both land
				// here; keep polling.
				continue
			}
			w.process(ctx, task, raw)
		}
	}
}

func (w *Worker) process(ctx context.Context, task *tasks.Task, raw string) {
	if revoked, err := w.client.IsRevoked(ctx, task.ID); err == nil && revoked {
		logger.Log.Info().Str("task_id", task.ID).Msg("Dropping revoked task")
		w.client.Discard(ctx, task, raw, "revoked")
		tasksProcessed.WithLabelValues("revoked", task.Name).Inc()
		return
	}

	if task.Expired(time.Now()) {
		logger.Log.Info().Str("task_id", task.ID).Time("expired_at", task.ExpiresAt).Msg("Dropping expired task")
		w.client.Discard(ctx, task, raw, "expired")
		tasksProcessed.WithLabelValues("expired", task.Name).Inc()
		return
	}

	if rl, ok := w.limit(task.Name); ok {
		allowed, err := w.client.Allow(ctx, "ratelimit:"+task.Name, rl.limit, rl.burst)
		if err != nil {
			logger.Log.Error().Err(err).Msg("Rate limit check failed")
			// Fail open: better to process than to strand the task.
		} else if !allowed {
			logger.Log.Warn().Str("name", task.Name).Msg("Rate limit exceeded, re-queueing")
			w.client.Requeue(ctx, task, raw, time.Second)
			return
		}
	}

	started, err := w.client.MarkStarted(ctx, task)
	if err != nil {
		logger.Log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to mark task started")
		return
	}
	if !started {
		// Terminal record already exists (revoked while queued); nothing to run.
		w.client.Ack(ctx, raw)
		tasksProcessed.WithLabelValues("revoked", task.Name).Inc()
		return
	}

	start := time.Now()
	queueLatency.WithLabelValues(task.Name).Observe(start.Sub(task.CreatedAt).Seconds())

	fn, ok := w.handler(task.Name)
	if !ok {
		// Dispatch validation should prevent this; a mismatch between the
		// producer's registry and this worker's handlers still ends here.
		err = fmt.Errorf("no handler registered for %q", task.Name)
	} else {
		logger.Log.Info().
			Str("task_id", task.ID).
			Str("name", task.Name).
			Int("retry_count", task.RetryCount).
			Msg("Processing task")

		var result interface{}
		result, err = fn(ctx, task)
		taskDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())

		if err == nil {
			if cerr := w.client.Complete(ctx, task, raw, result); cerr != nil {
				logger.Log.Error().Err(cerr).Str("task_id", task.ID).Msg("Failed to record result")
				return
			}
			tasksProcessed.WithLabelValues("success", task.Name).Inc()
			return
		}
	}

	logger.Log.Error().Err(err).Str("task_id", task.ID).Msg("Task failed")
	if task.RetryCount < w.maxRetries {
		w.client.Retry(ctx, task, raw, err)
		tasksProcessed.WithLabelValues("retry", task.Name).Inc()
	} else {
		w.client.Fail(ctx, task, raw, err)
		tasksProcessed.WithLabelValues("failed", task.Name).Inc()
	}
}

// CollectQueueMetrics periodically queries Redis for queue depths and updates
// the queueDepth gauges. Run it in its own goroutine.
func (w *Worker) CollectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for q, depth := range w.client.GetQueueDepths(ctx) {
				queueDepth.WithLabelValues(q).Set(float64(depth))
			}
		}
	}
}
