// Package queue provides a Redis-backed task dispatch client with result handles.
// It supports reliable task processing with features including:
//   - Atomic task dequeuing with BLMove
//   - A per-task state record enforcing monotonic lifecycle transitions
//   - Exponential backoff retry with a delayed queue driven by Lua scripts
//   - Task revocation and start deadlines (expiry)
//
// The Client type is the producer/worker entry point; Handle is the
// client-observable view of one dispatched task.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/guido-cesarano/asyncq/pkg/logger"
	"github.com/guido-cesarano/asyncq/pkg/tasks"
)

// DefaultResultTTL is how long a task's state record is retained after its
// last write. Pruned records answer ErrUnknownTask, never PENDING.
const DefaultResultTTL = 24 * time.Hour

// Key layout:
//   - queue:{name}: list of ready tasks for one routing key
//   - delayed:{name}: sorted set of not-yet-eligible tasks, score = eligible-at (ns)
//   - processing_queue: tasks currently claimed by a worker
//   - task:{id}: hash holding state, result, error, retries
//   - revoked_tasks: set of revoked IDs workers must not start
type Client struct {
	rdb       *redis.Client
	cron      *cron.Cron
	registry  *tasks.Registry
	queues    []string
	resultTTL time.Duration
}

// setStateScript is the single writer path for task:{id} records. It refuses
// any write once the record is terminal, and refuses PENDING except as the
// initial write, so concurrent pollers can never observe a terminal state
// followed by a non-terminal one.
var setStateScript = redis.NewScript(`
	local key = KEYS[1]
	local new = ARGV[1]
	local payload = ARGV[2]
	local cause = ARGV[3]
	local retries = ARGV[4]
	local ttl = tonumber(ARGV[5])

	local cur = redis.call('HGET', key, 'state')
	if cur == 'SUCCESS' or cur == 'FAILURE' or cur == 'REVOKED' then
		return 0
	end
	if new == 'PENDING' and cur then
		return 0
	end

	redis.call('HSET', key, 'state', new, 'retries', retries)
	if payload ~= '' then
		redis.call('HSET', key, 'result', payload)
	end
	if cause ~= '' then
		redis.call('HSET', key, 'error', cause)
	end
	if ttl > 0 then
		redis.call('EXPIRE', key, ttl)
	end
	return 1
`)

// NewClient creates a queue client connected to the specified Redis address.
// The address should be in the format "host:port" (e.g., "localhost:6379").
// By default the client serves the "default" queue and retains task records
// for DefaultResultTTL.
//
// Example:
//
//	client := queue.NewClient("localhost:6379")
func NewClient(addr string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &Client{
		rdb:       rdb,
		cron:      cron.New(cron.WithSeconds()),
		registry:  tasks.NewRegistry(),
		queues:    []string{tasks.DefaultQueue},
		resultTTL: DefaultResultTTL,
	}
}

// WithQueues sets the routing keys this client consumes from, in priority
// order. Dequeue checks them left to right.
func (c *Client) WithQueues(queues ...string) *Client {
	if len(queues) > 0 {
		c.queues = queues
	}
	return c
}

// WithResultTTL sets the retention for task state records.
func (c *Client) WithResultTTL(ttl time.Duration) *Client {
	c.resultTTL = ttl
	return c
}

// Register adds task names to the client's registry. Dispatch rejects any
// Signature whose Name has not been registered.
func (c *Client) Register(names ...string) {
	c.registry.Add(names...)
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func taskKey(id string) string { return "task:" + id }

func queueKey(name string) string { return "queue:" + name }

func delayedKey(name string) string { return "delayed:" + name }

// setState writes one lifecycle transition for id. result and cause may be
// empty. Returns false if the store refused the write because the record is
// already terminal.
func (c *Client) setState(ctx context.Context, id string, state tasks.State, result, cause string, retries int) (bool, error) {
	n, err := setStateScript.Run(ctx, c.rdb,
		[]string{taskKey(id)},
		string(state), result, cause, retries, int(c.resultTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("set state %s for %s: %w", state, id, err)
	}
	return n == 1, nil
}

// Dispatch validates the Signature, assigns a fresh ID, records the initial
// PENDING state, and hands the task to the broker. It returns immediately
// with a Handle; it never waits for execution and makes no delivery promise
// beyond the broker's acknowledgement of the push.
//
// Dispatch-time errors (unregistered name, malformed options) are returned
// synchronously. Execution-time failures are only visible through the Handle.
func (c *Client) Dispatch(ctx context.Context, sig tasks.Signature) (*Handle, error) {
	if err := c.registry.Check(sig.Name); err != nil {
		return nil, err
	}
	if sig.Delay < 0 {
		return nil, fmt.Errorf("dispatch %q: negative delay %v", sig.Name, sig.Delay)
	}
	if sig.ExpiresIn < 0 {
		return nil, fmt.Errorf("dispatch %q: negative expiry %v", sig.Name, sig.ExpiresIn)
	}

	now := time.Now()
	task := tasks.Task{
		ID:        uuid.New().String(),
		Name:      sig.Name,
		Args:      sig.Args,
		Kwargs:    sig.Kwargs,
		Queue:     sig.Queue,
		CreatedAt: now,
	}
	if task.Queue == "" {
		task.Queue = tasks.DefaultQueue
	}
	if sig.Delay > 0 {
		task.NotBefore = now.Add(sig.Delay)
	}
	if sig.ExpiresIn > 0 {
		task.ExpiresAt = now.Add(sig.ExpiresIn)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	if _, err := c.setState(ctx, task.ID, tasks.StatePending, "", "", 0); err != nil {
		return nil, err
	}

	if sig.Delay > 0 {
		err = c.rdb.ZAdd(ctx, delayedKey(task.Queue), redis.Z{
			Score:  float64(task.NotBefore.UnixNano()),
			Member: data,
		}).Err()
	} else {
		err = c.rdb.RPush(ctx, queueKey(task.Queue), data).Err()
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", sig.Name, err)
	}

	return c.Handle(task.ID), nil
}

// Dequeue atomically retrieves a task from the highest priority queue
// available, moving it to the processing queue. Queues are checked in the
// order given to WithQueues, with a 1-second BLMove timeout each so the loop
// falls through to lower priorities when a queue is empty.
// If no task is found in any queue, it returns redis.Nil.
func (c *Client) Dequeue(ctx context.Context) (*tasks.Task, string, error) {
	for _, q := range c.queues {
		result, err := c.rdb.BLMove(ctx, queueKey(q), "processing_queue", "LEFT", "RIGHT", 1*time.Second).Result()
		if err == nil {
			var task tasks.Task
			if err := json.Unmarshal([]byte(result), &task); err != nil {
				return nil, "", err
			}
			return &task, result, nil
		}
		if err != redis.Nil {
			return nil, "", err
		}
		// Empty queue, try the next priority.
	}
	return nil, "", redis.Nil
}

// MarkStarted records that a worker claimed the task. It returns false when
// the record is already terminal (revoked while queued), in which case the
// worker must discard the task without executing it.
func (c *Client) MarkStarted(ctx context.Context, task *tasks.Task) (bool, error) {
	return c.setState(ctx, task.ID, tasks.StateStarted, "", "", task.RetryCount)
}

// Complete records a successful execution: the result value is stored under
// the task's record and the task is removed from the processing queue.
// The state write can be refused if the task was revoked mid-flight; the
// stored REVOKED outcome wins and the result is discarded.
func (c *Client) Complete(ctx context.Context, task *tasks.Task, rawTask string, result interface{}) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if _, err := c.setState(ctx, task.ID, tasks.StateSuccess, string(payload), "", task.RetryCount); err != nil {
		return err
	}
	return c.rdb.LRem(ctx, "processing_queue", 1, rawTask).Err()
}

// Fail records a permanent failure: the cause is stored so later holders of
// the ID see exactly what went wrong, and the task moves to the dead letter
// queue for inspection or manual replay.
func (c *Client) Fail(ctx context.Context, task *tasks.Task, rawTask string, cause error) error {
	if _, err := c.setState(ctx, task.ID, tasks.StateFailure, "", cause.Error(), task.RetryCount); err != nil {
		return err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, "dead_letter_queue", data)
	pipe.LRem(ctx, "processing_queue", 1, rawTask)
	_, err = pipe.Exec(ctx)
	return err
}

// Retry schedules a failed task for another attempt with exponential backoff
// (2^retryCount * 100ms). The task's retry count is incremented, its state
// becomes RETRY with the cause recorded, and it lands in the delayed queue
// for its routing key until the backoff elapses.
func (c *Client) Retry(ctx context.Context, task *tasks.Task, rawTask string, cause error) error {
	task.RetryCount++

	backoff := time.Duration(1<<task.RetryCount) * 100 * time.Millisecond
	processAt := time.Now().Add(backoff)

	if _, err := c.setState(ctx, task.ID, tasks.StateRetry, "", cause.Error(), task.RetryCount); err != nil {
		return err
	}

	newTaskData, err := json.Marshal(task)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, delayedKey(task.Queue), redis.Z{
		Score:  float64(processAt.UnixNano()),
		Member: newTaskData,
	})
	pipe.LRem(ctx, "processing_queue", 1, rawTask)
	_, err = pipe.Exec(ctx)
	return err
}

// Ack removes a claimed task from the processing queue without touching its
// state record. Used when the record already carries the final outcome.
func (c *Client) Ack(ctx context.Context, rawTask string) error {
	return c.rdb.LRem(ctx, "processing_queue", 1, rawTask).Err()
}

// Requeue puts a claimed task back into its delayed queue after the given
// pause, without a state write and without consuming a retry. Used when a
// worker declines a task it cannot run right now (e.g. rate limiting).
func (c *Client) Requeue(ctx context.Context, task *tasks.Task, rawTask string, delay time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, delayedKey(task.Queue), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixNano()),
		Member: rawTask,
	})
	pipe.LRem(ctx, "processing_queue", 1, rawTask)
	_, err := pipe.Exec(ctx)
	return err
}

// Discard records a REVOKED outcome with the given cause (e.g. "expired") and
// removes the task from the processing queue without executing it.
func (c *Client) Discard(ctx context.Context, task *tasks.Task, rawTask string, cause string) error {
	if _, err := c.setState(ctx, task.ID, tasks.StateRevoked, "", cause, task.RetryCount); err != nil {
		return err
	}
	return c.rdb.LRem(ctx, "processing_queue", 1, rawTask).Err()
}

// Revoke cancels a task by ID. The ID joins the revocation set so workers
// refuse to start it, and the state record moves to REVOKED unless the task
// already finished. Revoking a finished task is a no-op; revocation of the
// wait itself is the caller's business (cancel the context passed to Get).
func (c *Client) Revoke(ctx context.Context, id string) error {
	if err := c.rdb.SAdd(ctx, "revoked_tasks", id).Err(); err != nil {
		return fmt.Errorf("revoke %s: %w", id, err)
	}
	_, err := c.setState(ctx, id, tasks.StateRevoked, "", "revoked", 0)
	return err
}

// IsRevoked reports whether id is in the revocation set.
func (c *Client) IsRevoked(ctx context.Context, id string) (bool, error) {
	return c.rdb.SIsMember(ctx, "revoked_tasks", id).Result()
}

// Meta is one observation of a task's record in the result store.
type Meta struct {
	State   tasks.State `json:"state"`
	Result  string      `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	Retries int         `json:"retries"`
}

// Inspect reads the full record for id. A missing record (never dispatched,
// or pruned after its TTL) returns ErrUnknownTask rather than a synthetic
// PENDING; transport errors are returned as-is so callers can tell an
// unreachable store from an unknown task.
func (c *Client) Inspect(ctx context.Context, id string) (*Meta, error) {
	fields, err := c.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrUnknownTask
	}
	meta := &Meta{
		State:  tasks.State(fields["state"]),
		Result: fields["result"],
		Error:  fields["error"],
	}
	fmt.Sscanf(fields["retries"], "%d", &meta.Retries)
	return meta, nil
}

// GetState returns the last known state for id, or ErrUnknownTask.
// It never fails because the task failed; FAILURE is a state, not an error.
func (c *Client) GetState(ctx context.Context, id string) (tasks.State, error) {
	meta, err := c.Inspect(ctx, id)
	if err != nil {
		return "", err
	}
	return meta.State, nil
}

// GetResult returns the stored result for id as raw JSON.
func (c *Client) GetResult(ctx context.Context, id string) (string, error) {
	meta, err := c.Inspect(ctx, id)
	if err != nil {
		return "", err
	}
	return meta.Result, nil
}

// StartScheduler runs a background loop that moves delayed tasks whose
// eligibility time has arrived back onto their ready queue. It checks every
// 500ms and returns when the context is cancelled.
//
// The move is a Lua script so that multiple scheduler instances can run
// concurrently without handing the same delayed task to two queues: the
// script atomically fetches due members, removes them from the sorted set,
// and pushes them to the ready list for the same routing key.
func (c *Client) StartScheduler(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	luaScript := redis.NewScript(`
		local delayed_key = KEYS[1]
		local ready_key = KEYS[2]
		local now = tonumber(ARGV[1])

		local due = redis.call('ZRANGEBYSCORE', delayed_key, '-inf', now)
		if #due > 0 then
			redis.call('ZREMRANGEBYSCORE', delayed_key, '-inf', now)
			for _, task in ipairs(due) do
				redis.call('RPUSH', ready_key, task)
			end
		end
		return #due
	`)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := float64(time.Now().UnixNano())
			for _, q := range c.queues {
				_, err := luaScript.Run(ctx, c.rdb,
					[]string{delayedKey(q), queueKey(q)},
					now,
				).Result()
				if err != nil && err != redis.Nil {
					logger.Log.Error().Err(err).Str("queue", q).Msg("Scheduler error")
				}
			}
		}
	}
}

// Schedule registers a cron job that dispatches the Signature on the given
// spec (standard cron expression, e.g. "@every 1m"). Each run is a fresh
// dispatch with its own ID, so runs are individually trackable.
func (c *Client) Schedule(spec string, sig tasks.Signature) (cron.EntryID, error) {
	if err := c.registry.Check(sig.Name); err != nil {
		return 0, err
	}
	return c.cron.AddFunc(spec, func() {
		handle, err := c.Dispatch(context.Background(), sig)
		if err != nil {
			logger.Log.Error().Err(err).Str("spec", spec).Msg("Failed to dispatch scheduled task")
			return
		}
		logger.Log.Info().Str("name", sig.Name).Str("spec", spec).Str("task_id", handle.ID()).Msg("Scheduled task dispatched")
	})
}

// StartCron starts the cron scheduler in a background goroutine.
// It should be called once when the application starts (e.g., in the server).
func (c *Client) StartCron() {
	c.cron.Start()
}

// StopCron stops the cron scheduler.
func (c *Client) StopCron() {
	c.cron.Stop()
}

// Allow checks if a task of a specific name is allowed to proceed based on
// the rate limit. It uses a Token Bucket algorithm implemented in Lua.
//
// Parameters:
//   - key: Unique key for the rate limit (e.g., "ratelimit:email.send")
//   - limit: Number of tokens added per second (rate)
//   - burst: Maximum number of tokens in the bucket (capacity)
//
// Returns true if allowed, false otherwise.
func (c *Client) Allow(ctx context.Context, key string, limit int, burst int) (bool, error) {
	luaScript := redis.NewScript(`
		local key = KEYS[1]
		local rate = tonumber(ARGV[1])
		local burst = tonumber(ARGV[2])
		local now = tonumber(ARGV[3])
		local requested = tonumber(ARGV[4])

		local tokens = tonumber(redis.call('HGET', key, 'tokens'))
		local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

		if not tokens then
			tokens = burst
			last_refill = now
		end

		local delta = math.max(0, now - last_refill)
		local new_tokens = math.min(burst, tokens + (delta * rate))

		if new_tokens >= requested then
			new_tokens = new_tokens - requested
			redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
			return 1
		else
			redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
			return 0
		end
	`)

	result, err := luaScript.Run(ctx, c.rdb,
		[]string{key},
		limit,
		burst,
		time.Now().Unix(),
		1,
	).Result()
	if err != nil {
		return false, err
	}
	return result.(int64) == 1, nil
}

// GetQueueDepths returns the current depth (number of items) for all queues
// this client serves, plus the processing and dead letter queues.
func (c *Client) GetQueueDepths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)

	for _, q := range c.queues {
		if n, err := c.rdb.LLen(ctx, queueKey(q)).Result(); err == nil {
			depths[queueKey(q)] = n
		}
		if n, err := c.rdb.ZCard(ctx, delayedKey(q)).Result(); err == nil {
			depths[delayedKey(q)] = n
		}
	}
	for _, q := range []string{"processing_queue", "dead_letter_queue"} {
		if n, err := c.rdb.LLen(ctx, q).Result(); err == nil {
			depths[q] = n
		}
	}
	return depths
}

// InspectQueue retrieves the first n tasks from a specific queue without
// removing them. Keys with the "delayed:" prefix are sorted sets; everything
// else is a list.
func (c *Client) InspectQueue(ctx context.Context, queueName string, limit int64) ([]*tasks.Task, error) {
	var rawTasks []string
	var err error

	if len(queueName) > 8 && queueName[:8] == "delayed:" {
		rawTasks, err = c.rdb.ZRange(ctx, queueName, 0, limit-1).Result()
	} else {
		rawTasks, err = c.rdb.LRange(ctx, queueName, 0, limit-1).Result()
	}
	if err != nil {
		return nil, err
	}

	var taskList []*tasks.Task
	for _, raw := range rawTasks {
		var t tasks.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			// Skip malformed entries; this is a read-only inspection path.
			continue
		}
		taskList = append(taskList, &t)
	}
	return taskList, nil
}
