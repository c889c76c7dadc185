// Package main provides a benchmark tool for asyncq to measure dispatch
// throughput and end-to-end completion time.
//
// Usage:
//
//	go run benchmark/main.go -tasks 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/asyncq/pkg/queue"
	"github.com/guido-cesarano/asyncq/pkg/tasks"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to dispatch")
	numProducers := flag.Int("producers", 10, "Number of concurrent dispatchers")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	client := queue.NewClient(*redisAddr)
	client.Register("benchmark")
	ctx := context.Background()

	fmt.Printf("asyncq Benchmark\n")
	fmt.Printf("================\n")
	fmt.Printf("Tasks to dispatch: %d\n", *numTasks)
	fmt.Printf("Concurrent producers: %d\n\n", *numProducers)

	// Dispatch phase
	fmt.Printf("Starting dispatch phase...\n")
	startDispatch := time.Now()

	var wg sync.WaitGroup
	var dispatched atomic.Int64
	tasksPerProducer := *numTasks / *numProducers

	for i := 0; i < *numProducers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < tasksPerProducer; j++ {
				_, err := client.Dispatch(ctx, tasks.Signature{
					Name: "benchmark",
					Args: []interface{}{j},
				})
				if err != nil {
					fmt.Printf("Dispatch error: %v\n", err)
					continue
				}
				dispatched.Add(1)
			}
		}()
	}
	wg.Wait()

	dispatchElapsed := time.Since(startDispatch)
	fmt.Printf("Dispatched %d tasks in %v (%.0f tasks/sec)\n\n",
		dispatched.Load(), dispatchElapsed,
		float64(dispatched.Load())/dispatchElapsed.Seconds())

	// Drain phase: poll queue depths until workers (run separately) catch up.
	fmt.Printf("Waiting for workers to drain the queue...\n")
	startDrain := time.Now()
	for {
		depths := client.GetQueueDepths(ctx)
		var remaining int64
		for _, d := range depths {
			remaining += d
		}
		if remaining == 0 {
			break
		}
		fmt.Printf("  %d tasks remaining...\n", remaining)
		time.Sleep(1 * time.Second)
	}

	drainElapsed := time.Since(startDrain)
	fmt.Printf("\nDrained in %v (%.0f tasks/sec end-to-end)\n",
		drainElapsed, float64(dispatched.Load())/drainElapsed.Seconds())
}
