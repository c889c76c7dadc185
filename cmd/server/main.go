// Package main implements the asyncq HTTP API server for task dispatch and
// result inspection.
//
// API Endpoints:
//
//	POST /dispatch - Dispatches a new task, returns its ID
//	GET  /state    - Returns the last known state for a task ID
//	GET  /result   - Returns the stored result for a task ID
//	POST /revoke   - Cancels a task by ID
//	POST /schedule - Registers a cron job that dispatches a task on a spec
//	GET  /stats    - Returns current queue depths
//	GET  /tasks    - Lists tasks sitting in a specific queue
//
// Request Format (dispatch):
//
//	{
//	  "name": "email.send",
//	  "args": ["user@example.com"],
//	  "kwargs": {"subject": "Hello"},
//	  "queue": "default",
//	  "delay_seconds": 0,
//	  "expires_after_seconds": 0
//	}
//
// The server address, Redis address and API key come from asyncq.yaml or
// ASYNCQ_-prefixed environment variables.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/guido-cesarano/asyncq/pkg/config"
	"github.com/guido-cesarano/asyncq/pkg/logger"
	"github.com/guido-cesarano/asyncq/pkg/queue"
	"github.com/guido-cesarano/asyncq/pkg/tasks"
)

// authMiddleware wraps an http.HandlerFunc and enforces API Key authentication.
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If no key is configured, allow all (dev mode)
		if requiredKey == "" {
			next(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds CORS headers. Preflight
// OPTIONS requests are answered here so they never hit auth.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// dispatchRequest is the wire form of a tasks.Signature.
type dispatchRequest struct {
	Name         string                 `json:"name"`
	Args         []interface{}          `json:"args"`
	Kwargs       map[string]interface{} `json:"kwargs"`
	Queue        string                 `json:"queue"`
	DelaySeconds float64                `json:"delay_seconds"`
	ExpiresAfter float64                `json:"expires_after_seconds"`
}

// setupRouter configures the HTTP handlers and returns the mux.
func setupRouter(client *queue.Client, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()

	// Middleware order is CORS -> Auth -> Handler so preflight requests
	// succeed without a key.
	mux.HandleFunc("/dispatch", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req dispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		handle, err := client.Dispatch(r.Context(), tasks.Signature{
			Name:      req.Name,
			Args:      req.Args,
			Kwargs:    req.Kwargs,
			Queue:     req.Queue,
			Delay:     time.Duration(req.DelaySeconds * float64(time.Second)),
			ExpiresIn: time.Duration(req.ExpiresAfter * float64(time.Second)),
		})
		if err != nil {
			// Bad name or malformed options; dispatch errors are synchronous.
			status := http.StatusBadRequest
			if !errors.Is(err, tasks.ErrNotRegistered) {
				status = http.StatusInternalServerError
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"task_id": handle.ID()})
	}, apiKey)))

	mux.HandleFunc("/state", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		taskID := r.URL.Query().Get("id")
		if taskID == "" {
			http.Error(w, "Missing task ID", http.StatusBadRequest)
			return
		}

		meta, err := client.Inspect(r.Context(), taskID)
		if errors.Is(err, queue.ErrUnknownTask) {
			http.Error(w, "Unknown or expired task", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"task_id": taskID,
			"state":   meta.State,
			"ready":   meta.State.Terminal(),
			"retries": meta.Retries,
			"error":   meta.Error,
		})
	}, apiKey)))

	mux.HandleFunc("/result", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		taskID := r.URL.Query().Get("id")
		if taskID == "" {
			http.Error(w, "Missing task ID", http.StatusBadRequest)
			return
		}

		meta, err := client.Inspect(r.Context(), taskID)
		if errors.Is(err, queue.ErrUnknownTask) {
			http.Error(w, "Unknown or expired task", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if meta.State != tasks.StateSuccess {
			// Not ready or not successful; the state endpoint tells which.
			http.Error(w, fmt.Sprintf("No result: task is %s", meta.State), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(meta.Result))
	}, apiKey)))

	mux.HandleFunc("/revoke", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		taskID := r.URL.Query().Get("id")
		if taskID == "" {
			http.Error(w, "Missing task ID", http.StatusBadRequest)
			return
		}

		if err := client.Revoke(r.Context(), taskID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Task revoked: %s\n", taskID)
	}, apiKey)))

	mux.HandleFunc("/schedule", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Spec   string                 `json:"spec"` // Cron expression (e.g. "@every 1m")
			Name   string                 `json:"name"`
			Args   []interface{}          `json:"args"`
			Kwargs map[string]interface{} `json:"kwargs"`
			Queue  string                 `json:"queue"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		entryID, err := client.Schedule(req.Spec, tasks.Signature{
			Name:   req.Name,
			Args:   req.Args,
			Kwargs: req.Kwargs,
			Queue:  req.Queue,
		})
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid schedule: %v", err), http.StatusBadRequest)
			return
		}

		fmt.Fprintf(w, "Job scheduled with EntryID: %d\n", entryID)
	}, apiKey)))

	mux.HandleFunc("/stats", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		depths := client.GetQueueDepths(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(depths); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}, apiKey)))

	mux.HandleFunc("/tasks", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		queueName := r.URL.Query().Get("queue")
		if queueName == "" {
			http.Error(w, "Missing queue parameter", http.StatusBadRequest)
			return
		}

		// Inspect top 50 tasks (arbitrary limit for inspection)
		list, err := client.InspectQueue(r.Context(), queueName, 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(list); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}, apiKey)))

	return mux
}

// main loads config, wires the queue client and serves the API.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	client := queue.NewClient(cfg.Redis.Addr).
		WithQueues(cfg.Worker.Queues...).
		WithResultTTL(cfg.Worker.ResultTTL)
	client.Register(cfg.Tasks...)

	// Run cron-scheduled dispatches from the server process.
	client.StartCron()
	defer client.StopCron()

	if cfg.Server.APIKey == "" {
		logger.Log.Warn().Msg("No API key configured. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	mux := setupRouter(client, cfg.Server.APIKey)

	logger.Log.Info().Str("addr", cfg.Server.Addr).Msg("Server listening")
	if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
}
