package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/guido-cesarano/asyncq/pkg/queue"
)

func setupTestServer(t *testing.T, apiKey string) *http.ServeMux {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := queue.NewClient(s.Addr())
	client.Register("add", "email.send")
	return setupRouter(client, apiKey)
}

func TestAuthMiddleware(t *testing.T) {
	mux := setupTestServer(t, "secret-key")

	tests := []struct {
		name           string
		headerKey      string
		headerValue    string
		expectedStatus int
	}{
		{
			name:           "No API Key",
			headerKey:      "",
			headerValue:    "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong API Key",
			headerKey:      "X-API-Key",
			headerValue:    "wrong-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Correct API Key",
			headerKey:      "X-API-Key",
			headerValue:    "secret-key",
			expectedStatus: http.StatusBadRequest, // 400 because body is empty, but auth passed
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/dispatch", nil)
			if tt.headerKey != "" {
				req.Header.Set(tt.headerKey, tt.headerValue)
			}

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	mux := setupTestServer(t, "")

	req := httptest.NewRequest("POST", "/dispatch", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code == http.StatusUnauthorized {
		t.Errorf("Expected auth to be disabled, got 401")
	}
}

func TestDispatchAndState(t *testing.T) {
	mux := setupTestServer(t, "")

	body := `{"name": "add", "args": [10, 20]}`
	req := httptest.NewRequest("POST", "/dispatch", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Bad dispatch response: %v", err)
	}
	taskID := resp["task_id"]
	if taskID == "" {
		t.Fatal("Expected a task_id")
	}

	// Freshly dispatched task polls as PENDING and not ready.
	req = httptest.NewRequest("GET", "/state?id="+taskID, nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var state struct {
		State string `json:"state"`
		Ready bool   `json:"ready"`
	}
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("Bad state response: %v", err)
	}
	if state.State != "PENDING" || state.Ready {
		t.Errorf("Expected PENDING/not-ready, got %+v", state)
	}
}

func TestDispatchUnregisteredName(t *testing.T) {
	mux := setupTestServer(t, "")

	body := `{"name": "no.such.task"}`
	req := httptest.NewRequest("POST", "/dispatch", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unregistered name, got %d", w.Code)
	}
}

func TestStateUnknownTask(t *testing.T) {
	mux := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/state?id=not-a-task", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", w.Code)
	}
}
