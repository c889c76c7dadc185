package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("Expected default redis addr, got %s", cfg.Redis.Addr)
	}
	if cfg.Server.Addr != ":8081" {
		t.Errorf("Expected default server addr, got %s", cfg.Server.Addr)
	}
	if cfg.Worker.MaxRetries != 3 {
		t.Errorf("Expected 3 max retries, got %d", cfg.Worker.MaxRetries)
	}
	if cfg.Worker.ResultTTL != 24*time.Hour {
		t.Errorf("Expected 24h result TTL, got %v", cfg.Worker.ResultTTL)
	}
	if len(cfg.Worker.Queues) == 0 {
		t.Error("Expected at least the default queue")
	}
	if len(cfg.Tasks) == 0 {
		t.Error("Expected default task names")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ASYNCQ_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ASYNCQ_WORKER_RESULT_TTL", "1h")
	t.Setenv("ASYNCQ_SERVER_API_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Expected env redis addr, got %s", cfg.Redis.Addr)
	}
	if cfg.Worker.ResultTTL != time.Hour {
		t.Errorf("Expected 1h result TTL, got %v", cfg.Worker.ResultTTL)
	}
	if cfg.Server.APIKey != "secret" {
		t.Errorf("Expected env API key, got %q", cfg.Server.APIKey)
	}
}
