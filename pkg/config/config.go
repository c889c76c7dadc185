// Package config loads asyncq configuration from an optional asyncq.yaml file
// and from ASYNCQ_-prefixed environment variables. Environment variables take
// precedence over file values; everything has a local-dev default.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings for the server, worker and CLI.
type Config struct {
	Redis  RedisConfig  `mapstructure:"redis"`
	Server ServerConfig `mapstructure:"server"`
	Worker WorkerConfig `mapstructure:"worker"`

	// Tasks lists the task names producers may dispatch. The worker also
	// registers every handler it binds, so this only matters for processes
	// that dispatch without executing (server, CLI).
	Tasks []string `mapstructure:"tasks"`
}

// RedisConfig locates the broker/result store.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// APIKey enables X-API-Key authentication when non-empty.
	APIKey string `mapstructure:"api_key"`
}

// WorkerConfig configures the execution runtime.
type WorkerConfig struct {
	// Queues are consumed in priority order, left to right.
	Queues      []string      `mapstructure:"queues"`
	MaxRetries  int           `mapstructure:"max_retries"`
	ResultTTL   time.Duration `mapstructure:"result_ttl"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

// Load reads configuration with the precedence env > file > defaults.
// The config file (asyncq.yaml) is searched for in the working directory and
// is optional; a missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.api_key", "")
	v.SetDefault("worker.queues", []string{"default"})
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.result_ttl", "24h")
	v.SetDefault("worker.metrics_addr", ":8080")
	v.SetDefault("tasks", []string{"add", "email.send", "image.resize", "sleep"})

	v.SetConfigName("asyncq")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ASYNCQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr must not be empty")
	}
	if len(cfg.Worker.Queues) == 0 {
		cfg.Worker.Queues = []string{"default"}
	}
	return &cfg, nil
}
