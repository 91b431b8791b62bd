package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
  level: warn
backend:
  base_url: https://nas.local/api/v1
  api_key: console-key
  plugin: ExtendSpider
  timeout_seconds: 30
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  driver: postgres
  dsn: postgres://spider@localhost/spider
  max_conns: 8
storage:
  backend: gcs
  bucket: spider-configs
  prefix: prod
pubsub:
  project_id: spider-project
  topic_name: console-events
notify:
  max_batch_events: 8
  max_batch_wait_ms: 50
activity:
  limit: 5
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Backend.BaseURL != "https://nas.local/api/v1" || cfg.Backend.APIKey != "console-key" {
		t.Fatalf("expected backend overrides to apply: %+v", cfg.Backend)
	}
	if got := cfg.BackendTimeout(); got != 30*time.Second {
		t.Fatalf("expected backend timeout 30s, got %v", got)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.MaxConns != 8 {
		t.Fatalf("expected db overrides to apply: %+v", cfg.DB)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.Bucket != "spider-configs" || cfg.Storage.Prefix != "prod" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.PubSub.TopicName != "console-events" {
		t.Fatalf("expected pubsub topic override, got %q", cfg.PubSub.TopicName)
	}
	if got := cfg.MaxBatchWait(); got != 50*time.Millisecond {
		t.Fatalf("expected batch wait 50ms, got %v", got)
	}
	if cfg.Notify.BufferSize != 256 {
		t.Fatalf("expected default buffer size to survive, got %d", cfg.Notify.BufferSize)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if cfg.Activity.Limit != 5 {
		t.Fatalf("expected activity limit 5, got %d", cfg.Activity.Limit)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Plugin != "ExtendSpider" {
		t.Fatalf("expected default plugin, got %q", cfg.Backend.Plugin)
	}
	if cfg.DB.Driver != "memory" || cfg.Storage.Backend != "local" {
		t.Fatalf("expected memory repo and local storage, got %q/%q", cfg.DB.Driver, cfg.Storage.Backend)
	}
	if cfg.SinkTimeout() != 10*time.Second || cfg.ShutdownTimeout() != 10*time.Second {
		t.Fatalf("unexpected timeouts: sink=%v shutdown=%v", cfg.SinkTimeout(), cfg.ShutdownTimeout())
	}
	if cfg.Activity.Limit != 20 {
		t.Fatalf("expected activity limit 20, got %d", cfg.Activity.Limit)
	}
	if cfg.Server.RateLimitRPS != 20 || cfg.Backend.RateLimitRPS != 0 {
		t.Fatalf("unexpected rate limits: server=%v console=%v", cfg.Server.RateLimitRPS, cfg.Backend.RateLimitRPS)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPIDER_BACKEND_BASE_URL", "http://env.example/api")
	t.Setenv("SPIDER_STORAGE_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "http://env.example/api" {
		t.Fatalf("expected env base url, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected env storage backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Backend:  BackendConfig{BaseURL: "http://localhost", TimeoutSeconds: 5},
		Server:   ServerConfig{Port: 8080},
		DB:       DBConfig{Driver: "memory"},
		Storage:  StorageConfig{Backend: "memory"},
		Activity: ActivityConfig{Limit: 20},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Backend.BaseURL = "" }, "backend.base_url"},
		{"invalid timeout", func(c *Config) { c.Backend.TimeoutSeconds = 0 }, "backend.timeout_seconds"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"postgres without dsn", func(c *Config) { c.DB.Driver = "postgres" }, "db.dsn"},
		{"unknown driver", func(c *Config) { c.DB.Driver = "sqlite" }, "db.driver"},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.base_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"pubsub without topic", func(c *Config) { c.PubSub.ProjectID = "p" }, "pubsub.topic_name"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitRPS = -1 }, "rate_limit_rps"},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
		{"zero activity limit", func(c *Config) { c.Activity.Limit = 0 }, "activity.limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
