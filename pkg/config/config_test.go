package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.SubsequentPageMultiplier != 2 {
		t.Errorf("multiplier = %d, want 2", cfg.Search.SubsequentPageMultiplier)
	}
	if cfg.Search.DefaultPageSize != 10 {
		t.Errorf("default page size = %d, want 10", cfg.Search.DefaultPageSize)
	}
	if cfg.Kafka.Topics.ActivityPosted != "activity.posted" {
		t.Errorf("activity topic = %q", cfg.Kafka.Topics.ActivityPosted)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search.yaml")
	data := []byte(`
search:
  backend: memory
  subsequentPageMultiplier: 4
  indexTimeout: 750ms
redis:
  listTTL: 2m
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("SP_SEARCH_INTERSECTION_BATCH_SIZE", "40")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Search.Backend)
	}
	if cfg.Search.SubsequentPageMultiplier != 4 {
		t.Errorf("multiplier = %d, want 4", cfg.Search.SubsequentPageMultiplier)
	}
	if cfg.Search.IndexTimeout != 750*time.Millisecond {
		t.Errorf("index timeout = %v", cfg.Search.IndexTimeout)
	}
	if cfg.Search.IntersectionBatchSize != 40 {
		t.Errorf("batch size = %d, want 40", cfg.Search.IntersectionBatchSize)
	}
	if cfg.Redis.ListTTL != 2*time.Minute {
		t.Errorf("list ttl = %v", cfg.Redis.ListTTL)
	}
	// untouched defaults survive a partial file
	if cfg.Search.MaxPageSize != 100 {
		t.Errorf("max page size = %d, want 100", cfg.Search.MaxPageSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero multiplier", func(c *Config) { c.Search.SubsequentPageMultiplier = 0 }, false},
		{"zero batch", func(c *Config) { c.Search.IntersectionBatchSize = 0 }, false},
		{"max below default", func(c *Config) { c.Search.MaxPageSize = 5 }, false},
		{"unknown backend", func(c *Config) { c.Search.Backend = "solr" }, false},
		{"zero analytics batch", func(c *Config) { c.Analytics.BatchSize = 0 }, false},
		{"analytics disabled", func(c *Config) { c.Analytics.Enabled = false; c.Analytics.BatchSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestLoad_GatewayEnv(t *testing.T) {
	t.Setenv("SP_GATEWAY_PORT", "9100")
	t.Setenv("SP_GATEWAY_SEARCHER_URL", "http://searcher:8080")
	t.Setenv("SP_ANALYTICS_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("gateway port = %d, want 9100", cfg.Gateway.Port)
	}
	if cfg.Gateway.SearcherURL != "http://searcher:8080" {
		t.Errorf("searcher url = %q", cfg.Gateway.SearcherURL)
	}
	if cfg.Gateway.IngestionURL != "http://localhost:8081" {
		t.Errorf("ingestion url = %q, want default", cfg.Gateway.IngestionURL)
	}
	if cfg.Analytics.Enabled {
		t.Error("analytics should be disabled")
	}
}

func TestLoad_MetricsPortEnv(t *testing.T) {
	t.Setenv("SP_METRICS_PORT", "9191")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Metrics.Port != 9191 {
		t.Errorf("metrics port = %d, want 9191", cfg.Metrics.Port)
	}
}

func TestLoad_DevelopmentConfig(t *testing.T) {
	cfg, err := Load("../../configs/development.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Search.Backend)
	}
	if cfg.Tracing.SlowThreshold != 250*time.Millisecond {
		t.Errorf("slow threshold = %v, want 250ms", cfg.Tracing.SlowThreshold)
	}
	if cfg.Search.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("breaker threshold = %d, want default 5", cfg.Search.CircuitBreaker.FailureThreshold)
	}
}
