package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Pipeline.Partitions != 4 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Postgres.ConnMaxLifetime != 5*time.Minute || cfg.Redis.CacheTTL != 10*time.Minute {
		t.Errorf("durations not parsed: %s %s", cfg.Postgres.ConnMaxLifetime, cfg.Redis.CacheTTL)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.DataDir != "data" || cfg.Server.MaxLimit != 100 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TP_MAP_WORKERS", "9")
	t.Setenv("TP_STORE_BACKEND", BackendNone)
	t.Setenv("TP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TP_CORS_ORIGINS", "https://a.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.MapWorkers != 9 || cfg.Store.Backend != BackendNone {
		t.Errorf("overrides not applied: %+v", cfg.Pipeline)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("expected kafka enabled with two brokers, got %+v", cfg.Kafka)
	}
	if len(cfg.Server.CORSOrigins) != 1 {
		t.Errorf("expected one CORS origin, got %v", cfg.Server.CORSOrigins)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no data dir", func(c *Config) { c.Pipeline.DataDir = "" }},
		{"zero map workers", func(c *Config) { c.Pipeline.MapWorkers = 0 }},
		{"zero partitions", func(c *Config) { c.Pipeline.Partitions = 0 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }},
		{"sqlite without path", func(c *Config) { c.SQLite.Path = "" }},
		{"zero batch size", func(c *Config) { c.Store.BatchSize = 0 }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("pipeline: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
