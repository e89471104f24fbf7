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
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
serper:
  api_key: serper-key
  timeout_seconds: 20
  max_pages: 3
  max_retries: 2
  requests_per_second: 1.5
scheduler:
  interval_minutes: 15
  run_on_start: true
store:
  driver: postgres
db:
  dsn: postgres://localhost/ranks
  max_conns: 8
  snapshots_table: snaps
archive:
  driver: local
  base_dir: /tmp/ranks
  prefix: exports
pubsub:
  project_id: my-project
  topic_name: rankings
logging:
  development: false
  level: warn
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
	if cfg.Serper.APIKey != "serper-key" || cfg.Serper.MaxPages != 3 || cfg.Serper.MaxRetries != 2 {
		t.Fatalf("expected serper overrides to apply: %+v", cfg.Serper)
	}
	if cfg.Serper.BaseURL != "https://google.serper.dev/search" {
		t.Fatalf("expected default base url, got %q", cfg.Serper.BaseURL)
	}
	if got := cfg.SerperTimeout(); got != 20*time.Second {
		t.Fatalf("expected serper timeout 20s, got %v", got)
	}
	if cfg.Scheduler.IntervalMinutes != 15 || !cfg.Scheduler.RunOnStart {
		t.Fatalf("expected scheduler overrides to apply: %+v", cfg.Scheduler)
	}
	if cfg.Store.Driver != StorePostgres || cfg.DB.MaxConns != 8 {
		t.Fatalf("expected postgres store: %+v %+v", cfg.Store, cfg.DB)
	}
	if cfg.DB.SnapshotsTable != "snaps" || cfg.DB.ProjectsTable != "projects" {
		t.Fatalf("expected table overrides and defaults: %+v", cfg.DB)
	}
	if !cfg.PublishingEnabled() || !cfg.ExportEnabled() {
		t.Fatalf("expected export and publishing to be enabled")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.IntervalMinutes != 5 {
		t.Fatalf("expected default interval 5, got %d", cfg.Scheduler.IntervalMinutes)
	}
	if cfg.Serper.MaxPages != 5 || cfg.Serper.MaxRetries != 0 {
		t.Fatalf("unexpected serper defaults: %+v", cfg.Serper)
	}
	if cfg.Store.Driver != StoreMemory || cfg.Archive.Driver != ArchiveNone {
		t.Fatalf("unexpected backend defaults: %+v %+v", cfg.Store, cfg.Archive)
	}
	if cfg.ExportEnabled() {
		t.Fatalf("export must be disabled by default")
	}
	if got := cfg.RequestTimeout(); got != 30*time.Second {
		t.Fatalf("expected request timeout 30s, got %v", got)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("RANKTRACKER_SCHEDULER_INTERVAL_MINUTES", "30")
	t.Setenv("SERPER_API_KEY", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.IntervalMinutes != 30 {
		t.Fatalf("expected interval 30, got %d", cfg.Scheduler.IntervalMinutes)
	}
	if cfg.Serper.APIKey != "from-env" {
		t.Fatalf("expected serper key from SERPER_API_KEY, got %q", cfg.Serper.APIKey)
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
		Server:    ServerConfig{Port: 8080},
		Serper:    SerperConfig{TimeoutSeconds: 10, MaxPages: 5},
		Scheduler: SchedulerConfig{IntervalMinutes: 5},
		Store:     StoreConfig{Driver: StoreMemory},
		Archive:   ArchiveConfig{Driver: ArchiveNone},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"invalid timeout", func(c *Config) { c.Serper.TimeoutSeconds = 0 }, "serper.timeout_seconds"},
		{"too many pages", func(c *Config) { c.Serper.MaxPages = 6 }, "serper.max_pages"},
		{"negative retries", func(c *Config) { c.Serper.MaxRetries = -1 }, "serper.max_retries"},
		{"negative rate", func(c *Config) { c.Serper.RequestsPerSecond = -1 }, "serper.requests_per_second"},
		{"zero interval", func(c *Config) { c.Scheduler.IntervalMinutes = 0 }, "scheduler.interval_minutes"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StorePostgres }, "db.dsn"},
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"local archive without dir", func(c *Config) { c.Archive.Driver = ArchiveLocal }, "archive.base_dir"},
		{"gcs archive without bucket", func(c *Config) { c.Archive.Driver = ArchiveGCS }, "archive.gcs_bucket"},
		{"unknown archive", func(c *Config) { c.Archive.Driver = "s3" }, "archive.driver"},
		{"half pubsub", func(c *Config) { c.PubSub.TopicName = "rankings" }, "pubsub.project_id"},
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
