// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RANKTRACKER_SERVER_PORT.
const EnvPrefix = "RANKTRACKER"

// Supported backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Serper    SerperConfig    `mapstructure:"serper"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SerperConfig configures the search provider client.
type SerperConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxPages          int     `mapstructure:"max_pages"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryBaseMs       int     `mapstructure:"retry_base_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// SchedulerConfig seeds the scheduler settings.
type SchedulerConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	RunOnStart      bool `mapstructure:"run_on_start"`
}

// StoreConfig selects the ranking store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	ProjectsTable          string `mapstructure:"projects_table"`
	SnapshotsTable         string `mapstructure:"snapshots_table"`
	SettingsTable          string `mapstructure:"settings_table"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// ArchiveConfig sets where exported snapshot documents are written.
type ArchiveConfig struct {
	Driver     string `mapstructure:"driver"`
	BaseDir    string `mapstructure:"base_dir"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	Prefix     string `mapstructure:"prefix"`
	HashLength int    `mapstructure:"hash_length"`
}

// PubSubConfig holds metadata for snapshot notifications. Publishing is
// enabled when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// The provider credential is also accepted under its conventional name.
	if err := v.BindEnv("serper.api_key", EnvPrefix+"_SERPER_API_KEY", "SERPER_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind serper api key: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("serper.base_url", "https://google.serper.dev/search")
	v.SetDefault("serper.timeout_seconds", 15)
	v.SetDefault("serper.max_pages", 5)
	v.SetDefault("serper.max_retries", 0)
	v.SetDefault("serper.retry_base_ms", 250)
	v.SetDefault("serper.requests_per_second", 0)
	v.SetDefault("scheduler.interval_minutes", 5)
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("db.projects_table", "projects")
	v.SetDefault("db.snapshots_table", "ranking_snapshots")
	v.SetDefault("db.settings_table", "scheduler_settings")
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("archive.driver", ArchiveNone)
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.hash_length", 16)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. A missing Serper
// API key is not a load error: every keyword check then records it instead.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Serper.TimeoutSeconds <= 0 {
		return fmt.Errorf("serper.timeout_seconds must be > 0")
	}
	if c.Serper.MaxPages <= 0 || c.Serper.MaxPages > 5 {
		return fmt.Errorf("serper.max_pages must be between 1 and 5")
	}
	if c.Serper.MaxRetries < 0 {
		return fmt.Errorf("serper.max_retries must be >= 0")
	}
	if c.Serper.RequestsPerSecond < 0 {
		return fmt.Errorf("serper.requests_per_second must be >= 0")
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler.interval_minutes must be > 0")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Archive.Driver {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// PublishingEnabled reports whether snapshot notifications are configured.
func (c Config) PublishingEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}

// ExportEnabled reports whether any snapshot export sink is configured.
func (c Config) ExportEnabled() bool {
	return c.Archive.Driver != ArchiveNone || c.PublishingEnabled()
}

// SerperTimeout returns the provider request timeout.
func (c Config) SerperTimeout() time.Duration {
	return time.Duration(c.Serper.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
