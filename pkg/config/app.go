package config

import (
	"fmt"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/db"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/observability/otel"
	"github.com/fluxorio/todosync/pkg/server"
	"github.com/fluxorio/todosync/pkg/todosync"
)

// EnvPrefix prefixes every environment override, e.g. TODOSYNC_AUTH_SECRET
const EnvPrefix = "TODOSYNC"

// Storage drivers
const (
	StorageMemory   = "memory"
	StorageSQLite   = db.DriverSQLite
	StoragePostgres = db.DriverPostgres
	StoragePGX      = "pgx"
)

// Feed drivers
const (
	FeedMemory   = "memory"
	FeedNATS     = "nats"
	FeedPostgres = "postgres"
)

// StorageConfig selects and sizes the todo repository
type StorageConfig struct {
	// Driver is one of memory, sqlite3, postgres (database/sql) or pgx
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	// StatsInterval is how often pool gauges are refreshed. 0 disables it.
	StatsInterval time.Duration `yaml:"stats_interval" json:"stats_interval"`
}

// Pool returns the database/sql pool configuration for sqlite3 and postgres
func (s StorageConfig) Pool() db.PoolConfig {
	cfg := db.DefaultPoolConfig(s.DSN, s.Driver)
	if s.MaxOpenConns > 0 {
		cfg.MaxOpenConns = s.MaxOpenConns
	}
	if s.MaxIdleConns > 0 {
		cfg.MaxIdleConns = s.MaxIdleConns
	}
	if s.ConnMaxLifetime > 0 {
		cfg.ConnMaxLifetime = s.ConnMaxLifetime
	}
	return cfg
}

// FeedConfig selects the change feed
type FeedConfig struct {
	// Driver is memory, nats, or postgres (LISTEN/NOTIFY, needs the pgx storage driver)
	Driver string          `yaml:"driver" json:"driver"`
	Buffer int             `yaml:"buffer" json:"buffer"`
	NATS   feed.NATSConfig `yaml:"nats" json:"nats"`
}

// SyncConfig tunes the client core
type SyncConfig struct {
	MutationTimeout time.Duration `yaml:"mutation_timeout" json:"mutation_timeout"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
}

// DefaultSyncConfig returns the client core defaults
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MutationTimeout: todosync.DefaultMutationTimeout,
		RetryDelay:      todosync.DefaultRetryDelay,
		MaxRetryDelay:   30 * time.Second,
	}
}

// ObservabilityConfig configures tracing
type ObservabilityConfig struct {
	Tracing otel.Config `yaml:"tracing" json:"tracing"`
}

// AppConfig is the todosyncd configuration file
type AppConfig struct {
	Server        server.Config       `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Feed          FeedConfig          `yaml:"feed" json:"feed"`
	Auth          auth.Config         `yaml:"auth" json:"auth"`
	Sync          SyncConfig          `yaml:"sync" json:"sync"`
	Log           core.LoggerConfig   `yaml:"log" json:"log"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// Default returns a configuration that runs entirely in memory. Auth.Secret
// is left empty and must be provided.
func Default() *AppConfig {
	tracing := otel.DefaultConfig()
	tracing.Exporter = otel.ExporterNone
	return &AppConfig{
		Server:  server.DefaultConfig(),
		Storage: StorageConfig{Driver: StorageMemory, StatsInterval: 15 * time.Second},
		Feed: FeedConfig{
			Driver: FeedMemory,
			Buffer: feed.DefaultBuffer,
			NATS:   feed.NATSConfig{Prefix: "todosync"},
		},
		Auth:          auth.Config{Issuer: "todosyncd", TokenTTL: 24 * time.Hour},
		Sync:          DefaultSyncConfig(),
		Log:           core.LoggerConfig{Level: "info", Format: "text"},
		Observability: ObservabilityConfig{Tracing: tracing},
	}
}

// LoadApp reads path (when non-empty) over the defaults, applies
// TODOSYNC_* overrides and validates the result.
func LoadApp(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		if err := Load(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and cross-section constraints
func (c *AppConfig) Validate() error {
	m := NewManager(c)
	m.AddValidator(RequiredFields("Server.HTTP.Addr", "Server.Realtime.Addr", "Auth.Secret"))
	m.AddValidator(StringLengthValidator("Auth.Secret", 16, 512))
	m.AddValidator(OneOfValidator("Storage.Driver", StorageMemory, StorageSQLite, StoragePostgres, StoragePGX))
	m.AddValidator(OneOfValidator("Feed.Driver", FeedMemory, FeedNATS, FeedPostgres))
	m.AddValidator(OneOfValidator("Log.Level", "debug", "info", "warn", "error"))
	m.AddValidator(OneOfValidator("Log.Format", "text", "json", "logfmt"))
	m.AddValidator(OneOfValidator("Observability.Tracing.Exporter", otel.ExporterNone, otel.ExporterStdout, otel.ExporterZipkin))
	m.AddValidator(RangeValidator("Observability.Tracing.SampleRate", 0, 1))
	m.AddValidator(RangeValidator("Auth.BcryptCost", 0, 31))
	m.AddValidator(DurationRange("Sync.MutationTimeout", time.Second, 0))
	m.AddValidator(DurationRange("Server.ShutdownTimeout", 0, time.Minute))
	m.AddValidator(ValidatorFunc(crossCheck))
	return m.Validate()
}

func crossCheck(v interface{}) error {
	c := v.(*AppConfig)
	if c.Storage.Driver != StorageMemory && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
	}
	if c.Feed.Driver == FeedPostgres && c.Storage.Driver != StoragePGX {
		return fmt.Errorf("feed driver postgres needs storage driver pgx, got %s", c.Storage.Driver)
	}
	if c.Feed.Driver == FeedNATS && c.Feed.NATS.URL == "" {
		return fmt.Errorf("feed.nats.url is required for driver nats")
	}
	if c.Observability.Tracing.Exporter == otel.ExporterZipkin && c.Observability.Tracing.Endpoint == "" {
		return fmt.Errorf("observability.tracing.endpoint is required for zipkin")
	}
	return nil
}
