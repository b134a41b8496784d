package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxorio/todosync/pkg/config"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/observability/otel"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.Secret = testSecret
	cfg.Auth.BcryptCost = 4
	cfg.Server.HTTP.Addr = "127.0.0.1:0"
	cfg.Server.Realtime.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AppConfig)
		pools  int
	}{
		{"memory", func(*config.AppConfig) {}, 0},
		{"sqlite", func(c *config.AppConfig) {
			c.Storage.Driver = config.StorageSQLite
			c.Storage.DSN = filepath.Join(t.TempDir(), "todos.db")
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			d, err := build(context.Background(), cfg, core.NewNopLogger(), prometheus.NewMetrics())
			require.NoError(t, err)
			assert.Len(t, d.pools, tt.pools)
			_, notifying := d.store.(*store.Notifying)
			assert.True(t, notifying)

			ctx := context.Background()
			item, err := d.store.Create(ctx, "alice", "buy milk")
			require.NoError(t, err)
			items, err := d.store.FetchAll(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, item.ID, items[0].ID)

			require.NoError(t, d.close(ctx))
			for _, p := range d.pools {
				assert.Error(t, p.Ping(ctx), "pool closed")
			}
		})
	}
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AppConfig)
	}{
		{"unknown storage", func(c *config.AppConfig) { c.Storage.Driver = "mongo" }},
		{"unknown feed", func(c *config.AppConfig) { c.Feed.Driver = "kafka" }},
		{"postgres feed without pgx", func(c *config.AppConfig) { c.Feed.Driver = config.FeedPostgres }},
		{"unreachable nats", func(c *config.AppConfig) {
			c.Feed.Driver = config.FeedNATS
			c.Feed.NATS.URL = "nats://127.0.0.1:1"
		}},
		{"bad tracing exporter", func(c *config.AppConfig) { c.Observability.Tracing.Exporter = "jaeger" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			d, err := build(context.Background(), cfg, core.NewNopLogger(), prometheus.NewMetrics())
			assert.Error(t, err)
			assert.Nil(t, d)
		})
	}
}

func TestBuildWithTracing(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(t)
	cfg.Observability.Tracing.Exporter = otel.ExporterStdout
	cfg.Observability.Tracing.Writer = &buf

	d, err := build(context.Background(), cfg, core.NewNopLogger(), prometheus.NewMetrics())
	require.NoError(t, err)
	_, traced := d.store.(*store.Traced)
	assert.True(t, traced)
	assert.True(t, otel.IsInitialized())

	_, err = d.store.Create(context.Background(), "alice", "trace me")
	require.NoError(t, err)

	require.NoError(t, d.close(context.Background()))
	assert.False(t, otel.IsInitialized())
	assert.Contains(t, buf.String(), "store.Create")
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = config.StorageSQLite
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "todos.db")
	cfg.Storage.StatsInterval = 10 * time.Millisecond

	d, err := build(context.Background(), cfg, core.NewNopLogger(), prometheus.NewMetrics())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Empty(t, d.closers)
}

func TestConfigCommandRedactsSecret(t *testing.T) {
	t.Setenv("TODOSYNC_AUTH_SECRET", testSecret)

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "driver: memory")
	assert.Contains(t, out.String(), "********")
	assert.NotContains(t, out.String(), testSecret)
}
