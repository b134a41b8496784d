package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/config"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/db"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/observability/otel"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/server"
	"github.com/fluxorio/todosync/pkg/store"
	"github.com/fluxorio/todosync/pkg/store/pgstore"
	"github.com/fluxorio/todosync/pkg/store/sqlstore"
)

// daemon is one assembled todosyncd instance
type daemon struct {
	cfg     *config.AppConfig
	logger  core.Logger
	server  *server.Server
	store   store.Store
	pools   []*db.Pool
	closers []func(context.Context) error
}

// build wires storage, feed, credentials and tracing into a server. On error
// everything opened so far is closed.
func build(ctx context.Context, cfg *config.AppConfig, logger core.Logger, metrics *prometheus.Metrics) (d *daemon, err error) {
	d = &daemon{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = d.close(context.Background())
			d = nil
		}
	}()

	tracing := cfg.Observability.Tracing.Exporter != otel.ExporterNone
	if tracing {
		if err := otel.Initialize(ctx, cfg.Observability.Tracing); err != nil {
			return d, fmt.Errorf("tracing: %w", err)
		}
		d.closers = append(d.closers, otel.Shutdown)
		logger.Info("tracing enabled", "exporter", cfg.Observability.Tracing.Exporter)
	}

	var (
		repo   store.Repository
		users  auth.UserStore
		checks = map[string]server.HealthCheck{}
		pgRepo *pgstore.Repository
	)
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		repo = store.NewMemory()
		users = auth.NewMemoryUsers()
	case config.StorageSQLite, config.StoragePostgres:
		s, err := sqlstore.Open(ctx, cfg.Storage.Pool(), metrics)
		if err != nil {
			return d, fmt.Errorf("storage: %w", err)
		}
		repo, users = s, s
		d.pools = append(d.pools, s.Pool())
		checks["database"] = s.Pool().Ping
	case config.StoragePGX:
		r, err := pgstore.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return d, fmt.Errorf("storage: %w", err)
		}
		pgRepo, repo = r, r
		checks["database"] = r.Pool().Ping

		// accounts live in the same database through database/sql
		pool := cfg.Storage.Pool()
		pool.DriverName = db.DriverPostgres
		u, err := sqlstore.Open(ctx, pool, metrics)
		if err != nil {
			_ = r.Close()
			return d, fmt.Errorf("user storage: %w", err)
		}
		users = u
		d.pools = append(d.pools, u.Pool())
		d.closers = append(d.closers, func(context.Context) error { return u.Close() })
	default:
		return d, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	var st store.Store
	switch cfg.Feed.Driver {
	case config.FeedMemory:
		st = store.NewNotifying(repo, feed.NewMemory(
			feed.WithBuffer(cfg.Feed.Buffer),
			feed.WithLogger(logger),
			feed.WithMetrics(metrics),
		), logger)
	case config.FeedNATS:
		natsCfg := cfg.Feed.NATS
		if natsCfg.Buffer <= 0 {
			natsCfg.Buffer = cfg.Feed.Buffer
		}
		if natsCfg.Name == "" {
			natsCfg.Name = "todosyncd"
		}
		broker, err := feed.NewNATS(natsCfg, logger, metrics)
		if err != nil {
			closeRepo(repo)
			return d, fmt.Errorf("feed: %w", err)
		}
		st = store.NewNotifying(repo, broker, logger)
	case config.FeedPostgres:
		if pgRepo == nil {
			closeRepo(repo)
			return d, fmt.Errorf("feed driver postgres needs storage driver pgx")
		}
		st = store.Compose(repo, pgstore.NewListener(pgRepo.Pool(), logger, metrics))
	default:
		closeRepo(repo)
		return d, fmt.Errorf("unknown feed driver %q", cfg.Feed.Driver)
	}
	if tracing {
		st = store.NewTraced(st, otel.TracerProvider())
	}
	d.store = st
	d.closers = append(d.closers, func(context.Context) error {
		if c, ok := st.(store.Closer); ok {
			return c.Close()
		}
		return nil
	})

	d.server = server.New(cfg.Server, server.Deps{
		Store:   st,
		Auth:    auth.NewService(users, cfg.Auth),
		Logger:  logger,
		Metrics: metrics,
	})
	for name, check := range checks {
		d.server.API().AddHealthCheck(name, check)
	}

	logger.Info("todosyncd configured",
		"storage", cfg.Storage.Driver,
		"feed", cfg.Feed.Driver,
		"api", cfg.Server.HTTP.Addr,
		"realtime", cfg.Server.Realtime.Addr)
	return d, nil
}

func closeRepo(repo store.Repository) {
	if c, ok := repo.(store.Closer); ok {
		_ = c.Close()
	}
}

// run serves until ctx is done, then releases every resource
func (d *daemon) run(ctx context.Context) error {
	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go d.reportStats(statsCtx)

	err := d.server.Run(ctx)
	stopStats()

	closeCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()
	if cerr := d.close(closeCtx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (d *daemon) reportStats(ctx context.Context) {
	interval := d.cfg.Storage.StatsInterval
	if interval <= 0 || len(d.pools) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range d.pools {
				p.ReportStats()
			}
		}
	}
}

// close runs the closers in reverse order of acquisition
func (d *daemon) close(ctx context.Context) error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			d.logger.Warn("close failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	d.closers = nil
	return first
}
