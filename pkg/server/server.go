// Package server is the todosyncd backend: the fasthttp JSON API and the
// websocket change stream the client core reconciles against.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/observability/otel"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/store"
	"github.com/fluxorio/todosync/pkg/web"
	"github.com/fluxorio/todosync/pkg/web/middleware"
	jwtmw "github.com/fluxorio/todosync/pkg/web/middleware/auth"
	"github.com/fluxorio/todosync/pkg/web/middleware/security"
)

// Config configures both listeners
type Config struct {
	HTTP     web.FastHTTPServerConfig `yaml:"http" json:"http"`
	Realtime RealtimeConfig           `yaml:"realtime" json:"realtime"`

	// RequestTimeout bounds each API request. Default: 10s.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// AuthRateLimit is the per-IP requests per minute on register and login.
	// Default: 20.
	AuthRateLimit int `yaml:"auth_rate_limit" json:"auth_rate_limit"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		HTTP:            *web.DefaultFastHTTPServerConfig(":8080"),
		Realtime:        DefaultRealtimeConfig(":8081"),
		RequestTimeout:  10 * time.Second,
		AuthRateLimit:   20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators the server is built from
type Deps struct {
	Store   store.Store
	Auth    *auth.Service
	Logger  core.Logger
	Metrics *prometheus.Metrics
}

// Server runs the API and the realtime stream
type Server struct {
	config   Config
	logger   core.Logger
	api      *API
	http     *web.FastHTTPServer
	realtime *Realtime
	rtServer *http.Server
	limiter  *security.RateLimiter
}

// New wires routes and middleware
// Fail-fast: panics without a store or credential service
func New(config Config, deps Deps) *Server {
	failfast.NotNil(deps.Store, "store")
	failfast.NotNil(deps.Auth, "auth")
	logger := deps.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = prometheus.GetMetrics()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.AuthRateLimit <= 0 {
		config.AuthRateLimit = 20
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config:   config,
		logger:   logger,
		api:      NewAPI(deps.Store, deps.Auth, logger),
		http:     web.NewFastHTTPServer(&config.HTTP, logger),
		realtime: NewRealtime(deps.Store, deps.Auth, config.Realtime, logger, metrics),
		limiter: security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerMinute: config.AuthRateLimit,
			Burst:             config.AuthRateLimit / 4,
		}),
	}
	s.rtServer = &http.Server{
		Addr:              config.Realtime.Addr,
		Handler:           s.realtime.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.routes(metrics)
	return s
}

func (s *Server) routes(metrics *prometheus.Metrics) {
	r := s.http.Router()
	r.Use(
		middleware.Recovery(middleware.RecoveryConfig{Logger: s.logger, StackTrace: true}),
		security.Headers(security.DefaultHeadersConfig()),
		prometheus.FastHTTPMetricsMiddleware(metrics),
	)
	if otel.IsInitialized() {
		r.Use(otel.HTTPMiddleware())
	}
	r.Use(middleware.Timeout(middleware.TimeoutConfig{
		Timeout:   s.config.RequestTimeout,
		Logger:    s.logger,
		SkipPaths: []string{"/metrics"},
	}))

	limit := s.limiter.Middleware()
	r.POST("/api/auth/register", s.api.Register, limit)
	r.POST("/api/auth/login", s.api.Login, limit)

	authn := jwtmw.JWT(jwtmw.DefaultJWTConfig(s.api.auth))
	r.GET("/api/todos", s.api.List, authn)
	r.POST("/api/todos", s.api.Create, authn)
	r.PATCH("/api/todos/:id", s.api.Update, authn)
	r.DELETE("/api/todos/:id", s.api.Delete, authn)

	r.GET("/healthz", s.api.Health)
	prometheus.RegisterMetricsEndpoint(r, "/metrics", metrics)
}

// API returns the handlers, e.g. to register health checks
func (s *Server) API() *API {
	return s.api
}

// HTTP returns the fasthttp server
func (s *Server) HTTP() *web.FastHTTPServer {
	return s.http
}

// Realtime returns the websocket hub
func (s *Server) Realtime() *Realtime {
	return s.realtime
}

// Run listens on the configured addresses and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	apiLn, err := net.Listen("tcp", s.config.HTTP.Addr)
	if err != nil {
		return &core.Error{Code: "LISTEN_FAILED", Message: "api listen: " + err.Error()}
	}
	rtLn, err := net.Listen("tcp", s.config.Realtime.Addr)
	if err != nil {
		_ = apiLn.Close()
		return &core.Error{Code: "LISTEN_FAILED", Message: "realtime listen: " + err.Error()}
	}
	return s.Serve(ctx, apiLn, rtLn)
}

// Serve serves on the given listeners until ctx is done or one of them
// fails, then shuts both down.
func (s *Server) Serve(ctx context.Context, apiLn, rtLn net.Listener) error {
	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("api listening", "addr", apiLn.Addr().String())
		errCh <- s.http.Serve(apiLn)
	}()
	go func() {
		s.logger.Info("realtime listening", "addr", rtLn.Addr().String(), "path", s.realtime.config.Path)
		errCh <- s.rtServer.Serve(rtLn)
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.sweep(sweepCtx)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}
	if err := s.Shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.Debug("rate limiter swept", "clients", n)
			}
		}
	}
}

// Shutdown disconnects realtime clients and drains both listeners
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down", "realtime_clients", s.realtime.Clients())
	_ = s.realtime.Close()
	rtErr := s.rtServer.Shutdown(ctx)
	apiErr := s.http.Shutdown(ctx)
	if apiErr != nil {
		return apiErr
	}
	return rtErr
}
