package web

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/valyala/fasthttp"
)

// FastHTTPServerConfig configures the fasthttp server
type FastHTTPServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`

	// MaxInFlight caps concurrent requests; the rest get 503. 0 disables it.
	MaxInFlight int `yaml:"max_in_flight" json:"max_in_flight"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxConnsPerIP   int           `yaml:"max_conns_per_ip" json:"max_conns_per_ip"`
	ReadBufferSize  int           `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" json:"write_buffer_size"`
	MaxBodySize     int           `yaml:"max_body_size" json:"max_body_size"`
}

// DefaultFastHTTPServerConfig returns the default configuration
func DefaultFastHTTPServerConfig(addr string) *FastHTTPServerConfig {
	return &FastHTTPServerConfig{
		Addr:            addr,
		MaxInFlight:     1000,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		MaxBodySize:     64 * 1024,
	}
}

// FastHTTPServer serves a Router over fasthttp with request IDs and
// backpressure
type FastHTTPServer struct {
	router       *Router
	server       *fasthttp.Server
	addr         string
	logger       core.Logger
	backpressure *BackpressureController

	totalRequests      atomic.Int64
	rejectedRequests   atomic.Int64
	successfulRequests atomic.Int64
	errorRequests      atomic.Int64
}

// NewFastHTTPServer creates a server; nil config means the defaults on :8080
func NewFastHTTPServer(config *FastHTTPServerConfig, logger core.Logger) *FastHTTPServer {
	if config == nil {
		config = DefaultFastHTTPServerConfig(":8080")
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}

	s := &FastHTTPServer{
		router:       NewRouter(),
		addr:         config.Addr,
		logger:       logger,
		backpressure: NewBackpressureController(config.MaxInFlight),
	}
	s.server = &fasthttp.Server{
		Handler:               s.handleRequest,
		Name:                  "todosyncd",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		MaxConnsPerIP:         config.MaxConnsPerIP,
		ReadBufferSize:        config.ReadBufferSize,
		WriteBufferSize:       config.WriteBufferSize,
		MaxRequestBodySize:    config.MaxBodySize,
		NoDefaultServerHeader: true,
		ReduceMemoryUsage:     true,
	}
	return s
}

// Router returns the router
func (s *FastHTTPServer) Router() *Router {
	return s.router
}

// Handler exposes the raw fasthttp handler
func (s *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return s.handleRequest
}

// ListenAndServe blocks serving on the configured address
func (s *FastHTTPServer) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.addr)
	return s.server.ListenAndServe(s.addr)
}

// Serve blocks serving on ln
func (s *FastHTTPServer) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown stops accepting connections and waits for requests in flight
func (s *FastHTTPServer) Shutdown(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}

// ServerMetrics provides server counters
type ServerMetrics struct {
	TotalRequests      int64
	RejectedRequests   int64
	SuccessfulRequests int64
	ErrorRequests      int64
	InFlight           int64
	Utilization        float64
}

// Metrics returns current server metrics
func (s *FastHTTPServer) Metrics() ServerMetrics {
	bp := s.backpressure.GetMetrics()
	return ServerMetrics{
		TotalRequests:      s.totalRequests.Load(),
		RejectedRequests:   s.rejectedRequests.Load(),
		SuccessfulRequests: s.successfulRequests.Load(),
		ErrorRequests:      s.errorRequests.Load(),
		InFlight:           bp.CurrentLoad,
		Utilization:        bp.Utilization,
	}
}

// handleRequest applies backpressure then routes the request. Handler
// errors that wrote no response become a 500.
func (s *FastHTTPServer) handleRequest(rc *fasthttp.RequestCtx) {
	s.totalRequests.Add(1)

	requestID := string(rc.Request.Header.Peek(core.RequestIDHeader))
	ctx := NewFastRequestContext(rc, requestID)
	rc.Response.Header.Set(core.RequestIDHeader, ctx.RequestID())

	if !s.backpressure.TryAcquire() {
		s.rejectedRequests.Add(1)
		_ = ctx.Error(fasthttp.StatusServiceUnavailable, "Server overloaded")
		return
	}
	defer s.backpressure.Release()

	if err := s.router.Serve(ctx); err != nil {
		s.logger.WithContext(ctx.Context()).Error("handler failed",
			"method", ctx.Method(), "path", ctx.Path(), "error", err)
		var coded *core.Error
		if errors.As(err, &coded) {
			_ = ctx.Error(fasthttp.StatusInternalServerError, coded.Message)
		} else {
			_ = ctx.Error(fasthttp.StatusInternalServerError, "Internal Server Error")
		}
	}

	status := rc.Response.StatusCode()
	switch {
	case status >= 200 && status < 300:
		s.successfulRequests.Add(1)
	case status >= 500:
		s.errorRequests.Add(1)
	}
}
