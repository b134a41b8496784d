package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/todo"
	jwtmw "github.com/fluxorio/todosync/pkg/web/middleware/auth"
	"github.com/gorilla/websocket"
)

// RealtimeConfig configures the websocket change stream
type RealtimeConfig struct {
	Addr string `yaml:"addr" json:"addr"`

	// Path is where clients connect. Default: /realtime.
	Path string `yaml:"path" json:"path"`

	// PingInterval must be shorter than PongWait
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`
	PongWait     time.Duration `yaml:"pong_wait" json:"pong_wait"`

	// WriteWait bounds each frame write; a client slower than this is dropped
	WriteWait time.Duration `yaml:"write_wait" json:"write_wait"`

	// AllowedOrigins lists accepted Origin headers; empty accepts any
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// DefaultRealtimeConfig returns the default configuration
func DefaultRealtimeConfig(addr string) RealtimeConfig {
	return RealtimeConfig{
		Addr:         addr,
		Path:         "/realtime",
		PingInterval: 25 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

func (c RealtimeConfig) withDefaults() RealtimeConfig {
	d := DefaultRealtimeConfig(c.Addr)
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	return c
}

// Realtime streams each authenticated owner's change events over a
// websocket. Clients only receive; anything they send besides control
// frames is discarded.
type Realtime struct {
	source   feed.Source
	verifier jwtmw.Verifier
	config   RealtimeConfig
	logger   core.Logger
	metrics  *prometheus.Metrics
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	clients map[*rtClient]struct{}
}

type rtClient struct {
	conn   *websocket.Conn
	sub    *feed.Subscription
	owner  string
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRealtime creates the hub
// Fail-fast: panics without a source or verifier
func NewRealtime(source feed.Source, verifier jwtmw.Verifier, config RealtimeConfig, logger core.Logger, metrics *prometheus.Metrics) *Realtime {
	failfast.NotNil(source, "source")
	failfast.NotNil(verifier, "verifier")
	if logger == nil {
		logger = core.NewNopLogger()
	}
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	h := &Realtime{
		source:   source,
		verifier: verifier,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*rtClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Realtime) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler serves the hub on the configured path
func (h *Realtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(h.config.Path, h)
	return mux
}

// Clients reports the number of connected clients
func (h *Realtime) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func writeHTTPError(w http.ResponseWriter, status int, message string) {
	body, _ := core.JSONEncode(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func bearer(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// ServeHTTP authenticates, subscribes and upgrades. The subscription is
// opened before the upgrade so a feed failure is still a plain HTTP error.
func (h *Realtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(core.RequestIDHeader)
	if requestID == "" {
		requestID = core.GenerateRequestID()
	}
	logger := h.logger.WithContext(core.WithRequestID(r.Context(), requestID))

	if h.ctx.Err() != nil {
		writeHTTPError(w, http.StatusServiceUnavailable, "Server shutting down")
		return
	}
	claims, err := h.verifier.Verify(bearer(r))
	if err != nil {
		writeHTTPError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	ctx, cancel := context.WithCancel(h.ctx)
	sub, err := h.source.Subscribe(ctx, claims.Subject)
	if err != nil {
		cancel()
		logger.Error("realtime subscribe failed", "user_id", claims.Subject, "error", err)
		writeHTTPError(w, http.StatusServiceUnavailable, "Real-time feed unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, http.Header{core.RequestIDHeader: []string{requestID}})
	if err != nil {
		cancel()
		_ = sub.Release()
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &rtClient{conn: conn, sub: sub, owner: claims.Subject, ctx: ctx, cancel: cancel}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		_ = sub.Release()
		h.close(c, websocket.CloseGoingAway, "")
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()
	h.metrics.RealtimeClientsDelta(1)
	logger.Debug("realtime client connected", "user_id", c.owner)

	go h.readPump(c)
	h.writePump(c, logger)
}

func (h *Realtime) remove(c *rtClient) {
	c.cancel()
	_ = c.sub.Release()
	_ = c.conn.Close()

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.metrics.RealtimeClientsDelta(-1)
	h.wg.Done()
}

// readPump keeps the read deadline fresh on pongs and ends the client when
// the peer goes away.
func (h *Realtime) readPump(c *rtClient) {
	defer c.cancel()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("realtime read failed", "user_id", c.owner, "error", err)
			}
			return
		}
	}
}

// writePump is the only writer of data frames on c.conn
func (h *Realtime) writePump(c *rtClient, logger core.Logger) {
	defer h.remove(c)
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			h.close(c, websocket.CloseGoingAway, "")
			return

		case ev := <-c.sub.Events():
			if err := h.send(c, ev); err != nil {
				logger.Debug("realtime write failed, dropping client", "user_id", c.owner, "error", err)
				return
			}

		case <-c.sub.Done():
		drain:
			for {
				select {
				case ev := <-c.sub.Events():
					if h.send(c, ev) != nil {
						return
					}
				default:
					break drain
				}
			}
			err := c.sub.Err()
			switch {
			case errors.Is(err, feed.ErrReleased):
				h.close(c, websocket.CloseGoingAway, "")
			case errors.Is(err, feed.ErrSlowConsumer):
				logger.Warn("realtime client too slow, dropping", "user_id", c.owner)
				h.close(c, websocket.CloseTryAgainLater, "too slow")
			default:
				logger.Warn("realtime feed ended", "user_id", c.owner, "error", err)
				h.close(c, websocket.CloseInternalServerErr, "feed ended")
			}
			return

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Realtime) send(c *rtClient, ev todo.Event) error {
	data, err := todo.EncodeEvent(ev)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Realtime) close(c *rtClient, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.config.WriteWait))
}

// Close disconnects every client and refuses new ones
func (h *Realtime) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	h.wg.Wait()
	return nil
}
