package security

import (
	"sync"
	"time"

	"github.com/fluxorio/todosync/pkg/web"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per client
	RequestsPerMinute int

	// Burst is the number of requests allowed at once (default: RequestsPerMinute)
	Burst int

	// KeyFunc identifies the client (default: remote IP)
	KeyFunc func(ctx *web.FastRequestContext) string

	// OnLimitReached is called when rate limit is exceeded
	// If nil, returns 429 Too Many Requests
	OnLimitReached func(ctx *web.FastRequestContext) error

	// IdleTTL drops limiters of clients idle this long (default: 10m)
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns a default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 100,
		IdleTTL:           10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	config RateLimitConfig
	limit  rate.Limit
	burst  int

	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

// NewRateLimiter creates a limiter from config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute < 1 {
		config.RequestsPerMinute = 100
	}
	if config.Burst < 1 {
		config.Burst = config.RequestsPerMinute
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	if config.KeyFunc == nil {
		config.KeyFunc = func(ctx *web.FastRequestContext) string {
			return ctx.RequestCtx.RemoteIP().String()
		}
	}
	return &RateLimiter{
		config:  config,
		limit:   rate.Every(time.Minute / time.Duration(config.RequestsPerMinute)),
		burst:   config.Burst,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle longer than IdleTTL and returns how many
func (rl *RateLimiter) Sweep() int {
	cutoff := rl.now().Add(-rl.config.IdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			n++
		}
	}
	return n
}

// Middleware enforces the limit
func (rl *RateLimiter) Middleware() web.FastMiddleware {
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			if rl.Allow(rl.config.KeyFunc(ctx)) {
				return next(ctx)
			}
			if rl.config.OnLimitReached != nil {
				return rl.config.OnLimitReached(ctx)
			}
			return ctx.Error(fasthttp.StatusTooManyRequests, "Too many requests")
		}
	}
}

// RateLimit middleware enforces rate limiting with a fresh limiter
func RateLimit(config RateLimitConfig) web.FastMiddleware {
	return NewRateLimiter(config).Middleware()
}
