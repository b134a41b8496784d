package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/web"
	"github.com/valyala/fasthttp"
)

const defaultTimeoutMessage = "Request timeout"

// TimeoutConfig configures Timeout
type TimeoutConfig struct {
	// Timeout must be positive
	Timeout time.Duration

	// Logger receives a warning per timed-out request. Default: core.NewDefaultLogger().
	Logger core.Logger

	// Message is the 504 body. Default: "Request timeout".
	Message string

	// SkipPaths are path prefixes served without a deadline
	SkipPaths []string
}

// DefaultTimeoutConfig returns a config for timeout with the default logger
func DefaultTimeoutConfig(timeout time.Duration) TimeoutConfig {
	return TimeoutConfig{Timeout: timeout, Logger: core.NewDefaultLogger(), Message: defaultTimeoutMessage}
}

// Timeout puts a deadline on the request context. Handlers pass
// ctx.Context() to blocking calls; if the deadline passed when the handler
// returns, the response becomes a 504.
// Fail-fast: panics on a non-positive timeout
func Timeout(config TimeoutConfig) web.FastMiddleware {
	failfast.If(config.Timeout > 0, "timeout must be positive, got %s", config.Timeout)

	logger := config.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	message := config.Message
	if message == "" {
		message = defaultTimeoutMessage
	}

	skip := func(path string) bool {
		for _, prefix := range config.SkipPaths {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			if skip(ctx.Path()) {
				return next(ctx)
			}

			parent := ctx.Context()
			deadline, cancel := context.WithTimeout(parent, config.Timeout)
			defer cancel()
			ctx.WithContext(deadline)
			defer ctx.WithContext(parent)

			err := next(ctx)
			if !errors.Is(deadline.Err(), context.DeadlineExceeded) {
				return err
			}
			logger.WithContext(parent).WithFields(map[string]interface{}{
				"method":  ctx.Method(),
				"path":    ctx.Path(),
				"timeout": config.Timeout.String(),
			}).Warn("request timed out")
			return ctx.Error(fasthttp.StatusGatewayTimeout, message)
		}
	}
}
