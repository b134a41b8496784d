// Package middleware holds the API's cross-cutting request handlers.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/web"
	"github.com/valyala/fasthttp"
)

// RecoveryConfig configures Recovery
type RecoveryConfig struct {
	// Logger receives the panic. Default: core.NewDefaultLogger().
	Logger core.Logger

	// StackTrace adds the goroutine stack to the log entry
	StackTrace bool
}

// Recovery turns a handler panic into a logged 500
func Recovery(config RecoveryConfig) web.FastMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				entry := logger.WithContext(ctx.Context()).WithFields(map[string]interface{}{
					"method": ctx.Method(),
					"path":   ctx.Path(),
				})
				if config.StackTrace {
					entry = entry.WithFields(map[string]interface{}{"stack": string(debug.Stack())})
				}
				entry.Error("handler panicked", "panic", fmt.Sprint(r))
				err = ctx.Error(fasthttp.StatusInternalServerError, "Internal Server Error")
			}()
			return next(ctx)
		}
	}
}
