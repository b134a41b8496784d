package prometheus

import (
	"strconv"
	"time"

	"github.com/fluxorio/todosync/pkg/web"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// unmatchedRoute labels requests no route matched, keeping label cardinality
// bounded
const unmatchedRoute = "unmatched"

// FastHTTPMetricsMiddleware records request counts and durations by route
// pattern. A nil m uses the global metrics.
func FastHTTPMetricsMiddleware(m *Metrics) web.FastMiddleware {
	if m == nil {
		m = GetMetrics()
	}
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(c *web.FastRequestContext) error {
			began := time.Now()
			err := next(c)
			code := c.RequestCtx.Response.StatusCode()
			if err != nil {
				code = fasthttp.StatusInternalServerError
			}
			m.RecordHTTPRequest(c.Method(), routeLabel(c), statusClass(code), time.Since(began))
			return err
		}
	}
}

func routeLabel(c *web.FastRequestContext) string {
	if r := c.Route(); r != "" {
		return r
	}
	return unmatchedRoute
}

// RegisterMetricsEndpoint serves m on path. A nil m uses the global metrics.
func RegisterMetricsEndpoint(router *web.Router, path string, m *Metrics) {
	if m == nil {
		m = GetMetrics()
	}
	serve := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	router.GET(path, func(c *web.FastRequestContext) error {
		serve(c.RequestCtx)
		return nil
	})
}

// statusClass buckets a status code as "2xx", "4xx" and so on
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
