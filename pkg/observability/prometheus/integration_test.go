package prometheus

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/fluxorio/todosync/pkg/web"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func serve(t *testing.T, s *web.FastHTTPServer) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
}

func get(t *testing.T, c *fasthttp.Client, path string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://test" + path)
	require.NoError(t, c.Do(req, resp))
	return resp.StatusCode(), string(resp.Body())
}

func TestMetricsMiddlewareLabelsByRoute(t *testing.T) {
	m := NewMetrics()
	s := web.NewFastHTTPServer(web.DefaultFastHTTPServerConfig(":0"), nil)
	s.Router().Use(FastHTTPMetricsMiddleware(m))
	s.Router().GET("/api/todos/:id", func(ctx *web.FastRequestContext) error {
		return ctx.JSON(200, map[string]string{"id": ctx.Param("id")})
	})
	s.Router().GET("/boom", func(ctx *web.FastRequestContext) error {
		return errors.New("boom")
	})
	RegisterMetricsEndpoint(s.Router(), "/metrics", m)
	c := serve(t, s)

	status, _ := get(t, c, "/api/todos/a")
	require.Equal(t, 200, status)
	get(t, c, "/api/todos/b")
	get(t, c, "/nowhere")
	status, _ = get(t, c, "/boom")
	assert.Equal(t, 500, status)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/todos/:id", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/boom", "5xx")))

	status, body := get(t, c, "/metrics")
	require.Equal(t, 200, status)
	assert.True(t, strings.Contains(body, "todosync_http_requests_total"))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 101: "1xx", 301: "3xx", 404: "4xx", 503: "5xx", 0: "unknown", 600: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code), "code %d", code)
	}
}
