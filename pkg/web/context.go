package web

import (
	"context"
	"fmt"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/valyala/fasthttp"
)

// FastRequestHandler handles fasthttp requests
type FastRequestHandler func(ctx *FastRequestContext) error

// FastMiddleware is middleware for fasthttp
type FastMiddleware func(handler FastRequestHandler) FastRequestHandler

// FastRequestContext wraps fasthttp RequestCtx with route params, the request
// ID and a cancellable context
type FastRequestContext struct {
	RequestCtx *fasthttp.RequestCtx
	Params     map[string]string

	route     string
	requestID string
	ctx       context.Context
}

// NewFastRequestContext wraps rc. An empty requestID is generated.
func NewFastRequestContext(rc *fasthttp.RequestCtx, requestID string) *FastRequestContext {
	if requestID == "" {
		requestID = core.GenerateRequestID()
	}
	return &FastRequestContext{
		RequestCtx: rc,
		Params:     make(map[string]string),
		requestID:  requestID,
		ctx:        core.WithRequestID(context.Background(), requestID),
	}
}

// JSON writes a JSON response - fail-fast
func (c *FastRequestContext) JSON(statusCode int, data interface{}) error {
	if statusCode < 100 || statusCode > 599 {
		return fmt.Errorf("invalid status code: %d", statusCode)
	}

	jsonData, err := core.JSONEncode(data)
	if err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}

	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("application/json")
	c.RequestCtx.SetBody(jsonData)
	return nil
}

// Error writes {"error": message} with statusCode
func (c *FastRequestContext) Error(statusCode int, message string) error {
	return c.JSON(statusCode, map[string]string{"error": message})
}

// NoContent writes an empty response
func (c *FastRequestContext) NoContent(statusCode int) error {
	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.ResetBody()
	return nil
}

// BindJSON binds the JSON request body to v - fail-fast
func (c *FastRequestContext) BindJSON(v interface{}) error {
	if v == nil {
		return fmt.Errorf("cannot bind to nil value")
	}

	body := c.RequestCtx.PostBody()
	if len(body) == 0 {
		return fmt.Errorf("empty request body")
	}
	return core.JSONDecode(body, v)
}

// Text writes a text response
func (c *FastRequestContext) Text(statusCode int, text string) error {
	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("text/plain; charset=utf-8")
	c.RequestCtx.SetBodyString(text)
	return nil
}

// Query returns a query parameter value
func (c *FastRequestContext) Query(key string) string {
	return string(c.RequestCtx.QueryArgs().Peek(key))
}

// Param returns a path parameter value
func (c *FastRequestContext) Param(key string) string {
	return c.Params[key]
}

// Header returns a request header value
func (c *FastRequestContext) Header(key string) string {
	return string(c.RequestCtx.Request.Header.Peek(key))
}

// Method returns the HTTP method
func (c *FastRequestContext) Method() string {
	return string(c.RequestCtx.Method())
}

// Path returns the request path
func (c *FastRequestContext) Path() string {
	return string(c.RequestCtx.Path())
}

// Route returns the matched route pattern, empty when nothing matched
func (c *FastRequestContext) Route() string {
	return c.route
}

// Set stores a request-scoped value
func (c *FastRequestContext) Set(key string, value interface{}) {
	c.RequestCtx.SetUserValue(key, value)
}

// Get returns a request-scoped value
func (c *FastRequestContext) Get(key string) interface{} {
	return c.RequestCtx.UserValue(key)
}

// RequestID returns the request ID for this request
func (c *FastRequestContext) RequestID() string {
	return c.requestID
}

// Context returns the request context carrying the request ID
func (c *FastRequestContext) Context() context.Context {
	return c.ctx
}

// WithContext replaces the request context; middleware uses it to add
// deadlines
func (c *FastRequestContext) WithContext(ctx context.Context) {
	c.ctx = ctx
}
