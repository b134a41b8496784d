package web

import (
	"net/http"
	"strings"
	"sync"
)

// Router dispatches fasthttp requests by method and path pattern. Patterns
// use ":name" segments for parameters.
type Router struct {
	routes     []*route
	middleware []FastMiddleware
	mu         sync.RWMutex
}

type route struct {
	method  string
	pattern string
	parts   []string
	handler FastRequestHandler
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{}
}

// Use adds middleware around every route, including unmatched requests
func (r *Router) Use(middleware ...FastMiddleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

func (r *Router) GET(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(http.MethodGet, path, handler, mw...)
}

func (r *Router) POST(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(http.MethodPost, path, handler, mw...)
}

func (r *Router) PUT(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(http.MethodPut, path, handler, mw...)
}

func (r *Router) PATCH(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(http.MethodPatch, path, handler, mw...)
}

func (r *Router) DELETE(path string, handler FastRequestHandler, mw ...FastMiddleware) {
	r.Route(http.MethodDelete, path, handler, mw...)
}

// Route registers handler with route-level middleware applied innermost
func (r *Router) Route(method, path string, handler FastRequestHandler, mw ...FastMiddleware) {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, &route{
		method:  method,
		pattern: path,
		parts:   strings.Split(path, "/"),
		handler: handler,
	})
}

// Serve routes ctx through the global middleware chain
func (r *Router) Serve(ctx *FastRequestContext) error {
	r.mu.RLock()
	handler := r.match(ctx)
	chain := r.middleware
	r.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler(ctx)
}

// match finds the handler for ctx and fills its params
func (r *Router) match(ctx *FastRequestContext) FastRequestHandler {
	parts := strings.Split(ctx.Path(), "/")
	method := ctx.Method()
	pathMatched := false

	for _, rt := range r.routes {
		if !matchParts(rt.parts, parts) {
			continue
		}
		pathMatched = true
		if rt.method != method {
			continue
		}
		ctx.route = rt.pattern
		for i, part := range rt.parts {
			if strings.HasPrefix(part, ":") {
				ctx.Params[part[1:]] = parts[i]
			}
		}
		return rt.handler
	}

	if pathMatched {
		return func(ctx *FastRequestContext) error {
			return ctx.Error(http.StatusMethodNotAllowed, "Method Not Allowed")
		}
	}
	return func(ctx *FastRequestContext) error {
		return ctx.Error(http.StatusNotFound, "Not Found")
	}
}

func matchParts(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, part := range pattern {
		if strings.HasPrefix(part, ":") {
			if path[i] == "" {
				return false
			}
			continue
		}
		if part != path[i] {
			return false
		}
	}
	return true
}
