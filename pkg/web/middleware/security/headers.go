// Package security holds response-hardening and abuse-limiting middleware.
package security

import (
	"strconv"

	"github.com/fluxorio/todosync/pkg/web"
)

// HeadersConfig configures security headers
type HeadersConfig struct {
	// HSTS (HTTP Strict Transport Security)
	HSTS           bool
	HSTSMaxAge     int // in seconds, default 31536000 (1 year)
	HSTSIncludeSub bool

	// CSP (Content Security Policy)
	CSP string

	XFrameOptions       string // DENY or SAMEORIGIN
	XContentTypeOptions bool   // nosniff
	ReferrerPolicy      string

	CrossOriginOpenerPolicy   string
	CrossOriginResourcePolicy string

	// CustomHeaders are set last and win over the fields above
	CustomHeaders map[string]string
}

// DefaultHeadersConfig returns headers suited to a JSON API
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		HSTS:                      true,
		HSTSMaxAge:                31536000,
		HSTSIncludeSub:            true,
		CSP:                       "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
		XFrameOptions:             "DENY",
		XContentTypeOptions:       true,
		ReferrerPolicy:            "no-referrer",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
	}
}

// headerPairs flattens the config once so requests only copy strings
func (c HeadersConfig) headerPairs() [][2]string {
	var out [][2]string
	add := func(k, v string) {
		if v != "" {
			out = append(out, [2]string{k, v})
		}
	}

	if c.HSTS {
		maxAge := c.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = 31536000
		}
		v := "max-age=" + strconv.Itoa(maxAge)
		if c.HSTSIncludeSub {
			v += "; includeSubDomains"
		}
		add("Strict-Transport-Security", v)
	}
	add("Content-Security-Policy", c.CSP)
	add("X-Frame-Options", c.XFrameOptions)
	if c.XContentTypeOptions {
		add("X-Content-Type-Options", "nosniff")
	}
	add("Referrer-Policy", c.ReferrerPolicy)
	add("Cross-Origin-Opener-Policy", c.CrossOriginOpenerPolicy)
	add("Cross-Origin-Resource-Policy", c.CrossOriginResourcePolicy)
	for k, v := range c.CustomHeaders {
		add(k, v)
	}
	return out
}

// Headers middleware adds security headers to responses
func Headers(config HeadersConfig) web.FastMiddleware {
	pairs := config.headerPairs()
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			for _, kv := range pairs {
				ctx.RequestCtx.Response.Header.Set(kv[0], kv[1])
			}
			return next(ctx)
		}
	}
}
