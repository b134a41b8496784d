// Package auth holds the bearer-token middleware for the HTTP API.
package auth

import (
	"fmt"
	"strings"

	authn "github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/web"
	"github.com/valyala/fasthttp"
)

// DefaultClaimsKey is where JWT stores verified claims in the request
const DefaultClaimsKey = "claims"

// Verifier checks a token and returns its claims. *auth.Service implements it.
type Verifier interface {
	Verify(token string) (*authn.Claims, error)
}

// JWTConfig configures JWT authentication
type JWTConfig struct {
	// Verifier validates tokens (required)
	Verifier Verifier

	// ClaimsKey is the key to store claims in request context
	ClaimsKey string

	// TokenLookup is the token lookup pattern (default: "header:Authorization")
	// Format: "header:<name>", "query:<name>", "cookie:<name>"
	TokenLookup string

	// AuthScheme is the authorization scheme (default: "Bearer")
	AuthScheme string

	// SkipPaths is a list of paths to skip authentication
	SkipPaths []string

	// OnError is called when authentication fails
	OnError func(ctx *web.FastRequestContext, err error) error
}

// DefaultJWTConfig returns a default JWT configuration
func DefaultJWTConfig(verifier Verifier) JWTConfig {
	return JWTConfig{
		Verifier:    verifier,
		ClaimsKey:   DefaultClaimsKey,
		TokenLookup: "header:Authorization",
		AuthScheme:  "Bearer",
	}
}

// extractor pulls the raw token out of a request
type extractor func(ctx *web.FastRequestContext) (string, error)

func newExtractor(lookup, scheme string) extractor {
	source, name, ok := strings.Cut(lookup, ":")
	failfast.If(ok && name != "", "token lookup %q must be source:name", lookup)

	switch source {
	case "header":
		return func(ctx *web.FastRequestContext) (string, error) {
			got, token, found := strings.Cut(ctx.Header(name), " ")
			if !found || !strings.EqualFold(got, scheme) {
				return "", fmt.Errorf("expected %s %s", name, scheme)
			}
			return strings.TrimSpace(token), nil
		}
	case "query":
		return func(ctx *web.FastRequestContext) (string, error) {
			return ctx.Query(name), nil
		}
	case "cookie":
		return func(ctx *web.FastRequestContext) (string, error) {
			return string(ctx.RequestCtx.Request.Header.Cookie(name)), nil
		}
	}
	failfast.If(false, "unsupported token source %q", source)
	return nil
}

// JWT verifies the request token and stores its claims under ClaimsKey.
// Fail-fast: panics without a Verifier or on a malformed TokenLookup
func JWT(config JWTConfig) web.FastMiddleware {
	failfast.NotNil(config.Verifier, "verifier")

	defaults := DefaultJWTConfig(config.Verifier)
	if config.ClaimsKey == "" {
		config.ClaimsKey = defaults.ClaimsKey
	}
	if config.TokenLookup == "" {
		config.TokenLookup = defaults.TokenLookup
	}
	if config.AuthScheme == "" {
		config.AuthScheme = defaults.AuthScheme
	}
	extract := newExtractor(config.TokenLookup, config.AuthScheme)

	onError := config.OnError
	if onError == nil {
		challenge := fmt.Sprintf(`%s realm="todosync", error="invalid_token"`, config.AuthScheme)
		onError = func(ctx *web.FastRequestContext, err error) error {
			ctx.RequestCtx.Response.Header.Set("WWW-Authenticate", challenge)
			return ctx.Error(fasthttp.StatusUnauthorized, authn.ErrInvalidToken.Message)
		}
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			path := ctx.Path()
			for _, prefix := range config.SkipPaths {
				if strings.HasPrefix(path, prefix) {
					return next(ctx)
				}
			}

			token, err := extract(ctx)
			if err != nil {
				return onError(ctx, err)
			}
			if token == "" {
				return onError(ctx, fmt.Errorf("token missing"))
			}
			claims, err := config.Verifier.Verify(token)
			if err != nil {
				return onError(ctx, err)
			}
			ctx.Set(config.ClaimsKey, claims)
			return next(ctx)
		}
	}
}

// GetClaims extracts verified claims from the request
func GetClaims(ctx *web.FastRequestContext, key string) (*authn.Claims, error) {
	if key == "" {
		key = DefaultClaimsKey
	}
	claims, ok := ctx.Get(key).(*authn.Claims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("claims not found in context")
	}
	return claims, nil
}

// GetUserID returns the verified token subject
func GetUserID(ctx *web.FastRequestContext, key string) (string, error) {
	claims, err := GetClaims(ctx, key)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("user ID not found in claims")
	}
	return claims.Subject, nil
}
