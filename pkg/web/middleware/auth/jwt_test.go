package auth

import (
	"context"
	"testing"
	"time"

	authn "github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
)

func newService(t *testing.T) (*authn.Service, authn.Identity) {
	t.Helper()
	svc := authn.NewService(authn.NewMemoryUsers(), authn.Config{
		Secret:     "test-secret",
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	ctx := context.Background()
	_, err := svc.Register(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	id, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	return svc, id
}

func request(header, query string) *web.FastRequestContext {
	rc := &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI("/api/todos" + query)
	if header != "" {
		rc.Request.Header.Set("Authorization", header)
	}
	return web.NewFastRequestContext(rc, "")
}

func whoami(ctx *web.FastRequestContext) error {
	id, err := GetUserID(ctx, "")
	if err != nil {
		return err
	}
	return ctx.Text(200, id)
}

func TestJWT(t *testing.T) {
	svc, id := newService(t)
	mw := JWT(DefaultJWTConfig(svc))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + id.Token, 200, id.UserID},
		{"lowercase scheme", "bearer " + id.Token, 200, id.UserID},
		{"missing", "", 401, `{"error":"Invalid or expired token"}`},
		{"wrong scheme", "Basic " + id.Token, 401, `{"error":"Invalid or expired token"}`},
		{"garbage", "Bearer nope", 401, `{"error":"Invalid or expired token"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := request(tt.header, "")
			require.NoError(t, mw(whoami)(ctx))
			assert.Equal(t, tt.status, ctx.RequestCtx.Response.StatusCode())
			assert.Equal(t, tt.body, string(ctx.RequestCtx.Response.Body()))
		})
	}
}

func TestJWTQueryLookupAndSkip(t *testing.T) {
	svc, id := newService(t)
	cfg := DefaultJWTConfig(svc)
	cfg.TokenLookup = "query:token"
	cfg.SkipPaths = []string{"/healthz"}
	mw := JWT(cfg)

	ctx := request("", "?token="+id.Token)
	require.NoError(t, mw(whoami)(ctx))
	assert.Equal(t, id.UserID, string(ctx.RequestCtx.Response.Body()))

	rc := &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI("/healthz")
	ctx = web.NewFastRequestContext(rc, "")
	require.NoError(t, mw(func(ctx *web.FastRequestContext) error { return ctx.Text(200, "ok") })(ctx))
	assert.Equal(t, 200, ctx.RequestCtx.Response.StatusCode())
}

func TestJWTConfigPanics(t *testing.T) {
	assert.Panics(t, func() { JWT(JWTConfig{}) })

	svc, _ := newService(t)
	assert.Panics(t, func() { JWT(JWTConfig{Verifier: svc, TokenLookup: "header"}) })
	assert.Panics(t, func() { JWT(JWTConfig{Verifier: svc, TokenLookup: "form:token"}) })
}

func TestJWTCookieLookup(t *testing.T) {
	svc, id := newService(t)
	cfg := DefaultJWTConfig(svc)
	cfg.TokenLookup = "cookie:session"
	mw := JWT(cfg)

	ctx := request("", "")
	ctx.RequestCtx.Request.Header.SetCookie("session", id.Token)
	require.NoError(t, mw(whoami)(ctx))
	assert.Equal(t, id.UserID, string(ctx.RequestCtx.Response.Body()))

	ctx = request("Bearer "+id.Token, "")
	require.NoError(t, mw(whoami)(ctx))
	assert.Equal(t, 401, ctx.RequestCtx.Response.StatusCode(), "header is ignored with a cookie lookup")
}

func TestGetClaimsMissing(t *testing.T) {
	_, err := GetUserID(request("", ""), "")
	assert.Error(t, err)
}
