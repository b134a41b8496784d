package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/valyala/fasthttp"
)

// Auth calls the credential routes of todosyncd
type Auth struct {
	base    string
	timeout time.Duration
	http    *fasthttp.Client
}

// NewAuth creates an auth client
// Fail-fast: panics without a base URL
func NewAuth(cfg Config) *Auth {
	failfast.NotEmpty(cfg.BaseURL, "BaseURL")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Auth{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    newHTTPClient(),
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authError maps an API answer back to the auth error codes
func authError(err error) error {
	var he *httpError
	if !errors.As(err, &he) {
		return fmt.Errorf("auth request: %w", err)
	}
	code := ""
	switch he.Status {
	case fasthttp.StatusBadRequest:
		code = auth.CodeInvalidInput
	case fasthttp.StatusConflict:
		code = auth.CodeConflict
	case fasthttp.StatusUnauthorized:
		code = auth.CodeUnauthorized
	case fasthttp.StatusNotFound:
		code = auth.CodeNotFound
	default:
		return fmt.Errorf("auth request: %w", err)
	}
	return &auth.Error{Code: code, Message: he.Message}
}

// Register creates an account
func (a *Auth) Register(ctx context.Context, email, password string) error {
	err := exchange(ctx, a.http, a.timeout, fasthttp.MethodPost, a.base+"/api/auth/register", "",
		credentials{Email: email, Password: password}, nil)
	if err != nil {
		return authError(err)
	}
	return nil
}

// Login exchanges credentials for an identity
func (a *Auth) Login(ctx context.Context, email, password string) (auth.Identity, error) {
	var id auth.Identity
	err := exchange(ctx, a.http, a.timeout, fasthttp.MethodPost, a.base+"/api/auth/login", "",
		credentials{Email: email, Password: password}, &id)
	if err != nil {
		return auth.Identity{}, authError(err)
	}
	return id, nil
}

var _ auth.Authenticator = (*Auth)(nil)
