// Package client talks to todosyncd: a store.Store over the HTTP API and
// the realtime websocket, and an auth.Authenticator over the auth routes.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/valyala/fasthttp"
)

// Config configures the client
type Config struct {
	// BaseURL of the API, e.g. http://localhost:8080
	BaseURL string `yaml:"base_url" json:"base_url"`

	// RealtimeURL of the change stream, e.g. ws://localhost:8081/realtime
	RealtimeURL string `yaml:"realtime_url" json:"realtime_url"`

	// Timeout bounds requests whose context has no deadline. Default: 10s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Buffer is the per-subscription event buffer. Default: feed.DefaultBuffer.
	Buffer int `yaml:"buffer" json:"buffer"`

	Logger core.Logger `yaml:"-" json:"-"`
}

// Credentials supplies the bearer token. *auth.Session implements it.
type Credentials interface {
	Current() (auth.Identity, bool)
}

// Store is the remote store backed by todosyncd
type Store struct {
	base     string
	realtime string
	timeout  time.Duration
	buffer   int
	creds    Credentials
	http     *fasthttp.Client
	logger   core.Logger
}

// NewStore creates a remote store
// Fail-fast: panics without credentials or a base URL
func NewStore(cfg Config, creds Credentials) *Store {
	failfast.NotNil(creds, "creds")
	failfast.NotEmpty(cfg.BaseURL, "BaseURL")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}
	return &Store{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		realtime: cfg.RealtimeURL,
		timeout:  cfg.Timeout,
		buffer:   cfg.Buffer,
		creds:    creds,
		http:     newHTTPClient(),
		logger:   cfg.Logger,
	}
}

func newHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		Name:                "todosync-client",
		MaxConnsPerHost:     16,
		MaxIdleConnDuration: 30 * time.Second,
	}
}

// token returns the bearer token for ownerID
func (s *Store) token(ownerID string) (string, error) {
	id, ok := s.creds.Current()
	if !ok || id.Token == "" || ownerID == "" || id.UserID != ownerID {
		return "", todo.ErrUnauthenticated
	}
	return id.Token, nil
}

// errorBody is the API error shape
type errorBody struct {
	Error string `json:"error"`
}

// exchange performs one request and decodes a 2xx body into out. Non-2xx
// answers come back as *httpError.
func exchange(ctx context.Context, c *fasthttp.Client, timeout time.Duration, method, url, token string, in, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if rid := core.GetRequestID(ctx); rid != "" {
		req.Header.Set(core.RequestIDHeader, rid)
	}
	if in != nil {
		body, err := core.JSONEncode(in)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.DoDeadline(req, resp, deadline)
	} else {
		err = c.DoTimeout(req, resp, timeout)
	}
	if err != nil {
		return err
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		var eb errorBody
		if core.JSONDecode(resp.Body(), &eb) != nil || eb.Error == "" {
			eb.Error = fasthttp.StatusMessage(status)
		}
		return &httpError{Status: status, Message: eb.Error}
	}
	if out == nil || status == fasthttp.StatusNoContent {
		return nil
	}
	return core.JSONDecode(resp.Body(), out)
}

// httpError is a non-2xx answer
type httpError struct {
	Status  int
	Message string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// todoError maps an API answer back to the todo error kinds. Server and
// transport failures become remote errors prefixed with what failed.
func todoError(what string, err error) error {
	var he *httpError
	if !errors.As(err, &he) {
		return todo.Remote(fmt.Errorf("Failed to %s: %w", what, err))
	}
	switch he.Status {
	case fasthttp.StatusBadRequest:
		return todo.Validation(he.Message)
	case fasthttp.StatusUnauthorized:
		return &todo.Error{Kind: todo.KindUnauthenticated, Message: he.Message}
	case fasthttp.StatusNotFound:
		return &todo.Error{Kind: todo.KindNotFound, Message: he.Message}
	case fasthttp.StatusConflict:
		return &todo.Error{Kind: todo.KindConflict, Message: he.Message}
	}
	return todo.Remote(fmt.Errorf("Failed to %s: %s", what, he.Message))
}

type listResponse struct {
	Todos []todo.Item `json:"todos"`
}

func (s *Store) do(ctx context.Context, what, method, path, ownerID string, in, out interface{}) error {
	token, err := s.token(ownerID)
	if err != nil {
		return err
	}
	if err := exchange(ctx, s.http, s.timeout, method, s.base+path, token, in, out); err != nil {
		return todoError(what, err)
	}
	return nil
}

// FetchAll loads the owner's todos, newest first
func (s *Store) FetchAll(ctx context.Context, ownerID string) ([]todo.Item, error) {
	var out listResponse
	if err := s.do(ctx, "fetch todos", fasthttp.MethodGet, "/api/todos", ownerID, nil, &out); err != nil {
		return nil, err
	}
	return out.Todos, nil
}

// Create inserts a todo
func (s *Store) Create(ctx context.Context, ownerID, text string) (todo.Item, error) {
	var it todo.Item
	err := s.do(ctx, "create todo", fasthttp.MethodPost, "/api/todos", ownerID, map[string]string{"text": text}, &it)
	return it, err
}

// Update patches a todo
func (s *Store) Update(ctx context.Context, ownerID, id string, patch todo.Patch) (todo.Item, error) {
	var it todo.Item
	err := s.do(ctx, "update todo", fasthttp.MethodPatch, "/api/todos/"+id, ownerID, patch, &it)
	return it, err
}

// Delete removes a todo
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	return s.do(ctx, "delete todo", fasthttp.MethodDelete, "/api/todos/"+id, ownerID, nil, nil)
}

var _ feed.Source = (*Store)(nil)
