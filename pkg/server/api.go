package server

import (
	"context"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/store"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/fluxorio/todosync/pkg/web"
	jwtmw "github.com/fluxorio/todosync/pkg/web/middleware/auth"
	"github.com/valyala/fasthttp"
)

// CredentialsRequest is the body of register and login
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is returned by a successful registration
type RegisterResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CreateRequest is the body of POST /api/todos
type CreateRequest struct {
	Text string `json:"text"`
}

// ListResponse is the body of GET /api/todos
type ListResponse struct {
	Todos []todo.Item `json:"todos"`
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// API holds the HTTP handlers for auth and todo CRUD
type API struct {
	repo    store.Repository
	auth    *auth.Service
	logger  core.Logger
	checks  map[string]HealthCheck
	started time.Time
}

// NewAPI creates the handlers
// Fail-fast: panics without a repository or credential service
func NewAPI(repo store.Repository, authService *auth.Service, logger core.Logger) *API {
	failfast.NotNil(repo, "repo")
	failfast.NotNil(authService, "authService")
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &API{
		repo:    repo,
		auth:    authService,
		logger:  logger,
		checks:  make(map[string]HealthCheck),
		started: time.Now(),
	}
}

// AddHealthCheck registers a named check reported by /healthz
func (a *API) AddHealthCheck(name string, check HealthCheck) {
	failfast.NotEmpty(name, "name")
	failfast.NotNil(check, "check")
	a.checks[name] = check
}

// Register handles POST /api/auth/register
func (a *API) Register(ctx *web.FastRequestContext) error {
	var req CredentialsRequest
	if err := ctx.BindJSON(&req); err != nil {
		return ctx.Error(fasthttp.StatusBadRequest, msgInvalidJSON)
	}

	u, err := a.auth.Register(ctx.Context(), req.Email, req.Password)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	a.logger.WithContext(ctx.Context()).Info("user registered", "user_id", u.ID)
	return ctx.JSON(fasthttp.StatusCreated, RegisterResponse{ID: u.ID, Email: u.Email})
}

// Login handles POST /api/auth/login
func (a *API) Login(ctx *web.FastRequestContext) error {
	var req CredentialsRequest
	if err := ctx.BindJSON(&req); err != nil {
		return ctx.Error(fasthttp.StatusBadRequest, msgInvalidJSON)
	}

	id, err := a.auth.Login(ctx.Context(), req.Email, req.Password)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	return ctx.JSON(fasthttp.StatusOK, id)
}

// owner is the verified token subject
func owner(ctx *web.FastRequestContext) (string, error) {
	id, err := jwtmw.GetUserID(ctx, "")
	if err != nil {
		return "", todo.ErrUnauthenticated
	}
	return id, nil
}

// List handles GET /api/todos
func (a *API) List(ctx *web.FastRequestContext) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	items, err := a.repo.FetchAll(ctx.Context(), ownerID)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	if items == nil {
		items = []todo.Item{}
	}
	return ctx.JSON(fasthttp.StatusOK, ListResponse{Todos: items})
}

// Create handles POST /api/todos
func (a *API) Create(ctx *web.FastRequestContext) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	var req CreateRequest
	if err := ctx.BindJSON(&req); err != nil {
		return ctx.Error(fasthttp.StatusBadRequest, msgInvalidJSON)
	}

	it, err := a.repo.Create(ctx.Context(), ownerID, req.Text)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	return ctx.JSON(fasthttp.StatusCreated, it)
}

// Update handles PATCH /api/todos/:id
func (a *API) Update(ctx *web.FastRequestContext) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	var patch todo.Patch
	if err := ctx.BindJSON(&patch); err != nil {
		return ctx.Error(fasthttp.StatusBadRequest, msgInvalidJSON)
	}

	it, err := a.repo.Update(ctx.Context(), ownerID, ctx.Param("id"), patch)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	return ctx.JSON(fasthttp.StatusOK, it)
}

// Delete handles DELETE /api/todos/:id
func (a *API) Delete(ctx *web.FastRequestContext) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return writeError(ctx, a.logger, err)
	}
	if err := a.repo.Delete(ctx.Context(), ownerID, ctx.Param("id")); err != nil {
		return writeError(ctx, a.logger, err)
	}
	return ctx.NoContent(fasthttp.StatusNoContent)
}

// Health handles GET /healthz. Any failing check turns the answer into a 503.
func (a *API) Health(ctx *web.FastRequestContext) error {
	status := "UP"
	code := fasthttp.StatusOK
	checks := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx.Context()); err != nil {
			a.logger.WithContext(ctx.Context()).Warn("health check failed", "check", name, "error", err)
			checks[name] = "DOWN"
			status = "DOWN"
			code = fasthttp.StatusServiceUnavailable
			continue
		}
		checks[name] = "UP"
	}
	return ctx.JSON(code, map[string]interface{}{
		"status":  status,
		"service": "todosyncd",
		"uptime":  time.Since(a.started).Round(time.Second).String(),
		"checks":  checks,
	})
}
