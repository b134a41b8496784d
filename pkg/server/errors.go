package server

import (
	"errors"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/fluxorio/todosync/pkg/web"
	"github.com/valyala/fasthttp"
)

const (
	msgInvalidJSON = "Invalid JSON"
	msgInternal    = "Internal Server Error"
)

// StatusFor maps a domain error to the HTTP status the API answers with
func StatusFor(err error) int {
	var ae *auth.Error
	if errors.As(err, &ae) {
		switch ae.Code {
		case auth.CodeInvalidInput:
			return fasthttp.StatusBadRequest
		case auth.CodeConflict:
			return fasthttp.StatusConflict
		case auth.CodeUnauthorized:
			return fasthttp.StatusUnauthorized
		case auth.CodeNotFound:
			return fasthttp.StatusNotFound
		}
		return fasthttp.StatusInternalServerError
	}

	var te *todo.Error
	if !errors.As(err, &te) {
		return fasthttp.StatusInternalServerError
	}
	switch te.Kind {
	case todo.KindValidation:
		return fasthttp.StatusBadRequest
	case todo.KindUnauthenticated:
		return fasthttp.StatusUnauthorized
	case todo.KindNotFound:
		return fasthttp.StatusNotFound
	case todo.KindConflict:
		return fasthttp.StatusConflict
	default:
		return fasthttp.StatusInternalServerError
	}
}

// writeError answers with {"error": message}. Server errors are logged with
// their cause and reach the caller as a generic message.
func writeError(ctx *web.FastRequestContext, logger core.Logger, err error) error {
	status := StatusFor(err)
	if status >= fasthttp.StatusInternalServerError {
		logger.WithContext(ctx.Context()).Error("request failed",
			"method", ctx.Method(), "route", ctx.Route(), "error", err)
		return ctx.Error(status, msgInternal)
	}

	var ae *auth.Error
	if errors.As(err, &ae) {
		return ctx.Error(status, ae.Message)
	}
	return ctx.Error(status, todo.Message(err))
}
