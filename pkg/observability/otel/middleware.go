package otel

import (
	"github.com/fluxorio/todosync/pkg/web"
	"github.com/valyala/fasthttp"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fluxorio/todosync/pkg/observability/otel"

// headerCarrier adapts fasthttp request headers to a TextMapCarrier
type headerCarrier struct {
	h *fasthttp.RequestHeader
}

func (c headerCarrier) Get(key string) string {
	return string(c.h.Peek(key))
}

func (c headerCarrier) Set(key, value string) {
	c.h.Set(key, value)
}

func (c headerCarrier) Keys() []string {
	var keys []string
	c.h.VisitAll(func(k, _ []byte) {
		keys = append(keys, string(k))
	})
	return keys
}

var _ propagation.TextMapCarrier = headerCarrier{}

// HTTPMiddleware starts a server span per request, continuing any incoming
// trace context. Spans are named "<METHOD> <route pattern>".
func HTTPMiddleware() web.FastMiddleware {
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			parent := ctx.Context()
			carrier := headerCarrier{h: &ctx.RequestCtx.Request.Header}
			spanCtx, span := otelapi.Tracer(tracerName).Start(
				otelapi.GetTextMapPropagator().Extract(parent, carrier),
				ctx.Method()+" "+ctx.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", ctx.Method()),
					attribute.String("url.path", ctx.Path()),
					attribute.String("request.id", ctx.RequestID()),
				),
			)
			defer span.End()

			ctx.WithContext(spanCtx)
			defer ctx.WithContext(parent)

			err := next(ctx)

			if route := ctx.Route(); route != "" {
				span.SetName(ctx.Method() + " " + route)
				span.SetAttributes(attribute.String("http.route", route))
			}
			status := ctx.RequestCtx.Response.StatusCode()
			if err != nil {
				status = fasthttp.StatusInternalServerError
				span.RecordError(err)
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= fasthttp.StatusInternalServerError {
				span.SetStatus(codes.Error, fasthttp.StatusMessage(status))
			}
			return err
		}
	}
}
