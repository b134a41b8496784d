package otel

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fluxorio/todosync/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitializeStdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Writer = &buf
	cfg.ServiceVersion = "test"
	require.NoError(t, Initialize(context.Background(), cfg))
	assert.True(t, IsInitialized())

	_, span := TracerProvider().Tracer("test").Start(context.Background(), "store.Create")
	span.End()

	require.NoError(t, Shutdown(context.Background()))
	assert.False(t, IsInitialized())
	assert.Contains(t, buf.String(), "store.Create")
	assert.Contains(t, buf.String(), "todosyncd")
}

func TestInitializeErrors(t *testing.T) {
	assert.Error(t, Initialize(context.Background(), Config{Exporter: "jaeger"}))
	assert.Error(t, Initialize(context.Background(), Config{Exporter: ExporterZipkin}))

	require.NoError(t, Initialize(context.Background(), Config{Exporter: ExporterNone}))
	assert.False(t, IsInitialized())
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prevTP, prevProp := otelapi.GetTracerProvider(), otelapi.GetTextMapPropagator()
	otelapi.SetTracerProvider(tp)
	otelapi.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otelapi.SetTracerProvider(prevTP)
		otelapi.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestHTTPMiddleware(t *testing.T) {
	rec := withRecorder(t)

	router := web.NewRouter()
	router.Use(HTTPMiddleware())
	router.GET("/api/todos/:id", func(ctx *web.FastRequestContext) error {
		return ctx.Text(200, "ok")
	})
	router.DELETE("/api/todos/:id", func(ctx *web.FastRequestContext) error {
		return errors.New("boom")
	})

	rc := &fasthttp.RequestCtx{}
	rc.Request.Header.SetMethod("GET")
	rc.Request.SetRequestURI("/api/todos/t1")
	rc.Request.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	require.NoError(t, router.Serve(web.NewFastRequestContext(rc, "req-1")))

	rc = &fasthttp.RequestCtx{}
	rc.Request.Header.SetMethod("DELETE")
	rc.Request.SetRequestURI("/api/todos/t1")
	assert.Error(t, router.Serve(web.NewFastRequestContext(rc, "req-2")))

	spans := rec.Ended()
	require.Len(t, spans, 2)

	get := spans[0]
	assert.Equal(t, "GET /api/todos/:id", get.Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", get.SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", get.Parent().SpanID().String())

	del := spans[1]
	assert.Equal(t, "DELETE /api/todos/:id", del.Name())
	assert.Equal(t, codes.Error, del.Status().Code)
	assert.Len(t, del.Events(), 1, "error recorded")
}
