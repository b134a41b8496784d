package store

import (
	"context"

	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/todo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fluxorio/todosync/pkg/store"

// Traced wraps a Store with one span per call
type Traced struct {
	next   Store
	tracer trace.Tracer
}

// NewTraced wraps next. A nil provider means the global one.
func NewTraced(next Store, tp trace.TracerProvider) *Traced {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Traced{next: next, tracer: tp.Tracer(tracerName)}
}

func (t *Traced) start(ctx context.Context, op, ownerID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("todo.owner", ownerID))
	return t.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, todo.Message(err))
	}
	span.End()
}

func (t *Traced) FetchAll(ctx context.Context, ownerID string) ([]todo.Item, error) {
	ctx, span := t.start(ctx, "FetchAll", ownerID)
	items, err := t.next.FetchAll(ctx, ownerID)
	span.SetAttributes(attribute.Int("todo.count", len(items)))
	finish(span, err)
	return items, err
}

func (t *Traced) Create(ctx context.Context, ownerID, text string) (todo.Item, error) {
	ctx, span := t.start(ctx, "Create", ownerID)
	it, err := t.next.Create(ctx, ownerID, text)
	if err == nil {
		span.SetAttributes(attribute.String("todo.id", it.ID))
	}
	finish(span, err)
	return it, err
}

func (t *Traced) Update(ctx context.Context, ownerID, id string, patch todo.Patch) (todo.Item, error) {
	ctx, span := t.start(ctx, "Update", ownerID,
		attribute.String("todo.id", id),
		attribute.Bool("todo.patch.text", patch.Text != nil),
		attribute.Bool("todo.patch.completed", patch.Completed != nil))
	it, err := t.next.Update(ctx, ownerID, id, patch)
	finish(span, err)
	return it, err
}

func (t *Traced) Delete(ctx context.Context, ownerID, id string) error {
	ctx, span := t.start(ctx, "Delete", ownerID, attribute.String("todo.id", id))
	err := t.next.Delete(ctx, ownerID, id)
	finish(span, err)
	return err
}

func (t *Traced) Subscribe(ctx context.Context, ownerID string) (*feed.Subscription, error) {
	_, span := t.start(ctx, "Subscribe", ownerID)
	sub, err := t.next.Subscribe(ctx, ownerID)
	finish(span, err)
	return sub, err
}

func (t *Traced) Close() error {
	if c, ok := t.next.(Closer); ok {
		return c.Close()
	}
	return nil
}
