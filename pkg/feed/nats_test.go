package feed

import (
	"context"
	"testing"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/todo"
	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func newTestNATS(t *testing.T, url string) *NATS {
	t.Helper()
	b, err := NewNATS(NATSConfig{URL: url, Prefix: "todosync.test"}, core.NewNopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNATSCrossInstanceDelivery(t *testing.T) {
	s := runTestNATSServer(t)
	ctx := context.Background()

	// two brokers stand in for two server instances
	publisher := newTestNATS(t, s.ClientURL())
	subscriber := newTestNATS(t, s.ClientURL())

	sub, err := subscriber.Subscribe(ctx, "alice")
	require.NoError(t, err)
	other, err := subscriber.Subscribe(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, todo.Inserted(item("alice", "t1"))))
	require.NoError(t, publisher.Publish(ctx, todo.Deleted(todo.Item{ID: "t1", OwnerID: "alice"})))

	ev := receive(t, sub)
	assert.Equal(t, todo.EventInserted, ev.Kind)
	assert.Equal(t, "task t1", ev.Item.Text)
	ev = receive(t, sub)
	assert.Equal(t, todo.EventDeleted, ev.Kind)

	select {
	case ev := <-other.Events():
		t.Fatalf("bob received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSSkipsMalformedPayloads(t *testing.T) {
	s := runTestNATSServer(t)
	ctx := context.Background()
	b := newTestNATS(t, s.ClientURL())

	sub, err := b.Subscribe(ctx, "alice")
	require.NoError(t, err)

	raw, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	t.Cleanup(raw.Close)
	require.NoError(t, raw.Publish("todosync.test.todos.alice", []byte(`{"kind":"exploded"}`)))
	require.NoError(t, raw.Flush())

	require.NoError(t, b.Publish(ctx, todo.Updated(item("alice", "t2"))))

	ev := receive(t, sub)
	assert.Equal(t, todo.EventUpdated, ev.Kind)
	assert.Equal(t, "t2", ev.Item.ID)

	select {
	case err := <-sub.Rejects():
		var decodeErr *todo.DecodeError
		assert.ErrorAs(t, err, &decodeErr)
	default:
		t.Fatal("malformed payload was not reported")
	}
}

func TestNATSRejectsWildcardOwners(t *testing.T) {
	s := runTestNATSServer(t)
	b := newTestNATS(t, s.ClientURL())

	for _, owner := range []string{"", "a.b", "*", ">", "a b"} {
		_, err := b.Subscribe(context.Background(), owner)
		assert.Error(t, err, "owner %q", owner)
	}
}

func TestNATSCloseFailsSubscriptions(t *testing.T) {
	s := runTestNATSServer(t)
	b, err := NewNATS(NATSConfig{URL: s.ClientURL()}, nil, nil)
	require.NoError(t, err)

	sub, err := b.Subscribe(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription still live after Close")
	}
	assert.Error(t, sub.Err())
}
