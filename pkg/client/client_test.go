package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/server"
	"github.com/fluxorio/todosync/pkg/store"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/fluxorio/todosync/pkg/todosync"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func startServer(t *testing.T) Config {
	t.Helper()
	st := store.NewNotifying(store.NewMemory(), feed.NewMemory(), nil)
	svc := auth.NewService(auth.NewMemoryUsers(), auth.Config{Secret: "test-secret", BcryptCost: bcrypt.MinCost})

	cfg := server.DefaultConfig()
	cfg.ShutdownTimeout = time.Second
	cfg.AuthRateLimit = 1000
	srv := server.New(cfg, server.Deps{Store: st, Auth: svc, Metrics: prometheus.NewMetrics()})

	apiLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	rtLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, apiLn, rtLn) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return Config{
		BaseURL:     "http://" + apiLn.Addr().String(),
		RealtimeURL: "ws://" + rtLn.Addr().String() + "/realtime",
		Timeout:     2 * time.Second,
	}
}

func signIn(t *testing.T, cfg Config, email string) *auth.Session {
	t.Helper()
	a := NewAuth(cfg)
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, email, "secret1"))
	sess := auth.NewSession(a)
	_, err := sess.Login(ctx, email, "secret1")
	require.NoError(t, err)
	return sess
}

// restored is a session for alice holding token, without a login
func restored(token string) *auth.Session {
	sess := auth.NewSession(NewAuth(Config{BaseURL: "http://127.0.0.1:1"}))
	sess.Restore(auth.Identity{UserID: "alice", Token: token})
	return sess
}

func TestAuthErrors(t *testing.T) {
	cfg := startServer(t)
	a := NewAuth(cfg)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "alice@example.com", "secret1"))

	err := a.Register(ctx, "alice@example.com", "secret1")
	assert.ErrorIs(t, err, auth.ErrUserExists)
	assert.Equal(t, "User already registered", err.Error())

	err = a.Register(ctx, "bob@example.com", "123")
	assert.ErrorIs(t, err, auth.ErrWeakPassword)

	_, err = a.Login(ctx, "alice@example.com", "wrong1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	id, err := a.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.NotEmpty(t, id.UserID)
}

func TestStoreCRUD(t *testing.T) {
	cfg := startServer(t)
	sess := signIn(t, cfg, "alice@example.com")
	id, _ := sess.Current()
	s := NewStore(cfg, sess)
	ctx := context.Background()

	_, err := s.Create(ctx, id.UserID, " ")
	assert.ErrorIs(t, err, todo.ErrEmptyText)
	assert.Equal(t, "Please enter a task", todo.Message(err))

	it, err := s.Create(ctx, id.UserID, "buy milk")
	require.NoError(t, err)
	assert.Equal(t, id.UserID, it.OwnerID)

	items, err := s.FetchAll(ctx, id.UserID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	done := true
	updated, err := s.Update(ctx, id.UserID, it.ID, todo.Patch{Completed: &done})
	require.NoError(t, err)
	assert.True(t, updated.Completed)

	require.NoError(t, s.Delete(ctx, id.UserID, it.ID))
	err = s.Delete(ctx, id.UserID, it.ID)
	assert.ErrorIs(t, err, todo.ErrNotFound)
	assert.Equal(t, "Todo not found", todo.Message(err))
}

func TestStoreNeedsMatchingIdentity(t *testing.T) {
	cfg := startServer(t)
	sess := signIn(t, cfg, "alice@example.com")
	s := NewStore(cfg, sess)

	_, err := s.FetchAll(context.Background(), "someone-else")
	assert.ErrorIs(t, err, todo.ErrUnauthenticated)

	id, _ := sess.Current()
	sess.Logout()
	_, err = s.FetchAll(context.Background(), id.UserID)
	assert.ErrorIs(t, err, todo.ErrUnauthenticated)
}

func TestStoreTransportErrorIsRemote(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	sess := restored("t")
	s := NewStore(Config{BaseURL: "http://" + addr, Timeout: time.Second}, sess)

	_, err = s.FetchAll(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, todo.KindRemote, todo.KindOf(err))
	assert.True(t, strings.HasPrefix(todo.Message(err), "Failed to fetch todos: "), todo.Message(err))
}

func TestSubscribeRejectsMalformedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"bogus","item":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"deleted","item":{"id":"t1","user_id":"alice"}}`))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(ws.Close)

	sess := restored("t")
	s := NewStore(Config{BaseURL: ws.URL, RealtimeURL: "ws" + strings.TrimPrefix(ws.URL, "http")}, sess)

	sub, err := s.Subscribe(context.Background(), "alice")
	require.NoError(t, err)
	defer sub.Release()

	select {
	case err := <-sub.Rejects():
		var de *todo.DecodeError
		assert.True(t, errors.As(err, &de))
	case <-time.After(waitFor):
		t.Fatal("no reject reported")
	}
	select {
	case ev := <-sub.Events():
		assert.Equal(t, todo.EventDeleted, ev.Kind)
		assert.Equal(t, "t1", ev.Item.ID)
	case <-time.After(waitFor):
		t.Fatal("no event delivered")
	}
}

func TestSubscribeUnauthorized(t *testing.T) {
	cfg := startServer(t)
	sess := restored("forged")

	_, err := NewStore(cfg, sess).Subscribe(context.Background(), "alice")
	assert.ErrorIs(t, err, todo.ErrUnauthenticated)
}

func TestSubscribeReleasedOnCancel(t *testing.T) {
	cfg := startServer(t)
	sess := signIn(t, cfg, "alice@example.com")
	id, _ := sess.Current()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := NewStore(cfg, sess).Subscribe(ctx, id.UserID)
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
		assert.ErrorIs(t, sub.Err(), feed.ErrReleased)
	case <-time.After(waitFor):
		t.Fatal("subscription not released on cancel")
	}
}

// Two devices of the same owner: a write on one shows up on the other
// through the realtime stream, and neither list ever holds a duplicate.
func TestHandlesStayInSync(t *testing.T) {
	cfg := startServer(t)
	ctx := context.Background()

	a := NewAuth(cfg)
	require.NoError(t, a.Register(ctx, "alice@example.com", "secret1"))

	open := func() (*todosync.Handle, *auth.Session) {
		sess := auth.NewSession(a)
		h := todosync.NewHandle(sess, NewStore(cfg, sess), todosync.HandleConfig{
			Reconciler: todosync.ReconcilerConfig{RetryDelay: 20 * time.Millisecond},
		})
		h.Start(ctx)
		t.Cleanup(func() { _ = h.Close() })
		_, err := sess.Login(ctx, "alice@example.com", "secret1")
		require.NoError(t, err)
		require.Eventually(t, h.Connected, waitFor, tick)
		return h, sess
	}
	laptop, _ := open()
	phone, _ := open()

	res := laptop.Create(ctx, "buy milk")
	require.True(t, res.Success, res.Error)
	require.Eventually(t, func() bool { return len(phone.Items()) == 1 }, waitFor, tick)
	assert.Equal(t, res.Item.ID, phone.Items()[0].ID)
	require.Never(t, func() bool { return len(laptop.Items()) != 1 }, 100*time.Millisecond, tick)

	res = phone.Toggle(ctx, res.Item.ID)
	require.True(t, res.Success, res.Error)
	require.Eventually(t, func() bool {
		items := laptop.Items()
		return len(items) == 1 && items[0].Completed
	}, waitFor, tick)

	res = laptop.Delete(ctx, res.Item.ID)
	require.True(t, res.Success, res.Error)
	require.Eventually(t, func() bool { return len(phone.Items()) == 0 }, waitFor, tick)
}
