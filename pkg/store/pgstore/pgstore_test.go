package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fluxorio/todosync/pkg/store"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TODOSYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TODOSYNC_TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRepositoryCRUD(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	owner := uuid.NewString()

	first, err := r.Create(ctx, owner, "  first ")
	require.NoError(t, err)
	assert.Equal(t, "first", first.Text)
	second, err := r.Create(ctx, owner, "second")
	require.NoError(t, err)

	items, err := r.FetchAll(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)

	updated, err := r.Update(ctx, owner, first.ID, todo.SetCompleted(true))
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "first", updated.Text)

	_, err = r.Update(ctx, "someone-else", first.ID, todo.SetText("x"))
	assert.ErrorIs(t, err, todo.ErrNotFound)

	require.NoError(t, r.Delete(ctx, owner, first.ID))
	assert.ErrorIs(t, r.Delete(ctx, owner, first.ID), todo.ErrNotFound)
	require.NoError(t, r.Delete(ctx, owner, second.ID))
}

func TestRepositoryValidates(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	_, err := r.Create(ctx, "owner", " ")
	assert.ErrorIs(t, err, todo.ErrEmptyText)
	_, err = r.Update(ctx, "owner", "id", todo.Patch{})
	assert.ErrorIs(t, err, todo.ErrEmptyPatch)
}

func TestListenerDeliversTriggerEvents(t *testing.T) {
	r := openTestRepo(t)
	l := NewListener(r.Pool(), nil, nil)
	t.Cleanup(func() { _ = l.Close() })

	s := store.Compose(r, l)
	ctx := context.Background()
	owner := uuid.NewString()

	sub, err := s.Subscribe(ctx, owner)
	require.NoError(t, err)

	it, err := s.Create(ctx, owner, "watched")
	require.NoError(t, err)
	_, err = s.Update(ctx, owner, it.ID, todo.SetText("renamed"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, owner, it.ID))

	want := []todo.EventKind{todo.EventInserted, todo.EventUpdated, todo.EventDeleted}
	for _, kind := range want {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, kind, ev.Kind)
			assert.Equal(t, it.ID, ev.Item.ID)
			if kind == todo.EventUpdated {
				assert.Equal(t, "renamed", ev.Item.Text)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}
