// Package store defines the remote store the client core talks to and the
// server-side repositories behind it.
package store

import (
	"context"

	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/todo"
)

// Repository is row CRUD scoped by owner. Every method only ever touches
// rows belonging to ownerID.
type Repository interface {
	// FetchAll returns the owner's items, newest first
	FetchAll(ctx context.Context, ownerID string) ([]todo.Item, error)

	// Create inserts a new item; text is normalized by the repository
	Create(ctx context.Context, ownerID, text string) (todo.Item, error)

	// Update applies patch and returns the stored row
	Update(ctx context.Context, ownerID, id string, patch todo.Patch) (todo.Item, error)

	// Delete removes the row; todo.ErrNotFound if absent
	Delete(ctx context.Context, ownerID, id string) error
}

// Store is a Repository with a change feed
type Store interface {
	Repository
	feed.Source
}

// Closer is implemented by stores holding connections
type Closer interface {
	Close() error
}

// PrepareCreate normalizes text for insertion
func PrepareCreate(ownerID, text string) (string, error) {
	if ownerID == "" {
		return "", todo.ErrUnauthenticated
	}
	return todo.NormalizeText(text)
}

// PreparePatch validates a patch for an update
func PreparePatch(ownerID string, patch todo.Patch) (todo.Patch, error) {
	if ownerID == "" {
		return patch, todo.ErrUnauthenticated
	}
	if patch.Empty() {
		return patch, todo.ErrEmptyPatch
	}
	return patch.Normalize()
}

type composed struct {
	Repository
	feed.Source
}

// Compose pairs a repository with a change feed it does not publish to
// itself, e.g. a database notification listener.
func Compose(repo Repository, src feed.Source) Store {
	return &composed{Repository: repo, Source: src}
}

func (c *composed) Close() error {
	var err error
	if cl, ok := c.Source.(Closer); ok {
		err = cl.Close()
	}
	if cl, ok := c.Repository.(Closer); ok {
		if cerr := cl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
