package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/google/uuid"
)

// Memory is an in-memory Repository
type Memory struct {
	mu    sync.RWMutex
	rows  map[string]todo.Item
	now   func() time.Time
	newID func() string
}

// MemoryOption configures a Memory repository
type MemoryOption func(*Memory)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithIDs overrides the id generator
func WithIDs(newID func() string) MemoryOption {
	return func(m *Memory) { m.newID = newID }
}

// NewMemory creates an empty in-memory repository
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		rows:  make(map[string]todo.Item),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) FetchAll(ctx context.Context, ownerID string) ([]todo.Item, error) {
	if ownerID == "" {
		return nil, todo.ErrUnauthenticated
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]todo.Item, 0)
	for _, it := range m.rows {
		if it.OwnerID == ownerID {
			items = append(items, it)
		}
	}
	slices.SortFunc(items, todo.NewerFirst)
	return items, nil
}

func (m *Memory) Create(ctx context.Context, ownerID, text string) (todo.Item, error) {
	text, err := PrepareCreate(ownerID, text)
	if err != nil {
		return todo.Item{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	it := todo.Item{
		ID:        m.newID(),
		OwnerID:   ownerID,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.rows[it.ID] = it
	return it, nil
}

func (m *Memory) Update(ctx context.Context, ownerID, id string, patch todo.Patch) (todo.Item, error) {
	patch, err := PreparePatch(ownerID, patch)
	if err != nil {
		return todo.Item{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.rows[id]
	if !ok || it.OwnerID != ownerID {
		return todo.Item{}, todo.ErrNotFound
	}
	it = patch.Apply(it)
	it.UpdatedAt = m.now()
	m.rows[id] = it
	return it, nil
}

func (m *Memory) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return todo.ErrUnauthenticated
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.rows[id]
	if !ok || it.OwnerID != ownerID {
		return todo.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}
