package todosync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/store"
	"github.com/fluxorio/todosync/pkg/todo"
)

var errBackend = errors.New("backend unavailable")

// scriptedRepo wraps an in-memory store with injectable failures and a gate
// that holds remote calls in flight.
type scriptedRepo struct {
	*store.Memory

	mu         sync.Mutex
	fail       map[string]error
	gate       chan struct{}
	fetchGates map[string]chan struct{}
	calls      atomic.Int32
}

func newScriptedRepo() *scriptedRepo {
	var seq atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &scriptedRepo{
		Memory: store.NewMemory(
			store.WithClock(func() time.Time { return base.Add(time.Duration(seq.Add(1)) * time.Minute) }),
			store.WithIDs(func() string { return fmt.Sprintf("t%d", seq.Load()) }),
		),
		fail:       make(map[string]error),
		fetchGates: make(map[string]chan struct{}),
	}
}

func (r *scriptedRepo) failOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[op] = err
}

// hold blocks remote calls until the returned func is called
func (r *scriptedRepo) hold() func() {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.gate = nil
		r.mu.Unlock()
		close(gate)
	}
}

func (r *scriptedRepo) enter(ctx context.Context, op string) error {
	r.calls.Add(1)
	r.mu.Lock()
	gate, err := r.gate, r.fail[op]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// holdFetch blocks fetches for owner until the returned func is called
func (r *scriptedRepo) holdFetch(owner string) func() {
	gate := make(chan struct{})
	r.mu.Lock()
	r.fetchGates[owner] = gate
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.fetchGates, owner)
		r.mu.Unlock()
		close(gate)
	}
}

func (r *scriptedRepo) FetchAll(ctx context.Context, ownerID string) ([]todo.Item, error) {
	r.mu.Lock()
	err, gate := r.fail["fetch"], r.fetchGates[ownerID]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return r.Memory.FetchAll(ctx, ownerID)
}

func (r *scriptedRepo) Create(ctx context.Context, ownerID, text string) (todo.Item, error) {
	if err := r.enter(ctx, "create"); err != nil {
		return todo.Item{}, err
	}
	return r.Memory.Create(ctx, ownerID, text)
}

func (r *scriptedRepo) Update(ctx context.Context, ownerID, id string, patch todo.Patch) (todo.Item, error) {
	if err := r.enter(ctx, "update"); err != nil {
		return todo.Item{}, err
	}
	return r.Memory.Update(ctx, ownerID, id, patch)
}

func (r *scriptedRepo) Delete(ctx context.Context, ownerID, id string) error {
	if err := r.enter(ctx, "delete"); err != nil {
		return err
	}
	return r.Memory.Delete(ctx, ownerID, id)
}

// scriptedSource hands out subscriptions the test delivers into directly.
// The first failFirst subscribes fail.
type scriptedSource struct {
	mu        sync.Mutex
	failFirst int
	subs      []*feed.Subscription
}

func (s *scriptedSource) Subscribe(ctx context.Context, ownerID string) (*feed.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFirst > 0 {
		s.failFirst--
		return nil, errors.New("dial refused")
	}
	sub := feed.NewSubscription(ownerID, 16, nil)
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *scriptedSource) last() *feed.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil
	}
	return s.subs[len(s.subs)-1]
}

func item(id, text string, minute int) todo.Item {
	at := time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC)
	return todo.Item{ID: id, OwnerID: "alice", Text: text, CreatedAt: at, UpdatedAt: at}
}

func ids(items []todo.Tracked) []string {
	out := make([]string, len(items))
	for i, t := range items {
		out[i] = t.ID
	}
	return out
}
