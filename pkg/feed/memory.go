package feed

import (
	"context"
	"sync"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/todo"
)

// Memory is an in-process broker fanning events out to every subscription of
// the event's owner.
//
// Thread-safety:
//   - mu protects subs and closed
//   - Publish holds RLock while delivering; delivery never blocks
type Memory struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	closed  bool
	buffer  int
	metrics *prometheus.Metrics
	logger  core.Logger
}

// MemoryOption configures a Memory broker
type MemoryOption func(*Memory)

// WithBuffer sets the per-subscription buffer
func WithBuffer(n int) MemoryOption {
	return func(m *Memory) { m.buffer = n }
}

// WithMetrics records subscriber and publish counts
func WithMetrics(metrics *prometheus.Metrics) MemoryOption {
	return func(m *Memory) { m.metrics = metrics }
}

// WithLogger sets the broker logger
func WithLogger(logger core.Logger) MemoryOption {
	return func(m *Memory) { m.logger = logger }
}

// NewMemory creates an in-process broker
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		logger: core.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish delivers ev to the subscriptions of ev.Item.OwnerID
func (m *Memory) Publish(ctx context.Context, ev todo.Event) error {
	if ev.Item.OwnerID == "" {
		return &core.Error{Code: "INVALID_EVENT", Message: "event has no owner"}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	for sub := range m.subs[ev.Item.OwnerID] {
		if !sub.Deliver(ev) && sub.Err() == ErrSlowConsumer {
			m.logger.Warn("dropping slow subscriber", "owner", ev.Item.OwnerID)
		}
	}
	m.metrics.FeedPublished(string(ev.Kind))
	return nil
}

// Subscribe opens a subscription for ownerID. The subscription also ends
// when ctx is cancelled.
func (m *Memory) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	if ownerID == "" {
		return nil, &core.Error{Code: "INVALID_OWNER", Message: "owner cannot be empty"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	var sub *Subscription
	sub = NewSubscription(ownerID, m.buffer, func() { m.remove(sub) })

	if m.subs[ownerID] == nil {
		m.subs[ownerID] = make(map[*Subscription]struct{})
	}
	m.subs[ownerID][sub] = struct{}{}
	m.metrics.FeedSubscribers(1)

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Release()
		case <-sub.Done():
		}
	}()

	return sub, nil
}

// remove runs from the subscription's release hook, which may fire while
// Publish holds the read lock, so it must not run on that goroutine.
func (m *Memory) remove(sub *Subscription) {
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[sub.Owner()]; ok {
			if _, ok := set[sub]; ok {
				delete(set, sub)
				m.metrics.FeedSubscribers(-1)
			}
			if len(set) == 0 {
				delete(m.subs, sub.Owner())
			}
		}
	}()
}

// Subscribers returns the number of live subscriptions for ownerID
func (m *Memory) Subscribers(ownerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[ownerID])
}

// Close fails every live subscription with ErrClosed
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	all := make([]*Subscription, 0)
	for _, set := range m.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range all {
		sub.Fail(ErrClosed)
	}
	return nil
}
