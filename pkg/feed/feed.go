// Package feed carries todo change events from the stores to subscribers.
//
// A Subscription is a cancellable stream of decoded events. It is released
// exactly once: either by the consumer (Release) or by the producer when the
// underlying transport fails (the error is then available from Err).
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/fluxorio/todosync/pkg/todo"
)

var (
	// ErrReleased is reported by Err after the consumer released the subscription
	ErrReleased = errors.New("feed: subscription released")

	// ErrSlowConsumer terminates a subscription whose buffer filled up
	ErrSlowConsumer = errors.New("feed: subscriber too slow, events dropped")

	// ErrClosed is returned by operations on a closed broker
	ErrClosed = errors.New("feed: broker closed")
)

// DefaultBuffer is the per-subscription event buffer
const DefaultBuffer = 64

const rejectBuffer = 8

// Publisher emits change events
type Publisher interface {
	Publish(ctx context.Context, ev todo.Event) error
}

// Source opens subscriptions on the change events of one owner
type Source interface {
	Subscribe(ctx context.Context, ownerID string) (*Subscription, error)
}

// Broker is both ends of a feed
type Broker interface {
	Publisher
	Source
	Close() error
}

// Subscription is a stream of change events for one owner.
type Subscription struct {
	owner   string
	events  chan todo.Event
	rejects chan error
	done    chan struct{}

	mu      sync.Mutex
	err     error
	once    sync.Once
	release func()
}

// NewSubscription creates a subscription with the given buffer. onRelease
// runs once, on whichever side ends the subscription first.
func NewSubscription(ownerID string, buffer int, onRelease func()) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscription{
		owner:   ownerID,
		events:  make(chan todo.Event, buffer),
		rejects: make(chan error, rejectBuffer),
		done:    make(chan struct{}),
		release: onRelease,
	}
}

// Owner is the owner this subscription is scoped to
func (s *Subscription) Owner() string { return s.owner }

// Events delivers events in arrival order. It is never closed; select on
// Done to learn when the subscription has ended.
func (s *Subscription) Events() <-chan todo.Event { return s.events }

// Rejects reports payloads the producer received for this subscription but
// could not decode. Reports beyond the buffer are dropped.
func (s *Subscription) Rejects() <-chan error { return s.rejects }

// Reject reports an undecodable payload without blocking
func (s *Subscription) Reject(err error) {
	select {
	case s.rejects <- err:
	default:
	}
}

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Release ends the subscription from the consumer side. Safe to call more
// than once and after the producer has already failed it.
func (s *Subscription) Release() error {
	s.end(ErrReleased)
	return nil
}

// Fail ends the subscription from the producer side with err.
func (s *Subscription) Fail(err error) {
	if err == nil {
		err = ErrClosed
	}
	s.end(err)
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// Deliver offers ev without blocking. A full buffer fails the subscription
// with ErrSlowConsumer. Returns false once the subscription has ended.
func (s *Subscription) Deliver(ev todo.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	default:
		s.Fail(ErrSlowConsumer)
		return false
	}
}
