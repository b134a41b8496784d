package auth

import (
	"context"
	"sync"

	"github.com/fluxorio/todosync/pkg/core/failfast"
)

// Session holds the client's current identity. Watchers are told about every
// login and logout; a slow watcher only ever sees the latest state.
type Session struct {
	authn Authenticator

	mu       sync.RWMutex
	current  *Identity
	watchers map[chan *Identity]struct{}
}

// NewSession creates a logged-out session
func NewSession(authn Authenticator) *Session {
	failfast.NotNil(authn, "authenticator")
	return &Session{
		authn:    authn,
		watchers: make(map[chan *Identity]struct{}),
	}
}

// Current returns the identity, if logged in
func (s *Session) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Identity{}, false
	}
	return *s.current, true
}

// Login authenticates and makes the result current
func (s *Session) Login(ctx context.Context, email, password string) (Identity, error) {
	id, err := s.authn.Login(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	s.Restore(id)
	return id, nil
}

// Restore makes a previously issued identity current
func (s *Session) Restore(id Identity) {
	s.set(&id)
}

// Logout clears the current identity
func (s *Session) Logout() {
	s.set(nil)
}

func (s *Session) set(id *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil && id == nil {
		return
	}
	s.current = id
	for ch := range s.watchers {
		// replace any undelivered state
		select {
		case <-ch:
		default:
		}
		ch <- id
	}
}

// Watch returns a channel receiving the identity on every change (nil on
// logout), starting with the current state. It closes when ctx is done.
func (s *Session) Watch(ctx context.Context) <-chan *Identity {
	ch := make(chan *Identity, 1)

	s.mu.Lock()
	ch <- s.current
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}
