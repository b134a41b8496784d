package fsm

import (
	"context"
	"fmt"
	"sync"
)

// State names a state
type State string

// Event names a trigger
type Event string

// Action runs during a transition. An error aborts the remaining steps.
type Action func(ctx context.Context, transition TransitionContext) error

// Guard vetoes a transition by returning false
type Guard func(ctx context.Context, transition TransitionContext) bool

// TransitionContext describes the transition being taken
type TransitionContext struct {
	FSM   *StateMachine
	Event Event
	From  State
	To    State
	Data  any
}

// StateMachine is a small synchronous state machine. It is safe for
// concurrent use; transitions are serialized.
type StateMachine struct {
	mu        sync.RWMutex
	name      string
	current   State
	configs   map[State]*stateConfig
	listeners []func(TransitionContext)
}

type stateConfig struct {
	state   State
	entry   []Action
	exit    []Action
	permits map[Event]*edge
}

// edge is one permitted event out of a state. Internal edges run their
// actions without leaving the state.
type edge struct {
	target   State
	guard    Guard
	actions  []Action
	internal bool
}

// New creates a machine starting in initialState. id only labels errors.
func New(id string, initialState State) *StateMachine {
	return &StateMachine{name: id, current: initialState, configs: map[State]*stateConfig{}}
}

// CurrentState returns the current state
func (sm *StateMachine) CurrentState() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Configure declares state and returns its builder. A state with no
// transitions is terminal.
func (sm *StateMachine) Configure(state State) *StateConfigBuilder {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sc := sm.configs[state]
	if sc == nil {
		sc = &stateConfig{state: state, permits: map[Event]*edge{}}
		sm.configs[state] = sc
	}
	return &StateConfigBuilder{config: sc}
}

// ErrNoTransition is returned when the current state does not permit an event
type ErrNoTransition struct {
	State State
	Event Event
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("event %s not permitted in state %s", e.Event, e.State)
}

// Can reports whether event is permitted in the current state
func (sm *StateMachine) Can(event Event) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sc := sm.configs[sm.current]
	return sc != nil && sc.permits[event] != nil
}

// Fire triggers an event and returns the new state.
// Actions run on the caller's goroutine; transition listeners run after the
// machine is unlocked so they may query it.
func (sm *StateMachine) Fire(ctx context.Context, event Event, data any) (State, error) {
	tc, err := sm.fire(ctx, event, data)
	if err != nil {
		return sm.CurrentState(), err
	}

	sm.mu.RLock()
	listeners := append([]func(TransitionContext){}, sm.listeners...)
	sm.mu.RUnlock()
	for _, l := range listeners {
		l(tc)
	}
	return tc.To, nil
}

func (sm *StateMachine) fire(ctx context.Context, event Event, data any) (TransitionContext, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.current
	sc := sm.configs[from]
	if sc == nil {
		return TransitionContext{}, fmt.Errorf("%s: state %s is not configured", sm.name, from)
	}
	e := sc.permits[event]
	if e == nil {
		return TransitionContext{}, &ErrNoTransition{State: from, Event: event}
	}

	tc := TransitionContext{FSM: sm, Event: event, From: from, To: e.target, Data: data}
	if e.guard != nil && !e.guard(ctx, tc) {
		return TransitionContext{}, fmt.Errorf("%s: guard refused %s -> %s on %s", sm.name, from, e.target, event)
	}

	if !e.internal {
		if err := run(ctx, tc, "exit", sc.exit); err != nil {
			return TransitionContext{}, err
		}
	}
	if err := run(ctx, tc, "transition", e.actions); err != nil {
		return TransitionContext{}, err
	}
	sm.current = e.target
	if e.internal {
		return tc, nil
	}
	if next := sm.configs[e.target]; next != nil {
		// the state has already changed when an entry action fails
		if err := run(ctx, tc, "entry", next.entry); err != nil {
			return TransitionContext{}, err
		}
	}
	return tc, nil
}

func run(ctx context.Context, tc TransitionContext, phase string, actions []Action) error {
	for _, action := range actions {
		if err := action(ctx, tc); err != nil {
			return fmt.Errorf("%s action failed: %w", phase, err)
		}
	}
	return nil
}

// OnTransition registers a global transition listener
func (sm *StateMachine) OnTransition(listener func(TransitionContext)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// ID returns the machine identifier
func (sm *StateMachine) ID() string {
	return sm.name
}
