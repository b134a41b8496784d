package todosync

import (
	"context"
	"sync"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/fsm"
	"github.com/fluxorio/todosync/pkg/store"
	"github.com/fluxorio/todosync/pkg/todo"
)

// HandleConfig configures a Handle
type HandleConfig struct {
	Manager    ManagerConfig
	Reconciler ReconcilerConfig
	Logger     core.Logger
}

// Handle is the view-facing entry point. It follows the session: on login
// it loads the owner's todos and subscribes to their changes; on logout it
// drops both. Each owner gets a fresh List, so a round-trip that resolves
// after a switch lands in a list nobody reads.
type Handle struct {
	session *auth.Session
	store   store.Store
	cfg     HandleConfig
	logger  core.Logger

	mu         sync.RWMutex
	manager    *Manager
	reconciler *Reconciler
	stop       context.CancelFunc
	stopped    chan struct{}

	watchMu  sync.Mutex
	watchers map[chan struct{}]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHandle creates a handle. Call Start to begin following the session.
func NewHandle(session *auth.Session, st store.Store, cfg HandleConfig) *Handle {
	failfast.NotNil(session, "session")
	failfast.NotNil(st, "store")

	logger := cfg.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}
	if cfg.Manager.Logger == nil {
		cfg.Manager.Logger = logger
	}
	if cfg.Reconciler.Logger == nil {
		cfg.Reconciler.Logger = logger
	}

	h := &Handle{
		session:  session,
		store:    st,
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[chan struct{}]struct{}),
	}
	h.manager = NewManager("", st, h.newList(), cfg.Manager)
	return h
}

// newList creates a list that signals watchers only while it is current
func (h *Handle) newList() *List {
	var l *List
	l = NewList(func() {
		if h.list() == l {
			h.notify()
		}
	})
	return l
}

// Start follows the session until ctx is done or Close is called
func (h *Handle) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	identities := h.session.Watch(ctx)
	go func() {
		defer close(h.done)
		defer h.switchTo(ctx, nil)
		for id := range identities {
			h.switchTo(ctx, id)
		}
	}()
}

// Close stops following the session and disconnects
func (h *Handle) Close() error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return nil
}

// switchTo tears down the current owner and sets up id's, if any
func (h *Handle) switchTo(ctx context.Context, id *auth.Identity) {
	owner := ""
	if id != nil && ctx.Err() == nil {
		owner = id.UserID
	}

	h.mu.Lock()
	if h.manager.Owner() == owner && (owner == "" || h.reconciler != nil) {
		h.mu.Unlock()
		return
	}
	stop, stopped := h.stop, h.stopped
	h.stop, h.stopped, h.reconciler = nil, nil, nil
	list := h.newList()
	manager := NewManager(owner, h.store, list, h.cfg.Manager)
	h.manager = manager
	h.mu.Unlock()
	h.notify()

	if stop != nil {
		stop()
		<-stopped
	}

	if owner == "" {
		h.logger.Debug("signed out, todo list cleared")
		return
	}

	h.logger.Info("loading todos", "owner", owner)
	rcfg := h.cfg.Reconciler
	rcfg.OnChange = h.notify
	rcfg.OnReconnect = func(ctx context.Context) {
		_ = manager.Refetch(ctx)
	}
	rec := NewReconciler(owner, h.store, list, rcfg)
	rctx, rcancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	h.reconciler, h.stop, h.stopped = rec, rcancel, done
	h.mu.Unlock()

	go func() {
		defer close(done)
		if err := rec.Run(rctx); err != nil {
			h.logger.Error("reconciler stopped", "error", err)
		}
	}()
	_ = manager.Refetch(ctx)
}

func (h *Handle) current() (*Manager, *Reconciler) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.manager, h.reconciler
}

// list is the current owner's list
func (h *Handle) list() *List {
	m, _ := h.current()
	return m.List()
}

// Watch returns a channel signalled after any change to the list or the
// connection. Signals coalesce; it closes when ctx is done.
func (h *Handle) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	h.watchMu.Lock()
	h.watchers[ch] = struct{}{}
	h.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		h.watchMu.Lock()
		delete(h.watchers, ch)
		close(ch)
		h.watchMu.Unlock()
	}()
	return ch
}

func (h *Handle) notify() {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	for ch := range h.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Owner is the signed-in owner, empty when signed out
func (h *Handle) Owner() string {
	m, _ := h.current()
	return m.Owner()
}

// Items returns the current list, newest first
func (h *Handle) Items() []todo.Tracked { return h.list().Items() }

// Loading reports whether a fetch is in flight
func (h *Handle) Loading() bool { return h.list().Loading() }

// Err is the last fetch or mutation error message
func (h *Handle) Err() string { return h.list().Err() }

// Deleting reports whether a delete of id is in flight
func (h *Handle) Deleting(id string) bool { return h.list().Deleting(id) }

// ConnectionState is the realtime connection state
func (h *Handle) ConnectionState() fsm.State {
	_, r := h.current()
	if r == nil {
		return StateDisconnected
	}
	return r.State()
}

// Connected reports whether realtime updates are flowing
func (h *Handle) Connected() bool {
	return h.ConnectionState() == StateConnected
}

// ConnectionErr is the realtime connection error message
func (h *Handle) ConnectionErr() string {
	_, r := h.current()
	if r == nil {
		return ""
	}
	return r.Err()
}

// Create adds a todo
func (h *Handle) Create(ctx context.Context, text string) todo.Result {
	m, _ := h.current()
	return m.Create(ctx, text)
}

// Update applies patch to id
func (h *Handle) Update(ctx context.Context, id string, patch todo.Patch) todo.Result {
	m, _ := h.current()
	return m.Update(ctx, id, patch)
}

// Toggle flips the completion flag of id
func (h *Handle) Toggle(ctx context.Context, id string) todo.Result {
	m, _ := h.current()
	return m.Toggle(ctx, id)
}

// Delete removes id
func (h *Handle) Delete(ctx context.Context, id string) todo.Result {
	m, _ := h.current()
	return m.Delete(ctx, id)
}

// Refetch reloads the list from the store
func (h *Handle) Refetch(ctx context.Context) error {
	m, _ := h.current()
	return m.Refetch(ctx)
}
