package todosync

import (
	"context"
	"sync"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/fsm"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/todo"
)

// Connection states
const (
	StateUninitialized fsm.State = "uninitialized"
	StateConnecting    fsm.State = "connecting"
	StateConnected     fsm.State = "connected"
	StateError         fsm.State = "error"
	StateDisconnected  fsm.State = "disconnected"
)

const (
	eventStart      fsm.Event = "start"
	eventSubscribed fsm.Event = "subscribed"
	eventFailed     fsm.Event = "failed"
	eventRetry      fsm.Event = "retry"
	eventStop       fsm.Event = "stop"
)

// Connection error messages
const (
	MsgConnectFailed  = "Failed to establish real-time connection"
	MsgStreamFailed   = "Real-time connection error"
	MsgMalformedEvent = "Failed to process real-time update"
)

// DefaultRetryDelay is the pause before reconnecting
const DefaultRetryDelay = 3 * time.Second

// ReconcilerConfig configures a Reconciler
type ReconcilerConfig struct {
	// RetryDelay is the pause before a reconnect. Default: DefaultRetryDelay.
	RetryDelay time.Duration

	// MaxRetryDelay enables exponential backoff when greater than RetryDelay
	MaxRetryDelay time.Duration

	Logger  core.Logger
	Metrics *prometheus.Metrics

	// OnChange runs after every connection state or error change
	OnChange func()

	// OnReconnect runs after a subscription is re-established following a
	// failure, before any of its events are applied. Handle refetches here.
	OnReconnect func(ctx context.Context)
}

// Reconciler keeps one owner's subscription open and folds its events into
// a List. Run drives it; cancelling Run's context disconnects for good.
type Reconciler struct {
	owner   string
	source  feed.Source
	list    *List
	cfg     ReconcilerConfig
	logger  core.Logger
	metrics *prometheus.Metrics
	machine *fsm.StateMachine

	mu      sync.RWMutex
	connErr string
}

// NewReconciler creates a reconciler in the uninitialized state
func NewReconciler(owner string, source feed.Source, list *List, cfg ReconcilerConfig) *Reconciler {
	failfast.NotEmpty(owner, "owner")
	failfast.NotNil(source, "source")
	failfast.NotNil(list, "list")

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}
	r := &Reconciler{
		owner:   owner,
		source:  source,
		list:    list,
		cfg:     cfg,
		logger:  logger.WithFields(map[string]interface{}{"owner": owner, "component": "reconciler"}),
		metrics: cfg.Metrics,
	}
	r.machine = r.newMachine()
	return r
}

func (r *Reconciler) newMachine() *fsm.StateMachine {
	sm := fsm.New("reconciler:"+r.owner, StateUninitialized)
	sm.Configure(StateUninitialized).
		Permit(eventStart, StateConnecting).
		Permit(eventStop, StateDisconnected)
	sm.Configure(StateConnecting).
		Permit(eventSubscribed, StateConnected).
		Permit(eventFailed, StateError).
		Permit(eventStop, StateDisconnected)
	sm.Configure(StateConnected).
		Permit(eventFailed, StateError).
		Permit(eventStop, StateDisconnected).
		OnEntry(func(ctx context.Context, _ fsm.TransitionContext) error {
			r.metrics.SetConnected(true)
			return nil
		}).
		OnExit(func(ctx context.Context, _ fsm.TransitionContext) error {
			r.metrics.SetConnected(false)
			return nil
		})
	sm.Configure(StateError).
		Permit(eventRetry, StateConnecting).
		Permit(eventStop, StateDisconnected)
	sm.Configure(StateDisconnected)

	sm.OnTransition(func(tc fsm.TransitionContext) {
		r.logger.Debug("connection state", "from", string(tc.From), "to", string(tc.To))
		r.changed()
	})
	return sm
}

func (r *Reconciler) changed() {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange()
	}
}

func (r *Reconciler) fire(ev fsm.Event) {
	if _, err := r.machine.Fire(context.Background(), ev, nil); err != nil {
		r.logger.Debug("ignored connection event", "event", string(ev), "error", err)
	}
}

// State is the current connection state
func (r *Reconciler) State() fsm.State {
	return r.machine.CurrentState()
}

// Connected reports whether the subscription is live
func (r *Reconciler) Connected() bool {
	return r.State() == StateConnected
}

// Err is the connection error message, empty if none
func (r *Reconciler) Err() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connErr
}

func (r *Reconciler) setErr(msg string) {
	r.mu.Lock()
	changed := r.connErr != msg
	r.connErr = msg
	r.mu.Unlock()
	if changed {
		r.changed()
	}
}

// delay is the pause after the given number of consecutive failures
func (r *Reconciler) delay(failures int) time.Duration {
	d := r.cfg.RetryDelay
	if r.cfg.MaxRetryDelay <= d {
		return d
	}
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= r.cfg.MaxRetryDelay {
			return r.cfg.MaxRetryDelay
		}
	}
	return d
}

// Run connects and keeps reconnecting until ctx is done. It can only run
// once; the subscription is released on every return path.
func (r *Reconciler) Run(ctx context.Context) error {
	if _, err := r.machine.Fire(ctx, eventStart, nil); err != nil {
		return err
	}
	defer r.fire(eventStop)

	failures := 0
	for resync := false; ; resync = true {
		connected, err := r.session(ctx, resync)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			failures = 0
		}
		failures++

		wait := r.delay(failures)
		r.logger.Warn("real-time connection lost", "error", err, "retry_in", wait.String())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		r.metrics.Reconnect()
		r.fire(eventRetry)
	}
}

// session runs one subscription until it fails or ctx ends. With resync
// set, OnReconnect runs once the subscription is live, so nothing published
// while disconnected is missed.
func (r *Reconciler) session(ctx context.Context, resync bool) (bool, error) {
	sub, err := r.source.Subscribe(ctx, r.owner)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		r.setErr(MsgConnectFailed)
		r.fire(eventFailed)
		return false, err
	}
	defer func() { _ = sub.Release() }()

	r.setErr("")
	r.fire(eventSubscribed)
	if resync && r.cfg.OnReconnect != nil {
		r.cfg.OnReconnect(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev := <-sub.Events():
			r.apply(ev)
		case err := <-sub.Rejects():
			r.reject(err)
		case <-sub.Done():
			if ctx.Err() != nil {
				return true, nil
			}
			r.drain(sub)
			r.setErr(MsgStreamFailed)
			r.fire(eventFailed)
			return true, sub.Err()
		}
	}
}

// drain applies events buffered before the subscription ended
func (r *Reconciler) drain(sub *feed.Subscription) {
	for {
		select {
		case ev := <-sub.Events():
			r.apply(ev)
		default:
			return
		}
	}
}

func (r *Reconciler) apply(ev todo.Event) {
	if ev.Item.OwnerID != r.owner {
		r.metrics.ReconcilerEvent("ignored")
		return
	}
	if r.State() == StateConnected {
		r.setErr("")
	}
	if r.list.Fold(ev) {
		r.metrics.ReconcilerEvent("applied")
	} else {
		r.metrics.ReconcilerEvent("ignored")
	}
}

func (r *Reconciler) reject(err error) {
	r.metrics.ReconcilerEvent("malformed")
	r.logger.Warn("rejected real-time update", "error", err)
	r.setErr(MsgMalformedEvent)
}
