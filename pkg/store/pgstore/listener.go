package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Listener is a feed.Source fed by the todos trigger. One connection LISTENs
// and fans notifications out to local subscribers.
type Listener struct {
	pool    *pgxpool.Pool
	local   *feed.Memory
	logger  core.Logger
	metrics *prometheus.Metrics
	retry   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewListener starts listening on Channel. Close stops it.
func NewListener(pool *pgxpool.Pool, logger core.Logger, metrics *prometheus.Metrics) *Listener {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		pool:    pool,
		local:   feed.NewMemory(feed.WithLogger(logger), feed.WithMetrics(metrics)),
		logger:  logger,
		metrics: metrics,
		retry:   time.Second,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	ready := make(chan struct{})
	go l.run(ctx, ready)
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		logger.Warn("listener not ready, continuing", "channel", Channel)
	}
	return l
}

func (l *Listener) Subscribe(ctx context.Context, ownerID string) (*feed.Subscription, error) {
	return l.local.Subscribe(ctx, ownerID)
}

// Close stops listening and fails all subscriptions
func (l *Listener) Close() error {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
	return l.local.Close()
}

func (l *Listener) run(ctx context.Context, ready chan struct{}) {
	defer close(l.done)
	signalled := false
	for {
		err := l.listen(ctx, func() {
			if !signalled {
				signalled = true
				close(ready)
			}
		})
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("listen connection lost, retrying", "error", err, "retry", l.retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) listen(ctx context.Context, onReady func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	onReady()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// the connection may still be listening; drop it from the pool
			_ = conn.Conn().Close(context.Background())
			return err
		}
		ev, err := todo.DecodeEvent([]byte(n.Payload))
		if err != nil {
			l.metrics.ReconcilerEvent("malformed")
			l.logger.Warn("skipping malformed notification", "error", err)
			continue
		}
		if err := l.local.Publish(ctx, ev); err != nil {
			return err
		}
	}
}
