package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS-backed broker.
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string `yaml:"url" json:"url"`

	// Prefix is prepended to all subjects. Default: "todosync".
	Prefix string `yaml:"prefix" json:"prefix"`

	// Name is an optional NATS connection name.
	Name string `yaml:"name" json:"name"`

	// Buffer is the per-subscription event buffer. Default: DefaultBuffer.
	Buffer int `yaml:"buffer" json:"buffer"`

	// ReconnectWait is the delay between reconnect attempts. Default: 2s.
	ReconnectWait time.Duration `yaml:"reconnect_wait" json:"reconnect_wait"`
}

// NATS is a broker shared by several server instances through NATS.
//
// Subject mapping: <prefix>.todos.<owner>
type NATS struct {
	nc      *nats.Conn
	prefix  string
	buffer  int
	logger  core.Logger
	metrics *prometheus.Metrics

	mu   sync.Mutex
	subs map[*Subscription]*nats.Subscription
}

// NewNATS connects to NATS and returns a broker
func NewNATS(cfg NATSConfig, logger core.Logger, metrics *prometheus.Metrics) (*NATS, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "todosync"
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}

	b := &NATS{
		prefix:  prefix,
		buffer:  cfg.Buffer,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[*Subscription]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.failAll(ErrClosed)
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	b.nc = nc
	return b, nil
}

func (b *NATS) subject(ownerID string) (string, error) {
	if ownerID == "" || strings.ContainsAny(ownerID, ".*> \t\r\n") {
		return "", &core.Error{Code: "INVALID_OWNER", Message: fmt.Sprintf("owner %q cannot be used as a subject token", ownerID)}
	}
	return b.prefix + ".todos." + ownerID, nil
}

// Publish sends ev to every instance subscribed to its owner
func (b *NATS) Publish(ctx context.Context, ev todo.Event) error {
	subj, err := b.subject(ev.Item.OwnerID)
	if err != nil {
		return err
	}
	data, err := todo.EncodeEvent(ev)
	if err != nil {
		return err
	}

	msg := &nats.Msg{Subject: subj, Data: data, Header: nats.Header{}}
	if rid := core.GetRequestID(ctx); rid != "" {
		msg.Header.Set(core.RequestIDHeader, rid)
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	b.metrics.FeedPublished(string(ev.Kind))
	return nil
}

// Subscribe opens a subscription on ownerID's subject. Malformed payloads
// are logged, reported on Rejects and skipped.
func (b *NATS) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	subj, err := b.subject(ownerID)
	if err != nil {
		return nil, err
	}

	var sub *Subscription
	sub = NewSubscription(ownerID, b.buffer, func() { b.unsubscribe(sub) })

	ns, err := b.nc.Subscribe(subj, func(msg *nats.Msg) {
		ev, err := todo.DecodeEvent(msg.Data)
		if err != nil {
			b.logger.Warn("dropping malformed event", "subject", msg.Subject, "error", err)
			sub.Reject(err)
			return
		}
		sub.Deliver(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subj, err)
	}

	// Make sure the server knows about the interest before returning, so an
	// event published right after Subscribe is not missed.
	if err := b.nc.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", subj, err)
	}

	b.mu.Lock()
	b.subs[sub] = ns
	b.mu.Unlock()
	b.metrics.FeedSubscribers(1)

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Release()
		case <-sub.Done():
		}
	}()

	return sub, nil
}

func (b *NATS) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	ns, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if ok {
		b.metrics.FeedSubscribers(-1)
		if err := ns.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			b.logger.Debug("nats unsubscribe failed", "error", err)
		}
	}
}

func (b *NATS) failAll(err error) {
	b.mu.Lock()
	all := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		all = append(all, sub)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Fail(err)
	}
}

// Close drains the connection and fails remaining subscriptions
func (b *NATS) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
	b.failAll(ErrClosed)
	return nil
}
