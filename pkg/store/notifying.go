package store

import (
	"context"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/todo"
)

// Notifying publishes a change event after every successful mutation of the
// wrapped repository. A failed publish is logged and does not fail the
// mutation: the row is already committed and clients converge on refetch.
type Notifying struct {
	repo   Repository
	broker feed.Broker
	logger core.Logger
}

// NewNotifying wires repo to broker
func NewNotifying(repo Repository, broker feed.Broker, logger core.Logger) *Notifying {
	failfast.NotNil(repo, "repo")
	failfast.NotNil(broker, "broker")
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Notifying{repo: repo, broker: broker, logger: logger}
}

func (n *Notifying) FetchAll(ctx context.Context, ownerID string) ([]todo.Item, error) {
	return n.repo.FetchAll(ctx, ownerID)
}

func (n *Notifying) Create(ctx context.Context, ownerID, text string) (todo.Item, error) {
	it, err := n.repo.Create(ctx, ownerID, text)
	if err != nil {
		return it, err
	}
	n.publish(ctx, todo.Inserted(it))
	return it, nil
}

func (n *Notifying) Update(ctx context.Context, ownerID, id string, patch todo.Patch) (todo.Item, error) {
	it, err := n.repo.Update(ctx, ownerID, id, patch)
	if err != nil {
		return it, err
	}
	n.publish(ctx, todo.Updated(it))
	return it, nil
}

func (n *Notifying) Delete(ctx context.Context, ownerID, id string) error {
	if err := n.repo.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	n.publish(ctx, todo.Deleted(todo.Item{ID: id, OwnerID: ownerID}))
	return nil
}

func (n *Notifying) Subscribe(ctx context.Context, ownerID string) (*feed.Subscription, error) {
	return n.broker.Subscribe(ctx, ownerID)
}

func (n *Notifying) publish(ctx context.Context, ev todo.Event) {
	if err := n.broker.Publish(ctx, ev); err != nil {
		n.logger.WithContext(ctx).Warn("publish change event failed",
			"kind", string(ev.Kind), "id", ev.Item.ID, "error", err)
	}
}

// Close closes the broker and, if it holds connections, the repository
func (n *Notifying) Close() error {
	err := n.broker.Close()
	if c, ok := n.repo.(Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
