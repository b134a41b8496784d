package todosync

import (
	"context"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/core/failfast"
	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/store"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/google/uuid"
)

// TempIDPrefix marks placeholder ids of creates still in flight
const TempIDPrefix = "temp-"

// DefaultMutationTimeout bounds every remote mutation call
const DefaultMutationTimeout = 30 * time.Second

// Mutation outcomes recorded in metrics
const (
	outcomeApplied    = "applied"
	outcomeConfirmed  = "confirmed"
	outcomeRolledBack = "rolled_back"
	outcomeRejected   = "rejected"
)

// ManagerConfig configures a Manager
type ManagerConfig struct {
	// MutationTimeout bounds each remote call. Default: DefaultMutationTimeout.
	MutationTimeout time.Duration

	Logger  core.Logger
	Metrics *prometheus.Metrics

	// Now stamps placeholders. Default: time.Now.
	Now func() time.Time
}

// Manager applies mutations optimistically for one owner
type Manager struct {
	owner   string
	repo    store.Repository
	list    *List
	timeout time.Duration
	logger  core.Logger
	metrics *prometheus.Metrics
	now     func() time.Time
}

// NewManager creates a manager writing to list. An empty owner is allowed:
// every mutation then fails with todo.ErrUnauthenticated.
func NewManager(owner string, repo store.Repository, list *List, cfg ManagerConfig) *Manager {
	failfast.NotNil(repo, "repo")
	failfast.NotNil(list, "list")

	m := &Manager{
		owner:   owner,
		repo:    repo,
		list:    list,
		timeout: cfg.MutationTimeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if m.timeout <= 0 {
		m.timeout = DefaultMutationTimeout
	}
	if m.logger == nil {
		m.logger = core.NewNopLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.logger = m.logger.WithFields(map[string]interface{}{"owner": owner})
	return m
}

// Owner returns the owner id
func (m *Manager) Owner() string {
	return m.owner
}

// List returns the list the manager writes to
func (m *Manager) List() *List {
	return m.list
}

// remote detaches the call from caller cancellation and bounds it
func (m *Manager) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
}

func (m *Manager) reject(op string, err error) todo.Result {
	m.metrics.Mutation(op, outcomeRejected)
	return todo.Failed(err)
}

func (m *Manager) rolledBack(ctx context.Context, op string, err error, start time.Time) todo.Result {
	err = todo.Remote(err)
	m.metrics.Mutation(op, outcomeRolledBack)
	m.metrics.MutationRoundTrip(op, time.Since(start))
	m.list.SetErr(todo.Message(err))
	m.logger.WithContext(ctx).Warn("mutation rolled back", "op", op, "error", err)
	return todo.Failed(err)
}

func (m *Manager) confirmed(op string, start time.Time) {
	m.metrics.Mutation(op, outcomeConfirmed)
	m.metrics.MutationRoundTrip(op, time.Since(start))
}

// Create adds a todo. A placeholder is shown at the head until the store
// answers; on failure it is removed again.
func (m *Manager) Create(ctx context.Context, text string) todo.Result {
	if m.owner == "" {
		return m.reject("create", todo.ErrUnauthenticated)
	}
	text, err := todo.NormalizeText(text)
	if err != nil {
		return m.reject("create", err)
	}

	now := m.now().UTC()
	placeholder := m.list.InsertSpeculative(todo.Item{
		ID:        TempIDPrefix + uuid.NewString(),
		OwnerID:   m.owner,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	})
	m.list.SetErr("")
	m.metrics.Mutation("create", outcomeApplied)

	start := time.Now()
	rctx, cancel := m.remote(ctx)
	defer cancel()
	it, err := m.repo.Create(rctx, m.owner, text)
	if err != nil {
		m.list.RollbackCreate(placeholder.ID)
		return m.rolledBack(ctx, "create", err, start)
	}

	m.list.ConfirmCreate(placeholder.ID, it)
	m.confirmed("create", start)
	return todo.Ok(&it)
}

// Update applies patch to id
func (m *Manager) Update(ctx context.Context, id string, patch todo.Patch) todo.Result {
	if m.owner == "" {
		return m.reject("update", todo.ErrUnauthenticated)
	}
	if patch.Empty() {
		return m.reject("update", todo.ErrEmptyPatch)
	}
	patch, err := patch.Normalize()
	if err != nil {
		return m.reject("update", err)
	}
	return m.update(ctx, "update", id, func(todo.Item) todo.Patch { return patch })
}

// Toggle inverts the completion flag as it stands locally right now
func (m *Manager) Toggle(ctx context.Context, id string) todo.Result {
	if m.owner == "" {
		return m.reject("toggle", todo.ErrUnauthenticated)
	}
	return m.update(ctx, "toggle", id, func(it todo.Item) todo.Patch {
		return todo.SetCompleted(!it.Completed)
	})
}

func (m *Manager) update(ctx context.Context, op, id string, derive func(todo.Item) todo.Patch) todo.Result {
	snapshot, patch, err := m.list.BeginUpdate(id, derive)
	if err != nil {
		return m.reject(op, err)
	}
	m.list.SetErr("")
	m.metrics.Mutation(op, outcomeApplied)

	start := time.Now()
	rctx, cancel := m.remote(ctx)
	defer cancel()
	it, err := m.repo.Update(rctx, m.owner, id, patch)
	if err != nil {
		m.list.RollbackUpdate(snapshot)
		return m.rolledBack(ctx, op, err, start)
	}

	m.list.ConfirmUpdate(it)
	m.confirmed(op, start)
	return todo.Ok(&it)
}

// Delete removes id at once and puts it back if the store refuses
func (m *Manager) Delete(ctx context.Context, id string) todo.Result {
	if m.owner == "" {
		return m.reject("delete", todo.ErrUnauthenticated)
	}
	snapshot, err := m.list.BeginDelete(id)
	if err != nil {
		return m.reject("delete", err)
	}
	m.list.SetErr("")
	m.metrics.Mutation("delete", outcomeApplied)

	start := time.Now()
	rctx, cancel := m.remote(ctx)
	defer cancel()
	if err := m.repo.Delete(rctx, m.owner, id); err != nil {
		m.list.RollbackDelete(snapshot)
		return m.rolledBack(ctx, "delete", err, start)
	}

	m.list.ConfirmDelete(id)
	m.confirmed("delete", start)
	return todo.Ok(nil)
}

// Refetch replaces the list with the store's rows. On failure the list is
// left as it is and the error message is recorded.
func (m *Manager) Refetch(ctx context.Context) error {
	if m.owner == "" {
		m.list.Clear()
		return todo.ErrUnauthenticated
	}

	m.list.SetLoading(true)
	m.list.SetErr("")
	defer m.list.SetLoading(false)

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	items, err := m.repo.FetchAll(rctx, m.owner)
	if err != nil {
		err = todo.Remote(err)
		m.list.SetErr(todo.Message(err))
		m.logger.WithContext(ctx).Error("fetch todos failed", "error", err)
		return err
	}
	m.list.Reset(items)
	return nil
}
