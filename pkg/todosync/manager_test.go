package todosync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fluxorio/todosync/pkg/observability/prometheus"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, owner string) (*Manager, *scriptedRepo, *prometheus.Metrics) {
	t.Helper()
	repo := newScriptedRepo()
	metrics := prometheus.NewMetrics()
	m := NewManager(owner, repo, NewList(nil), ManagerConfig{
		MutationTimeout: time.Second,
		Metrics:         metrics,
	})
	return m, repo, metrics
}

// seed creates items remotely and loads them
func seed(t *testing.T, m *Manager, repo *scriptedRepo, texts ...string) []todo.Item {
	t.Helper()
	ctx := context.Background()
	out := make([]todo.Item, 0, len(texts))
	for _, text := range texts {
		it, err := repo.Memory.Create(ctx, m.Owner(), text)
		require.NoError(t, err)
		out = append(out, it)
	}
	require.NoError(t, m.Refetch(ctx))
	return out
}

func TestCreateShowsPlaceholderThenConfirms(t *testing.T) {
	m, repo, metrics := newTestManager(t, "alice")
	release := repo.hold()

	done := make(chan todo.Result, 1)
	go func() { done <- m.Create(context.Background(), "Buy milk") }()

	require.Eventually(t, func() bool { return m.List().Len() == 1 }, time.Second, time.Millisecond)
	placeholder := m.List().Items()[0]
	assert.True(t, strings.HasPrefix(placeholder.ID, TempIDPrefix))
	assert.Equal(t, "Buy milk", placeholder.Text)
	assert.True(t, placeholder.Pending)
	assert.True(t, placeholder.Speculative)

	release()
	res := <-done
	require.True(t, res.Success)
	require.NotNil(t, res.Item)

	items := m.List().Items()
	require.Len(t, items, 1)
	assert.Equal(t, res.Item.ID, items[0].ID)
	assert.Equal(t, "Buy milk", items[0].Text)
	assert.False(t, items[0].Completed)
	assert.False(t, items[0].Pending)
	assert.False(t, items[0].Speculative)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("create", outcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("create", outcomeConfirmed)))
}

func TestCreateRollsBack(t *testing.T) {
	m, repo, metrics := newTestManager(t, "alice")
	seed(t, m, repo, "existing")
	before := m.List().Items()
	repo.failOn("create", errBackend)

	res := m.Create(context.Background(), "Buy milk")
	assert.False(t, res.Success)
	assert.Equal(t, errBackend.Error(), res.Error)
	assert.Equal(t, before, m.List().Items())
	assert.Equal(t, errBackend.Error(), m.List().Err())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("create", outcomeRolledBack)))
}

func TestCreateRejectsBeforeRemote(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		text  string
		want  string
	}{
		{"empty", "alice", "", "Please enter a task"},
		{"blank", "alice", "   \t", "Please enter a task"},
		{"too long", "alice", strings.Repeat("x", todo.MaxTextLength+1), "Task must be 500 characters or less"},
		{"signed out", "", "Buy milk", "User not authenticated"},
		{"signed out wins over validation", "", "", "User not authenticated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, repo, _ := newTestManager(t, tt.owner)
			res := m.Create(context.Background(), tt.text)
			assert.Equal(t, todo.Result{Success: false, Error: tt.want}, res)
			assert.Zero(t, m.List().Len())
			assert.Zero(t, repo.calls.Load())
		})
	}
}

func TestCreateAcceptsMaxLength(t *testing.T) {
	m, _, _ := newTestManager(t, "alice")
	res := m.Create(context.Background(), strings.Repeat("é", todo.MaxTextLength))
	assert.True(t, res.Success)
}

func TestToggleRollsBack(t *testing.T) {
	m, repo, _ := newTestManager(t, "alice")
	created := seed(t, m, repo, "Buy milk")[0]
	release := repo.hold()
	repo.failOn("update", errBackend)

	done := make(chan todo.Result, 1)
	go func() { done <- m.Toggle(context.Background(), created.ID) }()

	require.Eventually(t, func() bool {
		got, _ := m.List().Get(created.ID)
		return got.Pending
	}, time.Second, time.Millisecond)
	got, _ := m.List().Get(created.ID)
	assert.True(t, got.Completed)

	release()
	res := <-done
	assert.False(t, res.Success)
	assert.NotEmpty(t, m.List().Err())

	got, _ = m.List().Get(created.ID)
	assert.Equal(t, created, got.Item)
	assert.False(t, got.Pending)
}

func TestToggleConfirms(t *testing.T) {
	m, repo, _ := newTestManager(t, "alice")
	created := seed(t, m, repo, "Buy milk")[0]

	res := m.Toggle(context.Background(), created.ID)
	require.True(t, res.Success)
	assert.True(t, res.Item.Completed)

	got, _ := m.List().Get(created.ID)
	assert.True(t, got.Completed)
	assert.False(t, got.Pending)

	res = m.Toggle(context.Background(), created.ID)
	require.True(t, res.Success)
	assert.False(t, res.Item.Completed)
}

func TestSecondMutationWhileInFlight(t *testing.T) {
	m, repo, metrics := newTestManager(t, "alice")
	created := seed(t, m, repo, "Buy milk")[0]
	release := repo.hold()

	done := make(chan todo.Result, 1)
	go func() { done <- m.Toggle(context.Background(), created.ID) }()
	require.Eventually(t, func() bool {
		got, _ := m.List().Get(created.ID)
		return got.Pending
	}, time.Second, time.Millisecond)

	res := m.Toggle(context.Background(), created.ID)
	assert.Equal(t, "Todo has a pending change", res.Error)
	res = m.Delete(context.Background(), created.ID)
	assert.Equal(t, "Todo has a pending change", res.Error)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("toggle", outcomeRejected))+
		testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("delete", outcomeRejected)))

	release()
	assert.True(t, (<-done).Success)
}

func TestUpdateValidates(t *testing.T) {
	m, repo, _ := newTestManager(t, "alice")
	created := seed(t, m, repo, "Buy milk")[0]
	ctx := context.Background()

	assert.Equal(t, "Nothing to update", m.Update(ctx, created.ID, todo.Patch{}).Error)
	assert.Equal(t, "Please enter a task", m.Update(ctx, created.ID, todo.SetText("  ")).Error)
	assert.Equal(t, "Todo not found", m.Update(ctx, "missing", todo.SetText("x")).Error)
	assert.Zero(t, repo.calls.Load())

	res := m.Update(ctx, created.ID, todo.SetText("  Buy oat milk "))
	require.True(t, res.Success)
	got, _ := m.List().Get(created.ID)
	assert.Equal(t, "Buy oat milk", got.Text)
}

func TestDeleteRollsBackInPlace(t *testing.T) {
	m, repo, _ := newTestManager(t, "alice")
	seeded := seed(t, m, repo, "first", "second", "third")
	before := m.List().Items()
	middle := seeded[1]
	release := repo.hold()
	repo.failOn("delete", errBackend)

	done := make(chan todo.Result, 1)
	go func() { done <- m.Delete(context.Background(), middle.ID) }()
	require.Eventually(t, func() bool { return m.List().Deleting(middle.ID) }, time.Second, time.Millisecond)
	_, present := m.List().Get(middle.ID)
	assert.False(t, present)

	release()
	res := <-done
	assert.False(t, res.Success)
	assert.Equal(t, before, m.List().Items())
	assert.False(t, m.List().Deleting(middle.ID))
}

func TestDeleteConfirms(t *testing.T) {
	m, repo, _ := newTestManager(t, "alice")
	created := seed(t, m, repo, "Buy milk")[0]

	res := m.Delete(context.Background(), created.ID)
	assert.True(t, res.Success)
	assert.Nil(t, res.Item)
	assert.Zero(t, m.List().Len())

	res = m.Delete(context.Background(), created.ID)
	assert.Equal(t, "Todo not found", res.Error)
}

func TestMutationSurvivesCallerCancel(t *testing.T) {
	m, repo, _ := newTestManager(t, "alice")
	release := repo.hold()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan todo.Result, 1)
	go func() { done <- m.Create(ctx, "Buy milk") }()
	require.Eventually(t, func() bool { return m.List().Len() == 1 }, time.Second, time.Millisecond)

	cancel()
	release()
	assert.True(t, (<-done).Success)
	assert.False(t, m.List().Items()[0].Speculative)
}

func TestMutationTimesOut(t *testing.T) {
	repo := newScriptedRepo()
	m := NewManager("alice", repo, NewList(nil), ManagerConfig{MutationTimeout: 20 * time.Millisecond})
	release := repo.hold()
	defer release()

	res := m.Create(context.Background(), "Buy milk")
	assert.False(t, res.Success)
	assert.Zero(t, m.List().Len())
}

func TestMutationClearsPreviousError(t *testing.T) {
	m, repo, _ := newTestManager(t, "alice")
	repo.failOn("create", errBackend)
	m.Create(context.Background(), "one")
	require.NotEmpty(t, m.List().Err())

	repo.failOn("create", nil)
	assert.True(t, m.Create(context.Background(), "two").Success)
	assert.Empty(t, m.List().Err())
}

func TestRefetch(t *testing.T) {
	m, repo, _ := newTestManager(t, "alice")
	seeded := seed(t, m, repo, "first", "second")
	assert.Equal(t, []string{seeded[1].ID, seeded[0].ID}, ids(m.List().Items()))
	assert.False(t, m.List().Loading())

	repo.failOn("fetch", errBackend)
	err := m.Refetch(context.Background())
	assert.ErrorIs(t, err, todo.ErrRemote)
	assert.Equal(t, errBackend.Error(), m.List().Err())
	assert.Equal(t, 2, m.List().Len(), "list kept on failure")
	assert.False(t, m.List().Loading())
}

func TestRefetchSignedOutClears(t *testing.T) {
	list := NewList(nil)
	list.Reset([]todo.Item{item("t1", "a", 1)})
	m := NewManager("", newScriptedRepo(), list, ManagerConfig{})

	assert.ErrorIs(t, m.Refetch(context.Background()), todo.ErrUnauthenticated)
	assert.Zero(t, list.Len())
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("A create confirms", func(t *testing.T) {
		m, _, _ := newTestManager(t, "alice")
		res := m.Create(ctx, "Buy milk")
		require.True(t, res.Success)
		items := m.List().Items()
		require.Len(t, items, 1)
		assert.Equal(t, todo.Tracked{Item: *res.Item}, items[0])
	})

	t.Run("B toggle fails and reverts", func(t *testing.T) {
		m, repo, _ := newTestManager(t, "alice")
		created := seed(t, m, repo, "Buy milk")[0]
		repo.failOn("update", errBackend)
		res := m.Toggle(ctx, created.ID)
		assert.False(t, res.Success)
		got, _ := m.List().Get(created.ID)
		assert.False(t, got.Completed)
		assert.Equal(t, errBackend.Error(), m.List().Err())
	})

	t.Run("C inbound delete", func(t *testing.T) {
		m, repo, _ := newTestManager(t, "alice")
		created := seed(t, m, repo, "Buy milk")[0]
		calls := repo.calls.Load()
		m.List().Fold(todo.Deleted(todo.Item{ID: created.ID, OwnerID: "alice"}))
		assert.Zero(t, m.List().Len())
		assert.Equal(t, calls, repo.calls.Load())
	})

	t.Run("D empty create", func(t *testing.T) {
		m, repo, _ := newTestManager(t, "alice")
		res := m.Create(ctx, "")
		assert.Equal(t, todo.Result{Error: "Please enter a task"}, res)
		assert.Zero(t, repo.calls.Load())
	})
}
