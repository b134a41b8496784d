package todosync

import (
	"testing"

	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldInsertedSkipsKnownIDs(t *testing.T) {
	l := NewList(nil)
	l.Reset([]todo.Item{item("t1", "Buy milk", 1)})

	assert.False(t, l.Fold(todo.Inserted(item("t1", "Buy milk", 1))))
	assert.Equal(t, 1, l.Len())

	assert.True(t, l.Fold(todo.Inserted(item("t2", "Walk dog", 2))))
	assert.Equal(t, []string{"t2", "t1"}, ids(l.Items()))
}

func TestFoldUpdatedKeepsLocalFlags(t *testing.T) {
	l := NewList(nil)
	l.Reset([]todo.Item{item("t1", "Buy milk", 1)})
	_, _, err := l.BeginUpdate("t1", func(todo.Item) todo.Patch { return todo.SetCompleted(true) })
	require.NoError(t, err)

	remote := item("t1", "Buy oat milk", 1)
	assert.True(t, l.Fold(todo.Updated(remote)))

	got, ok := l.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "Buy oat milk", got.Text)
	assert.True(t, got.Pending)

	assert.False(t, l.Fold(todo.Updated(item("t9", "unknown", 9))))
}

func TestFoldDeletedAbsentIsNoop(t *testing.T) {
	l := NewList(nil)
	l.Reset([]todo.Item{item("t1", "Buy milk", 1)})

	assert.False(t, l.Fold(todo.Deleted(todo.Item{ID: "t9", OwnerID: "alice"})))
	assert.Equal(t, 1, l.Len())

	assert.True(t, l.Fold(todo.Deleted(todo.Item{ID: "t1", OwnerID: "alice"})))
	assert.Zero(t, l.Len())
}

func TestConfirmCreateAfterEcho(t *testing.T) {
	l := NewList(nil)
	l.Reset([]todo.Item{item("t1", "old", 1)})
	l.InsertSpeculative(item("temp-a", "Buy milk", 5))

	// the insert event beats the create response
	assert.True(t, l.Fold(todo.Inserted(item("t2", "Buy milk", 5))))
	assert.Equal(t, 3, l.Len())

	l.ConfirmCreate("temp-a", item("t2", "Buy milk", 5))
	items := l.Items()
	assert.Equal(t, []string{"t2", "t1"}, ids(items))
	assert.False(t, items[0].Pending)
	assert.False(t, items[0].Speculative)
}

func TestConfirmCreateWithoutPlaceholder(t *testing.T) {
	l := NewList(nil)
	l.InsertSpeculative(item("temp-a", "Buy milk", 5))
	l.Clear()

	l.ConfirmCreate("temp-a", item("t2", "Buy milk", 5))
	assert.Equal(t, []string{"t2"}, ids(l.Items()))

	l.ConfirmCreate("temp-b", item("t2", "Buy milk", 5))
	assert.Equal(t, 1, l.Len())
}

func TestNoDuplicateIDs(t *testing.T) {
	l := NewList(nil)
	steps := []func(){
		func() { l.InsertSpeculative(item("temp-1", "a", 1)) },
		func() { l.Fold(todo.Inserted(item("t1", "a", 1))) },
		func() { l.Fold(todo.Inserted(item("t1", "a", 1))) },
		func() { l.ConfirmCreate("temp-1", item("t1", "a", 1)) },
		func() { l.Fold(todo.Inserted(item("t1", "a", 1))) },
		func() { l.InsertSpeculative(item("temp-2", "b", 2)) },
		func() { l.ConfirmCreate("temp-2", item("t2", "b", 2)) },
		func() { l.Fold(todo.Inserted(item("t2", "b", 2))) },
		func() { l.Reset([]todo.Item{item("t2", "b", 2), item("t1", "a", 1)}) },
	}
	for i, step := range steps {
		step()
		seen := make(map[string]bool)
		for _, id := range ids(l.Items()) {
			require.False(t, seen[id], "duplicate %s after step %d", id, i)
			seen[id] = true
		}
	}
	assert.Equal(t, []string{"t2", "t1"}, ids(l.Items()))
}

func TestInflightGuard(t *testing.T) {
	l := NewList(nil)
	l.Reset([]todo.Item{item("t1", "Buy milk", 1)})

	_, _, err := l.BeginUpdate("t1", func(todo.Item) todo.Patch { return todo.SetCompleted(true) })
	require.NoError(t, err)

	_, _, err = l.BeginUpdate("t1", func(todo.Item) todo.Patch { return todo.SetCompleted(false) })
	assert.ErrorIs(t, err, todo.ErrPending)
	_, err = l.BeginDelete("t1")
	assert.ErrorIs(t, err, todo.ErrPending)

	_, _, err = l.BeginUpdate("t9", func(todo.Item) todo.Patch { return todo.Patch{} })
	assert.ErrorIs(t, err, todo.ErrNotFound)

	l.ConfirmUpdate(item("t1", "Buy milk", 1))
	_, err = l.BeginDelete("t1")
	assert.NoError(t, err)
}

func TestRollbackDeleteRestoresPosition(t *testing.T) {
	l := NewList(nil)
	l.Reset([]todo.Item{item("t3", "c", 3), item("t2", "b", 2), item("t1", "a", 1)})

	snapshot, err := l.BeginDelete("t2")
	require.NoError(t, err)
	assert.True(t, l.Deleting("t2"))
	assert.Equal(t, []string{"t3", "t1"}, ids(l.Items()))

	l.RollbackDelete(snapshot)
	assert.False(t, l.Deleting("t2"))
	assert.Equal(t, []string{"t3", "t2", "t1"}, ids(l.Items()))

	got, _ := l.Get("t2")
	assert.Equal(t, snapshot.Item, got.Item)
}

func TestRollbackDeleteSkipsReappeared(t *testing.T) {
	l := NewList(nil)
	l.Reset([]todo.Item{item("t1", "a", 1)})

	snapshot, err := l.BeginDelete("t1")
	require.NoError(t, err)
	l.Fold(todo.Inserted(item("t1", "a", 1)))

	l.RollbackDelete(snapshot)
	assert.Equal(t, 1, l.Len())
}

func TestResetKeepsLocalWork(t *testing.T) {
	l := NewList(nil)
	l.Reset([]todo.Item{item("t2", "b", 2), item("t1", "a", 1)})
	l.InsertSpeculative(item("temp-x", "new", 9))
	_, err := l.BeginDelete("t2")
	require.NoError(t, err)
	_, _, err = l.BeginUpdate("t1", func(todo.Item) todo.Patch { return todo.SetCompleted(true) })
	require.NoError(t, err)

	l.Reset([]todo.Item{item("t2", "b", 2), item("t1", "a", 1)})

	items := l.Items()
	assert.Equal(t, []string{"temp-x", "t1"}, ids(items))
	assert.True(t, items[1].Pending)
	assert.True(t, items[1].Completed)
}

func TestListNotifiesOnlyOnChange(t *testing.T) {
	calls := 0
	l := NewList(func() { calls++ })

	l.SetErr("boom")
	l.SetErr("boom")
	l.SetLoading(false)
	assert.Equal(t, 1, calls)

	l.Fold(todo.Deleted(todo.Item{ID: "absent"}))
	assert.Equal(t, 1, calls)
}
