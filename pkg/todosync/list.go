// Package todosync keeps a local, optimistic view of one owner's todos in
// step with the remote store.
//
// Mutations go through a Manager, which applies them locally before the
// remote call and confirms or rolls back afterwards. Change events from the
// feed are folded in by a Reconciler. Both write to the same List, whose
// mutex makes every read-then-write a single step. A Handle ties the two to
// the signed-in owner's lifecycle.
package todosync

import (
	"slices"
	"sync"

	"github.com/fluxorio/todosync/pkg/todo"
)

// List is the local ordered todo list plus the view state around it
type List struct {
	mu       sync.Mutex
	items    []todo.Tracked
	inflight map[string]struct{}
	deleting map[string]struct{}
	loading  bool
	err      string
	onChange func()
}

// NewList creates an empty list. onChange, if set, runs after every change
// with the list unlocked.
func NewList(onChange func()) *List {
	return &List{
		inflight: make(map[string]struct{}),
		deleting: make(map[string]struct{}),
		onChange: onChange,
	}
}

// commit runs fn under the lock and reports a change if fn returns true
func (l *List) commit(fn func() bool) {
	l.mu.Lock()
	changed := fn()
	l.mu.Unlock()
	if changed && l.onChange != nil {
		l.onChange()
	}
}

func (l *List) index(id string) int {
	return slices.IndexFunc(l.items, func(t todo.Tracked) bool { return t.ID == id })
}

// Items returns a copy of the list
func (l *List) Items() []todo.Tracked {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

// Get returns the item with id
func (l *List) Get(id string) (todo.Tracked, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.index(id); i >= 0 {
		return l.items[i], true
	}
	return todo.Tracked{}, false
}

// Len returns the number of items
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Deleting reports whether a delete round-trip for id is in flight
func (l *List) Deleting(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.deleting[id]
	return ok
}

// Loading reports whether a fetch is in flight
func (l *List) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Err is the last fetch or mutation error message, empty if none
func (l *List) Err() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// SetLoading sets the loading flag
func (l *List) SetLoading(loading bool) {
	l.commit(func() bool {
		changed := l.loading != loading
		l.loading = loading
		return changed
	})
}

// SetErr sets the error message; empty clears it
func (l *List) SetErr(msg string) {
	l.commit(func() bool {
		changed := l.err != msg
		l.err = msg
		return changed
	})
}

// Reset replaces the list with fetched items. Placeholders of creates still
// in flight stay at the head; rows with a delete in flight stay hidden.
func (l *List) Reset(items []todo.Item) {
	l.commit(func() bool {
		next := make([]todo.Tracked, 0, len(items)+len(l.inflight))
		seen := make(map[string]struct{}, len(items))
		for _, t := range l.items {
			if t.Speculative {
				next = append(next, t)
				seen[t.ID] = struct{}{}
			}
		}
		for _, it := range items {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			if _, gone := l.deleting[it.ID]; gone {
				continue
			}
			seen[it.ID] = struct{}{}
			t := todo.Confirmed(it)
			// keep the pending flag of an update still in flight
			if _, busy := l.inflight[it.ID]; busy {
				if i := l.index(it.ID); i >= 0 {
					t = l.items[i]
				}
			}
			next = append(next, t)
		}
		l.items = next
		return true
	})
}

// Clear empties the list and forgets all view state
func (l *List) Clear() {
	l.commit(func() bool {
		l.items = nil
		l.inflight = make(map[string]struct{})
		l.deleting = make(map[string]struct{})
		l.loading = false
		l.err = ""
		return true
	})
}

// begin marks id in flight; false if it already is
func (l *List) begin(id string) bool {
	if _, busy := l.inflight[id]; busy {
		return false
	}
	l.inflight[id] = struct{}{}
	return true
}

func (l *List) end(id string) {
	delete(l.inflight, id)
	delete(l.deleting, id)
}

// InsertSpeculative puts a placeholder at the head
func (l *List) InsertSpeculative(it todo.Item) todo.Tracked {
	t := todo.Tracked{Item: it, Pending: true, Speculative: true}
	l.commit(func() bool {
		l.items = slices.Insert(l.items, 0, t)
		l.inflight[it.ID] = struct{}{}
		return true
	})
	return t
}

// ConfirmCreate swaps the placeholder for the stored item in the same slot.
// Any other entry already carrying the stored id (an echoed insert that beat
// the response) is dropped. If the placeholder is gone the item goes to the
// head, unless present.
func (l *List) ConfirmCreate(tempID string, it todo.Item) {
	l.commit(func() bool {
		l.end(tempID)
		confirmed := todo.Confirmed(it)
		slot := l.index(tempID)
		if slot < 0 {
			if l.index(it.ID) < 0 {
				l.items = slices.Insert(l.items, 0, confirmed)
			}
			return true
		}
		l.items[slot] = confirmed
		for j := len(l.items) - 1; j >= 0; j-- {
			if j != slot && l.items[j].ID == it.ID {
				l.items = slices.Delete(l.items, j, j+1)
			}
		}
		return true
	})
}

// RollbackCreate removes the placeholder
func (l *List) RollbackCreate(tempID string) {
	l.commit(func() bool {
		l.end(tempID)
		i := l.index(tempID)
		if i < 0 {
			return false
		}
		l.items = slices.Delete(l.items, i, i+1)
		return true
	})
}

// BeginUpdate applies the patch derived from the current item with the
// pending flag set and returns the pre-change snapshot along with the patch.
// Fails with ErrNotFound if id is absent and ErrPending if id is in flight.
func (l *List) BeginUpdate(id string, derive func(todo.Item) todo.Patch) (todo.Tracked, todo.Patch, error) {
	var (
		snapshot todo.Tracked
		patch    todo.Patch
		err      error
	)
	l.commit(func() bool {
		i := l.index(id)
		if i < 0 {
			err = todo.ErrNotFound
			return false
		}
		if !l.begin(id) {
			err = todo.ErrPending
			return false
		}
		snapshot = l.items[i]
		patch = derive(snapshot.Item)
		l.items[i].Item = patch.Apply(snapshot.Item)
		l.items[i].Pending = true
		return true
	})
	return snapshot, patch, err
}

// ConfirmUpdate stores the server row and clears pending. Nothing happens
// if a delete event removed the item meanwhile.
func (l *List) ConfirmUpdate(it todo.Item) {
	l.commit(func() bool {
		l.end(it.ID)
		i := l.index(it.ID)
		if i < 0 {
			return false
		}
		l.items[i] = todo.Confirmed(it)
		return true
	})
}

// RollbackUpdate restores the snapshot with pending cleared
func (l *List) RollbackUpdate(snapshot todo.Tracked) {
	l.commit(func() bool {
		l.end(snapshot.ID)
		i := l.index(snapshot.ID)
		if i < 0 {
			return false
		}
		snapshot.Pending = false
		l.items[i] = snapshot
		return true
	})
}

// BeginDelete removes id and returns its snapshot. Fails like BeginUpdate.
func (l *List) BeginDelete(id string) (todo.Tracked, error) {
	var (
		snapshot todo.Tracked
		err      error
	)
	l.commit(func() bool {
		i := l.index(id)
		if i < 0 {
			err = todo.ErrNotFound
			return false
		}
		if !l.begin(id) {
			err = todo.ErrPending
			return false
		}
		snapshot = l.items[i]
		l.items = slices.Delete(l.items, i, i+1)
		l.deleting[id] = struct{}{}
		return true
	})
	return snapshot, err
}

// ConfirmDelete forgets the pending delete
func (l *List) ConfirmDelete(id string) {
	l.commit(func() bool {
		_, was := l.deleting[id]
		l.end(id)
		return was
	})
}

// RollbackDelete merges the snapshot back by creation time, newest first,
// unless an entry with its id reappeared meanwhile.
func (l *List) RollbackDelete(snapshot todo.Tracked) {
	l.commit(func() bool {
		l.end(snapshot.ID)
		if l.index(snapshot.ID) >= 0 {
			return true
		}
		snapshot.Pending = false
		at := slices.IndexFunc(l.items, func(t todo.Tracked) bool {
			return todo.NewerFirst(snapshot.Item, t.Item) < 0
		})
		if at < 0 {
			at = len(l.items)
		}
		l.items = slices.Insert(l.items, at, snapshot)
		return true
	})
}

// Fold applies a change event and reports whether the list changed
func (l *List) Fold(ev todo.Event) bool {
	changed := false
	l.commit(func() bool {
		i := l.index(ev.Item.ID)
		switch ev.Kind {
		case todo.EventInserted:
			if i >= 0 {
				return false
			}
			l.items = slices.Insert(l.items, 0, todo.Confirmed(ev.Item))
		case todo.EventUpdated:
			if i < 0 {
				return false
			}
			cur := l.items[i]
			l.items[i] = todo.Tracked{Item: ev.Item, Pending: cur.Pending, Speculative: cur.Speculative}
		case todo.EventDeleted:
			if i < 0 {
				return false
			}
			l.items = slices.Delete(l.items, i, i+1)
		default:
			return false
		}
		changed = true
		return true
	})
	return changed
}
