package todo

import (
	"fmt"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
)

// EventKind tags a change event
type EventKind string

const (
	EventInserted EventKind = "inserted"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
)

// Valid reports whether k is one of the known kinds
func (k EventKind) Valid() bool {
	switch k {
	case EventInserted, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// Event is a change pushed by the remote store. Item carries the confirmed
// fields; for deletes only ID and OwnerID are meaningful.
type Event struct {
	Kind EventKind `json:"kind"`
	Item Item      `json:"item"`
}

// Inserted builds an insert event
func Inserted(it Item) Event { return Event{Kind: EventInserted, Item: it} }

// Updated builds an update event
func Updated(it Item) Event { return Event{Kind: EventUpdated, Item: it} }

// Deleted builds a delete event
func Deleted(it Item) Event { return Event{Kind: EventDeleted, Item: it} }

// DecodeError is returned for payloads that are not a well-formed event
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return "malformed event: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

type wireItem struct {
	ID        *string    `json:"id"`
	OwnerID   *string    `json:"user_id"`
	Text      *string    `json:"text"`
	Completed *bool      `json:"completed"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type wireEvent struct {
	Kind *string   `json:"kind"`
	Item *wireItem `json:"item"`
}

// EncodeEvent serializes ev in the wire shape DecodeEvent accepts
func EncodeEvent(ev Event) ([]byte, error) {
	return core.JSONEncode(ev)
}

// DecodeEvent strictly decodes a change event. Inserts and updates need the
// full row; deletes only need the identity fields.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := core.JSONDecode(data, &w); err != nil {
		return Event{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	return w.event()
}

func (w wireEvent) event() (Event, error) {
	if w.Kind == nil {
		return Event{}, &DecodeError{Reason: "missing kind"}
	}
	kind := EventKind(*w.Kind)
	if !kind.Valid() {
		return Event{}, &DecodeError{Reason: fmt.Sprintf("unknown kind %q", *w.Kind)}
	}
	if w.Item == nil {
		return Event{}, &DecodeError{Reason: "missing item"}
	}
	wi := w.Item
	if wi.ID == nil || *wi.ID == "" {
		return Event{}, &DecodeError{Reason: "missing item id"}
	}
	if wi.OwnerID == nil || *wi.OwnerID == "" {
		return Event{}, &DecodeError{Reason: "missing item owner"}
	}

	it := Item{ID: *wi.ID, OwnerID: *wi.OwnerID}
	if kind == EventDeleted {
		return Event{Kind: kind, Item: it}, nil
	}

	switch {
	case wi.Text == nil:
		return Event{}, &DecodeError{Reason: "missing item text"}
	case wi.Completed == nil:
		return Event{}, &DecodeError{Reason: "missing item completed"}
	case wi.CreatedAt == nil:
		return Event{}, &DecodeError{Reason: "missing item created_at"}
	}
	it.Text = *wi.Text
	it.Completed = *wi.Completed
	it.CreatedAt = *wi.CreatedAt
	it.UpdatedAt = it.CreatedAt
	if wi.UpdatedAt != nil {
		it.UpdatedAt = *wi.UpdatedAt
	}
	return Event{Kind: kind, Item: it}, nil
}
