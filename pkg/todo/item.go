// Package todo holds the todo domain model shared by the client core, the
// stores and the HTTP surface.
package todo

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength is the maximum number of characters in a todo's text
const MaxTextLength = 500

// Item is a confirmed (or placeholder) todo row.
type Item struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"user_id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracked is the local view of an Item. The flags only live in memory.
type Tracked struct {
	Item

	// Pending is set while a round-trip for this item is in flight
	Pending bool `json:"-"`

	// Speculative is set while the item exists only locally
	Speculative bool `json:"-"`
}

// Confirmed wraps an item coming from the remote store.
func Confirmed(it Item) Tracked {
	return Tracked{Item: it}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Text == nil && p.Completed == nil
}

// Apply returns it with the patch fields applied
func (p Patch) Apply(it Item) Item {
	if p.Text != nil {
		it.Text = *p.Text
	}
	if p.Completed != nil {
		it.Completed = *p.Completed
	}
	return it
}

// Normalize validates the patch and trims its text
func (p Patch) Normalize() (Patch, error) {
	if p.Text == nil {
		return p, nil
	}
	text, err := NormalizeText(*p.Text)
	if err != nil {
		return p, err
	}
	p.Text = &text
	return p, nil
}

// SetText is a Patch that only replaces the text
func SetText(text string) Patch {
	return Patch{Text: &text}
}

// SetCompleted is a Patch that only changes the completion flag
func SetCompleted(completed bool) Patch {
	return Patch{Completed: &completed}
}

// NormalizeText trims text and checks it against the length limits.
func NormalizeText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(trimmed) > MaxTextLength {
		return "", ErrTextTooLong
	}
	return trimmed, nil
}

// Result is what every mutation returns to the view layer.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Item    *Item  `json:"todo,omitempty"`
}

// Ok is a successful Result carrying it (nil for deletes)
func Ok(it *Item) Result {
	return Result{Success: true, Item: it}
}

// Failed converts err into an unsuccessful Result
func Failed(err error) Result {
	return Result{Success: false, Error: Message(err)}
}

// NewerFirst orders items by creation time, newest first.
// Ties keep a stable order by id.
func NewerFirst(a, b Item) int {
	switch {
	case a.CreatedAt.After(b.CreatedAt):
		return -1
	case a.CreatedAt.Before(b.CreatedAt):
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}
