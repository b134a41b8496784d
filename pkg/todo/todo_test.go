package todo

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "trims", in: "  Buy milk \n", want: "Buy milk"},
		{name: "empty", in: "", wantErr: ErrEmptyText},
		{name: "blank", in: "   \t", wantErr: ErrEmptyText},
		{name: "at limit", in: strings.Repeat("a", MaxTextLength), want: strings.Repeat("a", MaxTextLength)},
		{name: "over limit", in: strings.Repeat("a", MaxTextLength+1), wantErr: ErrTextTooLong},
		{name: "multibyte at limit", in: strings.Repeat("é", MaxTextLength), want: strings.Repeat("é", MaxTextLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeText(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, KindValidation, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmptyTextMessage(t *testing.T) {
	assert.Equal(t, "Please enter a task", Failed(ErrEmptyText).Error)
}

func TestPatchApply(t *testing.T) {
	it := Item{ID: "t1", Text: "Buy milk"}

	got := SetCompleted(true).Apply(it)
	assert.True(t, got.Completed)
	assert.Equal(t, "Buy milk", got.Text)

	got = SetText("Buy bread").Apply(it)
	assert.Equal(t, "Buy bread", got.Text)
	assert.False(t, got.Completed)

	assert.True(t, Patch{}.Empty())
	assert.False(t, SetText("x").Empty())
}

func TestPatchNormalize(t *testing.T) {
	p, err := SetText("  spaced  ").Normalize()
	require.NoError(t, err)
	assert.Equal(t, "spaced", *p.Text)

	_, err = SetText(" ").Normalize()
	assert.ErrorIs(t, err, ErrEmptyText)

	p, err = SetCompleted(true).Normalize()
	require.NoError(t, err)
	assert.Nil(t, p.Text)
}

func TestErrorKinds(t *testing.T) {
	remote := Remote(errors.New("Failed to create todo: boom"))
	assert.Equal(t, KindRemote, KindOf(remote))
	assert.Equal(t, "Failed to create todo: boom", Message(remote))
	assert.ErrorIs(t, remote, ErrRemote)

	// already classified errors are kept as-is
	assert.Same(t, ErrNotFound, Remote(ErrNotFound))
	assert.Nil(t, Remote(nil))

	assert.ErrorIs(t, &Error{Kind: KindNotFound, Message: "gone"}, ErrNotFound)
	assert.NotErrorIs(t, ErrNotFound, ErrPending)
	assert.Equal(t, KindRemote, KindOf(errors.New("plain")))
}

func TestNewerFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older := Item{ID: "a", CreatedAt: base}
	newer := Item{ID: "b", CreatedAt: base.Add(time.Minute)}

	assert.Equal(t, -1, NewerFirst(newer, older))
	assert.Equal(t, 1, NewerFirst(older, newer))
	assert.Equal(t, -1, NewerFirst(Item{ID: "a", CreatedAt: base}, Item{ID: "b", CreatedAt: base}))
}

func TestDecodeEvent(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	it := Item{ID: "t1", OwnerID: "u1", Text: "Buy milk", CreatedAt: created, UpdatedAt: created}

	data, err := EncodeEvent(Inserted(it))
	require.NoError(t, err)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventInserted, ev.Kind)
	assert.Equal(t, "t1", ev.Item.ID)
	assert.Equal(t, "Buy milk", ev.Item.Text)
	assert.True(t, created.Equal(ev.Item.CreatedAt))
}

func TestDecodeEventDeleteNeedsOnlyIdentity(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"kind":"deleted","item":{"id":"t1","user_id":"u1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventDeleted, ev.Kind)
	assert.Equal(t, "t1", ev.Item.ID)
}

func TestDecodeEventRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":       `{`,
		"missing kind":   `{"item":{"id":"t1","user_id":"u1"}}`,
		"unknown kind":   `{"kind":"upserted","item":{"id":"t1","user_id":"u1"}}`,
		"missing item":   `{"kind":"deleted"}`,
		"missing id":     `{"kind":"deleted","item":{"user_id":"u1"}}`,
		"missing owner":  `{"kind":"deleted","item":{"id":"t1"}}`,
		"insert no text": `{"kind":"inserted","item":{"id":"t1","user_id":"u1","completed":false,"created_at":"2024-01-01T00:00:00Z"}}`,
		"update no date": `{"kind":"updated","item":{"id":"t1","user_id":"u1","text":"x","completed":false}}`,
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(payload))
			var de *DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
}
