package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type row struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

func TestJSONEncode(t *testing.T) {
	tests := []struct {
		name    string
		v       interface{}
		wantErr bool
	}{
		{"map", map[string]string{"type": "INSERT"}, false},
		{"string", "test", false},
		{"nil value", nil, true},
		{"struct", row{ID: "t1", Text: "milk"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSONEncode(tt.v)
			if (err != nil) != tt.wantErr {
				t.Errorf("JSONEncode() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJSONEncode_StdCompatible(t *testing.T) {
	in := row{ID: "t1", Text: "buy milk", Completed: true, CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	data, err := JSONEncode(in)
	if err != nil {
		t.Fatalf("JSONEncode() error = %v", err)
	}

	var out row
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("encoding/json cannot read %s: %v", data, err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestJSONDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		target  interface{}
		wantErr error
	}{
		{"valid", []byte(`{"id":"t1","text":"milk"}`), &row{}, nil},
		{"empty data", nil, &row{}, ErrInvalidInput},
		{"nil target", []byte(`{}`), nil, ErrInvalidInput},
		{"invalid json", []byte(`{"id":`), &row{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := JSONDecode(tt.data, tt.target)
			switch {
			case tt.name == "invalid json":
				if err == nil {
					t.Error("expected an error for truncated input")
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("JSONDecode() error = %v, want %v", err, tt.wantErr)
				}
			case err != nil:
				t.Errorf("JSONDecode() error = %v", err)
			}
		})
	}
}

func TestJSONDecode_Row(t *testing.T) {
	var r row
	if err := JSONDecode([]byte(`{"id":"t1","text":"walk dog","completed":true}`), &r); err != nil {
		t.Fatalf("JSONDecode() error = %v", err)
	}
	if r.ID != "t1" || r.Text != "walk dog" || !r.Completed {
		t.Errorf("got %+v", r)
	}
}
