package core

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// JSONEncode marshals v with sonic. The output is readable by encoding/json.
func JSONEncode(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("json encode: nil value: %w", ErrInvalidInput)
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return data, nil
}

// JSONDecode unmarshals data into v with sonic
func JSONDecode(data []byte, v interface{}) error {
	switch {
	case len(data) == 0:
		return fmt.Errorf("json decode: empty data: %w", ErrInvalidInput)
	case v == nil:
		return fmt.Errorf("json decode: nil target: %w", ErrInvalidInput)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}
