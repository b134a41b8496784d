package core

// Error is an infrastructure error with a stable code
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors carrying the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ErrInvalidInput is returned for nil or empty codec input
var ErrInvalidInput = &Error{Code: "INVALID_INPUT", Message: "invalid input"}
