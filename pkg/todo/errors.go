package todo

import (
	"errors"
	"fmt"
)

// Kind classifies todo errors
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindRemote          Kind = "remote"
	KindUnauthenticated Kind = "unauthenticated"
	KindConflict        Kind = "conflict"
)

// Error is the error type returned across the todo boundary.
// Message is what the user sees; Err is the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrEmptyText       = &Error{Kind: KindValidation, Message: "Please enter a task"}
	ErrTextTooLong     = &Error{Kind: KindValidation, Message: fmt.Sprintf("Task must be %d characters or less", MaxTextLength)}
	ErrEmptyPatch      = &Error{Kind: KindValidation, Message: "Nothing to update"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "Todo not found"}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "User not authenticated"}
	ErrPending         = &Error{Kind: KindConflict, Message: "Todo has a pending change"}
	ErrRemote          = &Error{Kind: KindRemote, Message: "Remote store error"}
)

// Validation builds a validation error with a custom message
func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

// Remote wraps a collaborator failure. The message is passed through verbatim.
func Remote(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: KindRemote, Message: err.Error(), Err: err}
}

// Remotef builds a remote error from a format string
func Remotef(format string, args ...interface{}) error {
	return Remote(fmt.Errorf(format, args...))
}

// KindOf reports the kind of err; errors that are not *Error count as remote.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindRemote
}

// Message is the user-facing text for err
func Message(err error) string {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Error()
	}
	return err.Error()
}
