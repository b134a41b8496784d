package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/todo"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The request was refused or failed
	ExitCommandError = 2 // Bad usage or local I/O failure
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var (
	doneStyle  = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	idStyle    = lipgloss.NewStyle().Faint(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	emptyStyle = lipgloss.NewStyle().Faint(true).Italic(true)
)

// printer writes command results as text or JSON
type printer struct {
	format string
	w      io.Writer
}

func (p printer) json(v interface{}) error {
	data, err := core.JSONEncode(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

// Items prints the list, numbered from 1 in the order shown
func (p printer) Items(items []todo.Item) error {
	if p.format == "json" {
		if items == nil {
			items = []todo.Item{}
		}
		return p.json(items)
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(p.w, emptyStyle.Render("No todos yet."))
		return err
	}
	var b strings.Builder
	for i, it := range items {
		box, text := "[ ]", it.Text
		if it.Completed {
			box, text = "[x]", doneStyle.Render(it.Text)
		}
		fmt.Fprintf(&b, "%3d. %s %s  %s\n", i+1, box, text, idStyle.Render(shortID(it.ID)))
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Item prints a single mutated item with a verb, e.g. "added"
func (p printer) Item(verb string, it *todo.Item) error {
	if p.format == "json" {
		return p.json(todo.Ok(it))
	}
	if it == nil {
		_, err := fmt.Fprintln(p.w, okStyle.Render("✔ "+verb))
		return err
	}
	_, err := fmt.Fprintf(p.w, "%s %s  %s\n", okStyle.Render("✔ "+verb), it.Text, idStyle.Render(shortID(it.ID)))
	return err
}

// Message prints a plain confirmation
func (p printer) Message(msg string) error {
	if p.format == "json" {
		return p.json(map[string]string{"message": msg})
	}
	_, err := fmt.Fprintln(p.w, okStyle.Render("✔ "+msg))
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
