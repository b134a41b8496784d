// Package tui is the interactive todo view driven by a live-synced handle.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fluxorio/todosync/pkg/fsm"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/fluxorio/todosync/pkg/todosync"
)

// Syncer is the view-facing handle. *todosync.Handle implements it.
type Syncer interface {
	Items() []todo.Tracked
	Loading() bool
	Err() string
	Deleting(id string) bool
	ConnectionState() fsm.State
	ConnectionErr() string
	Watch(ctx context.Context) <-chan struct{}
	Create(ctx context.Context, text string) todo.Result
	Update(ctx context.Context, id string, patch todo.Patch) todo.Result
	Toggle(ctx context.Context, id string) todo.Result
	Delete(ctx context.Context, id string) todo.Result
	Refetch(ctx context.Context) error
}

var _ Syncer = (*todosync.Handle)(nil)

type mode int

const (
	browsing mode = iota
	adding
	editing
)

// changedMsg reports that the handle's list or connection changed
type changedMsg struct{}

// resultMsg carries the outcome of a mutation
type resultMsg struct {
	op  string
	res todo.Result
}

type refetchedMsg struct{ err error }

// row adapts a tracked todo to bubbles/list.Item
type row struct {
	todo.Tracked
	deleting bool
}

func (r row) Title() string       { return r.Text }
func (r row) Description() string { return "" }
func (r row) FilterValue() string { return r.Text }

type rowDelegate struct{}

func (rowDelegate) Height() int                         { return 1 }
func (rowDelegate) Spacing() int                        { return 0 }
func (rowDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (rowDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	r, ok := item.(row)
	if !ok {
		return
	}
	box, text := mutedStyle.Render(boxUnchecked), r.Text
	if r.Completed {
		box, text = successStyle.Render(boxChecked), doneStyle.Render(r.Text)
	}
	var mark string
	switch {
	case r.deleting:
		mark = " " + errorStyle.Render("deleting")
	case r.Speculative:
		mark = " " + pendingStyle.Render("saving")
	case r.Pending:
		mark = " " + pendingStyle.Render("…")
	}
	prefix := "  "
	if index == m.Index() {
		prefix = selectedStyle.Render(">") + " "
	}
	fmt.Fprintln(w, prefix+box+" "+text+mark)
}

var (
	addKey     = key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add"))
	editKey    = key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit"))
	toggleKey  = key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle"))
	deleteKey  = key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete"))
	refetchKey = key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload"))
	quitKey    = key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit"))
)

// Model renders the handle and forwards key presses to it
type Model struct {
	ctx     context.Context
	sync    Syncer
	changes <-chan struct{}

	list   list.Model
	input  textinput.Model
	mode   mode
	editID string

	status    string
	statusErr bool
	width     int
	height    int
}

// New creates the view. Changes are observed until ctx is done.
func New(ctx context.Context, s Syncer) Model {
	l := list.New(nil, rowDelegate{}, 0, 0)
	l.Title = "Todos"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	l.Styles.HelpStyle = helpStyle
	l.DisableQuitKeybindings()
	extra := func() []key.Binding {
		return []key.Binding{addKey, editKey, toggleKey, deleteKey, refetchKey, quitKey}
	}
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = todo.MaxTextLength

	m := Model{
		ctx:     ctx,
		sync:    s,
		changes: s.Watch(ctx),
		list:    l,
		input:   ti,
		width:   80,
		height:  24,
	}
	m.refresh()
	return m
}

// Run shows the view until the user quits or ctx is done
func Run(ctx context.Context, s Syncer) error {
	p := tea.NewProgram(New(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) waitForChange() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) mutate(op string, fn func(context.Context) todo.Result) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{op: op, res: fn(ctx)}
	}
}

// Init starts listening for changes
func (m Model) Init() tea.Cmd {
	return m.waitForChange()
}

// refresh rebuilds the rows from the handle, keeping the cursor in range
func (m *Model) refresh() tea.Cmd {
	items := m.sync.Items()
	rows := make([]list.Item, 0, len(items))
	for _, it := range items {
		rows = append(rows, row{Tracked: it, deleting: m.sync.Deleting(it.ID)})
	}
	idx := m.list.Index()
	cmd := m.list.SetItems(rows)
	if idx >= len(rows) {
		idx = len(rows) - 1
	}
	if idx >= 0 {
		m.list.Select(idx)
	}
	m.list.Title = m.header(items)
	return cmd
}

func (m Model) header(items []todo.Tracked) string {
	done := 0
	for _, it := range items {
		if it.Completed {
			done++
		}
	}
	title := fmt.Sprintf("Todos  %s %d  %s %d",
		successStyle.Render("✔"), done,
		pendingStyle.Render("•"), len(items)-done)
	if m.sync.Loading() {
		title += "  " + mutedStyle.Render("loading…")
	}
	return title
}

func (m Model) selected() (row, bool) {
	r, ok := m.list.SelectedItem().(row)
	return r, ok
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.status, m.statusErr = msg, isErr
}

// Update handles key presses, window resizes and handle notifications
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width-4, msg.Height-6)
		return m, nil
	case changedMsg:
		return m, tea.Batch(m.refresh(), m.waitForChange())
	case resultMsg:
		if !msg.res.Success {
			m.setStatus(msg.res.Error, true)
		} else {
			m.setStatus(msg.op, false)
		}
		return m, m.refresh()
	case refetchedMsg:
		if msg.err != nil {
			m.setStatus(todo.Message(msg.err), true)
		} else {
			m.setStatus("reloaded", false)
		}
		return m, m.refresh()
	case tea.KeyMsg:
		if m.mode != browsing {
			return m.updateInput(msg)
		}
		if m.list.FilterState() == list.Filtering {
			break
		}
		return m.updateBrowse(msg)
	}
	var cmd tea.Cmd
	if m.mode != browsing {
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, quitKey):
		return m, tea.Quit
	case key.Matches(msg, addKey):
		m.mode = adding
		m.input.SetValue("")
		m.input.Placeholder = "What needs to be done?"
		m.input.Focus()
		return m, textinput.Blink
	case key.Matches(msg, refetchKey):
		s, ctx := m.sync, m.ctx
		return m, func() tea.Msg { return refetchedMsg{err: s.Refetch(ctx)} }
	}

	r, ok := m.selected()
	if ok {
		switch {
		case key.Matches(msg, editKey):
			m.mode = editing
			m.editID = r.ID
			m.input.SetValue(r.Text)
			m.input.CursorEnd()
			m.input.Placeholder = "Edit todo"
			m.input.Focus()
			return m, textinput.Blink
		case key.Matches(msg, toggleKey):
			id, s := r.ID, m.sync
			return m, m.mutate("toggled", func(ctx context.Context) todo.Result { return s.Toggle(ctx, id) })
		case key.Matches(msg, deleteKey):
			id, s := r.ID, m.sync
			return m, m.mutate("deleted", func(ctx context.Context) todo.Result { return s.Delete(ctx, id) })
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = browsing
		m.input.Blur()
		return m, nil
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			m.setStatus(todo.Message(todo.ErrEmptyText), true)
			return m, nil
		}
		s := m.sync
		var cmd tea.Cmd
		if m.mode == adding {
			cmd = m.mutate("added", func(ctx context.Context) todo.Result { return s.Create(ctx, text) })
		} else {
			id := m.editID
			cmd = m.mutate("saved", func(ctx context.Context) todo.Result { return s.Update(ctx, id, todo.SetText(text)) })
		}
		m.mode = browsing
		m.input.Blur()
		m.input.SetValue("")
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) connection() string {
	switch m.sync.ConnectionState() {
	case todosync.StateConnected:
		return successStyle.Render("● live")
	case todosync.StateConnecting, todosync.StateUninitialized:
		return pendingStyle.Render("○ connecting")
	case todosync.StateError:
		msg := m.sync.ConnectionErr()
		if msg == "" {
			msg = "offline"
		}
		return errorStyle.Render("✕ " + msg)
	default:
		return mutedStyle.Render("○ offline")
	}
}

// View renders the list, the input bar and the status line
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.list.View())

	if m.mode != browsing {
		title := accentStyle.Render("Add todo")
		if m.mode == editing {
			title = accentStyle.Render("Edit todo")
		}
		b.WriteString("\n" + panelStyle.Render(title+"\n"+m.input.View()))
	}

	status := m.connection()
	if e := m.sync.Err(); e != "" && !m.statusErr {
		status += "  " + errorStyle.Render(e)
	}
	if m.status != "" {
		style := mutedStyle
		if m.statusErr {
			style = errorStyle
		}
		status += "  " + style.Render(m.status)
	}
	b.WriteString("\n" + status)
	return panelStyle.Render(b.String())
}
