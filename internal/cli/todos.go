package cli

import (
	"strings"

	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/spf13/cobra"
)

func items(tracked []todo.Tracked) []todo.Item {
	out := make([]todo.Item, len(tracked))
	for i, t := range tracked {
		out[i] = t.Item
	}
	return out
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show your todos, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			m, err := e.manager(cmd.Context(), true)
			if err != nil {
				return err
			}
			return e.out.Items(items(m.List().Items()))
		},
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <text...>",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			m, err := e.manager(cmd.Context(), false)
			if err != nil {
				return err
			}
			res := m.Create(cmd.Context(), strings.Join(args, " "))
			if err := resultError(res); err != nil {
				return err
			}
			return e.out.Item("added", res.Item)
		},
	}
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "toggle <ref>",
		Aliases: []string{"done"},
		Short:   "Flip a todo between open and completed",
		Long:    "ref is the number shown by \"todo list\" or an id prefix.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			m, err := e.manager(cmd.Context(), true)
			if err != nil {
				return err
			}
			id, err := resolve(m.List().Items(), args[0])
			if err != nil {
				return err
			}
			res := m.Toggle(cmd.Context(), id)
			if err := resultError(res); err != nil {
				return err
			}
			verb := "reopened"
			if res.Item != nil && res.Item.Completed {
				verb = "completed"
			}
			return e.out.Item(verb, res.Item)
		},
	}
}

// NewEditCommand creates the edit command.
func NewEditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <ref> <text...>",
		Short: "Change a todo's text",
		Long:  "ref is the number shown by \"todo list\" or an id prefix.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			m, err := e.manager(cmd.Context(), true)
			if err != nil {
				return err
			}
			id, err := resolve(m.List().Items(), args[0])
			if err != nil {
				return err
			}
			res := m.Update(cmd.Context(), id, todo.SetText(strings.Join(args[1:], " ")))
			if err := resultError(res); err != nil {
				return err
			}
			return e.out.Item("updated", res.Item)
		},
	}
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <ref>",
		Aliases: []string{"delete"},
		Short:   "Delete a todo",
		Long:    "ref is the number shown by \"todo list\" or an id prefix.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			m, err := e.manager(cmd.Context(), true)
			if err != nil {
				return err
			}
			id, err := resolve(m.List().Items(), args[0])
			if err != nil {
				return err
			}
			gone, _ := m.List().Get(id)
			if err := resultError(m.Delete(cmd.Context(), id)); err != nil {
				return err
			}
			return e.out.Item("deleted", &gone.Item)
		},
	}
}
