package cli

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/client"
	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/fluxorio/todosync/pkg/todosync"
	"github.com/spf13/cobra"
)

// env is what a command needs after flags and settings are resolved
type env struct {
	opts     *RootOptions
	settings Settings
	logger   core.Logger
	tokens   tokenStore
	out      printer
}

func newEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	s, err := loadSettings(opts.ConfigDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load settings", err)
	}
	if opts.API != "" {
		s.API = opts.API
	}
	if opts.Realtime != "" {
		s.Realtime = opts.Realtime
	}
	if opts.Verbose {
		s.Log.Level = "debug"
	}
	return &env{
		opts:     opts,
		settings: s,
		logger:   newLogger(s.Log, cmd.ErrOrStderr()),
		tokens:   tokenStore{dir: opts.ConfigDir, now: opts.now},
		out:      printer{format: opts.Format, w: cmd.OutOrStdout()},
	}, nil
}

func newLogger(cfg core.LoggerConfig, w io.Writer) core.Logger {
	cfg.Output = w
	if cfg.Prefix == "" {
		cfg.Prefix = "todo"
	}
	return core.NewLogger(cfg)
}

func (e *env) clientConfig() client.Config {
	return client.Config{
		BaseURL:     e.settings.API,
		RealtimeURL: e.settings.Realtime,
		Timeout:     e.settings.Timeout,
		Logger:      e.logger,
	}
}

func (e *env) authClient() *client.Auth {
	return client.NewAuth(e.clientConfig())
}

// session restores the saved identity
func (e *env) session() (*auth.Session, auth.Identity, error) {
	id, err := e.tokens.Load()
	if err != nil {
		return nil, id, err
	}
	s := auth.NewSession(e.authClient())
	s.Restore(id)
	return s, id, nil
}

func (e *env) managerConfig() todosync.ManagerConfig {
	return todosync.ManagerConfig{
		MutationTimeout: e.settings.Sync.MutationTimeout,
		Logger:          e.logger,
	}
}

// manager builds a one-shot mutation manager for the signed-in owner. With
// load set the owner's list is fetched first, so ids can be resolved.
func (e *env) manager(ctx context.Context, load bool) (*todosync.Manager, error) {
	sess, id, err := e.session()
	if err != nil {
		return nil, err
	}
	st := client.NewStore(e.clientConfig(), sess)
	m := todosync.NewManager(id.UserID, st, todosync.NewList(nil), e.managerConfig())
	if load {
		if err := m.Refetch(ctx); err != nil {
			return nil, failure(err)
		}
	}
	return m, nil
}

// failure converts a domain error into an exit error
func failure(err error) error {
	if todo.KindOf(err) == todo.KindUnauthenticated {
		return errSessionExpired
	}
	return NewExitError(ExitFailure, todo.Message(err))
}

func resultError(res todo.Result) error {
	if res.Success {
		return nil
	}
	return NewExitError(ExitFailure, res.Error)
}

// resolve maps a reference to an id. A number is a position as printed by
// "todo list"; anything else is an id or unique id prefix.
func resolve(items []todo.Tracked, ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(items) {
		return items[n-1].ID, nil
	}
	var match string
	for _, it := range items {
		if it.ID == ref {
			return it.ID, nil
		}
		if strings.HasPrefix(it.ID, ref) {
			if match != "" {
				return "", NewExitError(ExitCommandError, "\""+ref+"\" matches more than one todo")
			}
			match = it.ID
		}
	}
	if match == "" {
		return "", NewExitError(ExitFailure, todo.Message(todo.ErrNotFound))
	}
	return match, nil
}
