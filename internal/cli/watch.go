package cli

import (
	"os"
	"path/filepath"

	"github.com/fluxorio/todosync/internal/tui"
	"github.com/fluxorio/todosync/pkg/client"
	"github.com/fluxorio/todosync/pkg/todosync"
	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open the live todo list",
		Long: `Open an interactive list that follows changes made on other devices.

Logs go to watch.log in the config dir since the terminal is in use.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			sess, _, err := e.session()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(opts.ConfigDir, 0o700); err != nil {
				return WrapExitError(ExitCommandError, "create config dir", err)
			}
			// #nosec G304 -- path is under the user's own config dir
			logFile, err := os.OpenFile(filepath.Join(opts.ConfigDir, "watch.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return WrapExitError(ExitCommandError, "open log", err)
			}
			defer logFile.Close()
			e.logger = newLogger(e.settings.Log, logFile)

			h := todosync.NewHandle(sess, client.NewStore(e.clientConfig(), sess), todosync.HandleConfig{
				Manager: e.managerConfig(),
				Reconciler: todosync.ReconcilerConfig{
					RetryDelay:    e.settings.Sync.RetryDelay,
					MaxRetryDelay: e.settings.Sync.MaxRetryDelay,
				},
				Logger: e.logger,
			})
			h.Start(cmd.Context())
			defer h.Close()

			return tui.Run(cmd.Context(), h)
		},
	}
}
