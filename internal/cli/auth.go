package cli

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/spf13/cobra"
)

type credentialOptions struct {
	email    string
	password string
}

func (o *credentialOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.email, "email", "e", "", "account email (required)")
	cmd.Flags().StringVarP(&o.password, "password", "p", "", "password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
}

// resolvePassword falls back to the first line of stdin
func (o *credentialOptions) resolvePassword(in io.Reader) (string, error) {
	if o.password != "" {
		return o.password, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", WrapExitError(ExitCommandError, "read password", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", NewExitError(ExitCommandError, "password required: use --password or pipe it on stdin")
	}
	return pw, nil
}

func authFailure(err error) error {
	var ae *auth.Error
	if errors.As(err, &ae) {
		return NewExitError(ExitFailure, ae.Message)
	}
	return WrapExitError(ExitFailure, "request failed", err)
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	var co credentialOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			pw, err := co.resolvePassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := e.authClient().Register(cmd.Context(), co.email, pw); err != nil {
				return authFailure(err)
			}
			return e.out.Message("registered " + co.email + ", now run: todo login")
		},
	}
	co.bind(cmd)
	return cmd
}

// NewLoginCommand creates the login command.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var co credentialOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			pw, err := co.resolvePassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			id, err := e.authClient().Login(cmd.Context(), co.email, pw)
			if err != nil {
				return authFailure(err)
			}
			if err := e.tokens.Save(id); err != nil {
				return WrapExitError(ExitCommandError, "save session", err)
			}
			e.logger.WithFields(map[string]interface{}{"user_id": id.UserID, "expires_at": id.ExpiresAt}).Debug("session saved")
			return e.out.Message("logged in as " + id.Email)
		},
	}
	co.bind(cmd)
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			if err := e.tokens.Remove(); err != nil {
				return WrapExitError(ExitCommandError, "remove session", err)
			}
			return e.out.Message("logged out")
		},
	}
}
