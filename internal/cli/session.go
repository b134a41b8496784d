package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxorio/todosync/pkg/auth"
	"github.com/fluxorio/todosync/pkg/config"
)

const sessionFile = "session.yaml"

var (
	errNotLoggedIn    = NewExitError(ExitFailure, "Not logged in. Run: todo login")
	errSessionExpired = NewExitError(ExitFailure, "Session expired. Run: todo login")
)

// tokenStore keeps the signed-in identity in the config dir
type tokenStore struct {
	dir string
	now func() time.Time
}

func (s tokenStore) path() string {
	return filepath.Join(s.dir, sessionFile)
}

// Load returns the saved identity, or errNotLoggedIn / errSessionExpired
func (s tokenStore) Load() (auth.Identity, error) {
	var id auth.Identity
	if err := config.LoadYAML(s.path(), &id); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return id, errNotLoggedIn
		}
		return id, WrapExitError(ExitCommandError, "read session", err)
	}
	if id.Token == "" || id.UserID == "" {
		return id, errNotLoggedIn
	}
	if !id.ExpiresAt.IsZero() && !s.now().Before(id.ExpiresAt) {
		return id, errSessionExpired
	}
	return id, nil
}

// Save writes id with owner-only permissions
func (s tokenStore) Save(id auth.Identity) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return config.SaveYAML(s.path(), id)
}

// Remove deletes the saved identity. A missing file is not an error.
func (s tokenStore) Remove() error {
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
