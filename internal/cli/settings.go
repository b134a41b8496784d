package cli

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxorio/todosync/pkg/config"
	"github.com/fluxorio/todosync/pkg/core"
)

// EnvPrefix prefixes CLI environment overrides, e.g. TODO_API
const EnvPrefix = "TODO"

// Settings are the client settings read from <config dir>/config.yaml
// (or config.toml)
type Settings struct {
	// API is the todosyncd base URL
	API string `yaml:"api" json:"api"`

	// Realtime is the change stream URL
	Realtime string `yaml:"realtime" json:"realtime"`

	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Sync    config.SyncConfig `yaml:"sync" json:"sync"`
	Log     core.LoggerConfig `yaml:"log" json:"log"`
}

// DefaultSettings point at a local todosyncd
func DefaultSettings() Settings {
	return Settings{
		API:      "http://localhost:8080",
		Realtime: "ws://localhost:8081/realtime",
		Timeout:  10 * time.Second,
		Sync:     config.DefaultSyncConfig(),
		Log:      core.LoggerConfig{Level: "warn", Format: "text"},
	}
}

// DefaultConfigDir is <user config dir>/todosync
func DefaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".todosync"
	}
	return filepath.Join(dir, "todosync")
}

// settingsFiles are tried in order; the first one present wins
var settingsFiles = []string{"config.yaml", "config.toml"}

// loadSettings layers defaults, the config file and TODO_* variables
func loadSettings(dir string) (Settings, error) {
	s := DefaultSettings()
	for _, name := range settingsFiles {
		err := config.Load(filepath.Join(dir, name), &s)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return s, err
		}
	}
	if err := config.ApplyEnvOverrides(EnvPrefix, &s); err != nil {
		return s, err
	}
	return s, nil
}
