package commands

import (
	"os"
	"path/filepath"

	"github.com/colonyops/inbox/internal/core/config"
	"github.com/colonyops/inbox/internal/inbox"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	Token      string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// App is the running engine, started in the Before hook
	App *inbox.App
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "inbox", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "inbox")
}

// ApplyOverrides copies flag values that take precedence over the config
// file into cfg. It runs on every load, including hot reloads.
func (f *Flags) ApplyOverrides(cfg *config.Config) {
	if f.Token != "" {
		cfg.Server.Token = f.Token
	}
}
