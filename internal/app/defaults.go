package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"

	"bakker-go/internal/config"
)

// environment holds the process-level overrides read by GetDefaults.
type environment struct {
	ConfigPath string `env:"BAKKER_CONFIG_PATH" env-description:"config file location (default ~/.config/bakker.toml)"`
	Home       string `env:"BAKKER_HOME" env-description:"base directory for bakker data (default ~/.local/share/bakker)"`
}

// Defaults are the paths bakker uses when the config store does not say
// otherwise.
type Defaults struct {
	ConfigPath  string
	BaseDir     string
	LogDir      string
	CacheDBPath string
}

// GetDefaults returns application default paths, checking environment
// variables first.
func GetDefaults() (*Defaults, error) {
	var env environment
	if err := cleanenv.ReadEnv(&env); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if env.ConfigPath == "" || env.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if env.ConfigPath == "" {
			env.ConfigPath = filepath.Join(homeDir, ".config", "bakker.toml")
		}
		if env.Home == "" {
			env.Home = filepath.Join(homeDir, ".local", "share", "bakker")
		}
	}

	return &Defaults{
		ConfigPath:  env.ConfigPath,
		BaseDir:     env.Home,
		LogDir:      filepath.Join(env.Home, "log"),
		CacheDBPath: filepath.Join(env.Home, "cache.db"),
	}, nil
}

// EnvironmentHelp describes the environment variables GetDefaults reads.
func EnvironmentHelp() string {
	header := "Environment variables:"
	text, err := cleanenv.GetDescription(&environment{}, &header)
	if err != nil {
		return ""
	}
	return text
}

// LogDirFor returns the configured log directory, falling back to the default.
func (d *Defaults) LogDirFor(store *config.Store) string {
	if dir, ok := store.Get(config.KeyLogDir); ok && dir != "" {
		return dir
	}
	return d.LogDir
}

// CacheDBPathFor returns the configured cache database, falling back to the
// default.
func (d *Defaults) CacheDBPathFor(store *config.Store) string {
	if path, ok := store.Get(config.KeyCacheDBPath); ok && path != "" {
		return path
	}
	return d.CacheDBPath
}
