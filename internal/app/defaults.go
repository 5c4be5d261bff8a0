package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths used when no flag overrides them.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CLIPSAVE_CONFIG_PATH: config file location (default: ~/.config/clipsave.toml)
//   - CLIPSAVE_HOME: base directory for clipsave data (default: ~/.local/share/clipsave)
func GetDefaults() (Defaults, error) {
	configPath := os.Getenv("CLIPSAVE_CONFIG_PATH")
	baseDir := os.Getenv("CLIPSAVE_HOME")
	if configPath != "" && baseDir != "" {
		return Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
	}
	if configPath == "" {
		configPath = filepath.Join(homeDir, ".config", "clipsave.toml")
	}
	if baseDir == "" {
		baseDir = filepath.Join(homeDir, ".local", "share", "clipsave")
	}
	return Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
}
