package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("CLIPSAVE_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("CLIPSAVE_HOME", "/custom/clipsave")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if d.ConfigPath != "/custom/config.toml" {
			t.Errorf("ConfigPath = %q", d.ConfigPath)
		}
		if d.BaseDir != "/custom/clipsave" {
			t.Errorf("BaseDir = %q", d.BaseDir)
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("CLIPSAVE_CONFIG_PATH", "")
		t.Setenv("CLIPSAVE_HOME", "")

		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if want := filepath.Join(home, ".config", "clipsave.toml"); d.ConfigPath != want {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, want)
		}
		if want := filepath.Join(home, ".local", "share", "clipsave"); d.BaseDir != want {
			t.Errorf("BaseDir = %q, want %q", d.BaseDir, want)
		}
	})
}
