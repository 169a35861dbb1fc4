// Package xdg resolves msgscope's per-user directories.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "msgscope"

// Dir returns $envVar/msgscope, or ~/fallback/msgscope when envVar is unset.
func Dir(envVar, fallback string) (string, error) {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, appName), nil
}

// ConfigFile returns the default config.toml location.
func ConfigFile() (string, error) {
	dir, err := Dir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataFile returns name inside the data directory, creating the directory.
func DataFile(name string) (string, error) {
	dir, err := Dir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
