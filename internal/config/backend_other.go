//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "cinematch-data"
		}
	}
	return filepath.Join(dir, "cinematch")
}

func tokenHint() string {
	return ""
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

// configFilePath honours CINEMATCH_CONFIG_FILE before the XDG location.
func configFilePath() string {
	if p := os.Getenv("CINEMATCH_CONFIG_FILE"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "cinematch", "config.json")
}
