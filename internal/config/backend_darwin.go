//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.cinematch.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "cinematch")
	}
	return "cinematch-data"
}

func tokenHint() string {
	return fmt.Sprintf(" or macOS Keychain (service: %s, account: %s)", secretService, tokenAccount)
}

// errNoDefault is returned by a defaults runner when the key is absent.
var errNoDefault = errors.New("no such default")

// defaultsRunner runs the `defaults` tool and returns its trimmed output.
type defaultsRunner func(args ...string) (string, error)

func runDefaults(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		// defaults exits 1 for a missing domain or key.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", errNoDefault
		}
		return "", fmt.Errorf("defaults %s: %w: %s", args[0], err, s)
	}
	return s, nil
}

// userDefaultsBackend stores cinematch keys in the app's UserDefaults domain.
type userDefaultsBackend struct {
	domain string
	run    defaultsRunner
}

func newPlatformBackend() ConfigBackend {
	if p := os.Getenv("CINEMATCH_CONFIG_FILE"); p != "" {
		return newFileBackend(p)
	}
	return &userDefaultsBackend{domain: defaultsDomain, run: runDefaults}
}

func (b *userDefaultsBackend) GetString(key string) (string, bool, error) {
	v, err := b.run("read", b.domain, key)
	switch {
	case errors.Is(err, errNoDefault):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, true, nil
}

func (b *userDefaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %q", key, s)
	}
	return n, true, nil
}

func (b *userDefaultsBackend) SetString(key, val string) error {
	_, err := b.run("write", b.domain, key, "-string", val)
	return err
}

func (b *userDefaultsBackend) SetInt(key string, val int) error {
	_, err := b.run("write", b.domain, key, "-int", strconv.Itoa(val))
	return err
}

// Delete is a no-op for keys that were never written.
func (b *userDefaultsBackend) Delete(key string) error {
	if _, err := b.run("delete", b.domain, key); err != nil && !errors.Is(err, errNoDefault) {
		return err
	}
	return nil
}
