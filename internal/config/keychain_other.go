//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// secrets is the on-disk layout of the secrets file: service -> account -> value.
type secrets map[string]map[string]string

func secretsFilePath() string {
	if p := os.Getenv("CINEMATCH_SECRETS_FILE"); p != "" {
		return p
	}
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func readSecrets(path string) (secrets, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return secrets{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	s := secrets{}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	return s, nil
}

func keychainGet(service, account string) ([]byte, error) {
	s, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, err
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret for %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	s, err := readSecrets(p)
	if err != nil {
		return err
	}
	if s[service] == nil {
		s[service] = map[string]string{}
	}
	s[service][account] = value
	return writeJSONFile(p, s)
}
