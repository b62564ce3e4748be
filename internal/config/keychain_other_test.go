//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.json")
	t.Setenv("CINEMATCH_SECRETS_FILE", path)

	if _, err := keychainGet(secretService, tokenAccount); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := SetToken("  tok-123 \n"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := keychainSet("other", "acct", "x"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}

	got, err := keychainReader{}.Get(secretService, tokenAccount)
	if err != nil || got != "tok-123" {
		t.Fatalf("Get = %q, %v; want tok-123", got, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSetTokenRejectsEmpty(t *testing.T) {
	t.Setenv("CINEMATCH_SECRETS_FILE", filepath.Join(t.TempDir(), "secrets.json"))
	if err := SetToken("   "); err == nil {
		t.Error("expected error for blank token")
	}
}
