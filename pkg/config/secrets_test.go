package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretStoreRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	password := "test-password-12345"

	store := NewSecretStore(tmpDir)
	if store.Exists() {
		t.Fatal("no secrets file should exist yet")
	}
	if err := store.Unlock(password); err != nil {
		t.Fatalf("unlock of empty store failed: %v", err)
	}

	secrets := map[string]string{
		SecretAnthropicAPIKey: "sk-ant-test123",
		SecretOpenAIAPIKey:    "sk-test-openai",
		SecretGoogleAPIKey:    "AIza-test",
	}
	for k, v := range secrets {
		if err := store.Set(k, v); err != nil {
			t.Fatalf("failed to set %s: %v", k, err)
		}
	}

	path := filepath.Join(tmpDir, secretsDirName, secretsFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("secrets file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected file permissions 0600, got %04o", info.Mode().Perm())
	}

	// A fresh store with the same password reads everything back.
	reopened := NewSecretStore(tmpDir)
	if !reopened.Exists() {
		t.Fatal("secrets file should exist")
	}
	if err := reopened.Unlock(password); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	for k, want := range secrets {
		got, err := reopened.Get(k)
		if err != nil {
			t.Errorf("secret %s not found: %v", k, err)
			continue
		}
		if got != want {
			t.Errorf("secret %s: expected %q, got %q", k, want, got)
		}
	}
}

func TestSecretStoreWrongPassword(t *testing.T) {
	tmpDir := t.TempDir()

	store := NewSecretStore(tmpDir)
	if err := store.Unlock("correct-password"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := store.Set("KEY", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	other := NewSecretStore(tmpDir)
	if err := other.Unlock("wrong-password"); err == nil {
		t.Fatal("expected decryption to fail with wrong password")
	}
}

func TestSecretStoreEnvFallback(t *testing.T) {
	store := NewSecretStore(t.TempDir())
	if err := store.Unlock("pw"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	t.Setenv("TOKENFORGE_TEST_SECRET", "from-env")

	got, err := store.Get("TOKENFORGE_TEST_SECRET")
	if err != nil {
		t.Fatalf("expected env fallback, got error: %v", err)
	}
	if got != "from-env" {
		t.Errorf("expected 'from-env', got %q", got)
	}

	// File value wins over the environment.
	if err := store.Set("TOKENFORGE_TEST_SECRET", "from-file"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err = store.Get("TOKENFORGE_TEST_SECRET")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "from-file" {
		t.Errorf("expected file value to take precedence, got %q", got)
	}
}

func TestSecretStoreLockedOperations(t *testing.T) {
	store := NewSecretStore(t.TempDir())

	if err := store.Set("KEY", "value"); err == nil {
		t.Error("expected Set to fail on a locked store")
	}
	if _, err := store.Get("MISSING_KEY_WITH_NO_ENV"); err == nil {
		t.Error("expected Get of unknown key to fail on a locked store")
	}

	// Env still works while locked.
	t.Setenv("TOKENFORGE_LOCKED_SECRET", "env-value")
	got, err := store.Get("TOKENFORGE_LOCKED_SECRET")
	if err != nil {
		t.Fatalf("expected env lookup while locked: %v", err)
	}
	if got != "env-value" {
		t.Errorf("expected 'env-value', got %q", got)
	}
}

func TestSecretStoreLockClearsState(t *testing.T) {
	store := NewSecretStore(t.TempDir())
	if err := store.Unlock("pw"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := store.Set("KEY", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	store.Lock()

	if _, err := store.Get("KEY"); err == nil {
		t.Error("expected Get to fail after Lock")
	}
	if err := store.Set("KEY2", "value"); err == nil {
		t.Error("expected Set to fail after Lock")
	}
}

func TestSecretStoreDeleteAndKeys(t *testing.T) {
	store := NewSecretStore(t.TempDir())
	if err := store.Unlock("pw"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	for _, k := range []string{"B_KEY", "A_KEY", "C_KEY"} {
		if err := store.Set(k, "v"); err != nil {
			t.Fatalf("set %s failed: %v", k, err)
		}
	}

	keys := store.Keys()
	want := []string{"A_KEY", "B_KEY", "C_KEY"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected sorted keys %v, got %v", want, keys)
		}
	}

	if err := store.Delete("B_KEY"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete("B_KEY"); err != nil {
		t.Errorf("deleting a missing key should be a no-op: %v", err)
	}
	if len(store.Keys()) != 2 {
		t.Errorf("expected 2 keys after delete, got %d", len(store.Keys()))
	}
}

func TestSecretStoreCorruptedFile(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, secretsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, secretsFileName), []byte("too short"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	store := NewSecretStore(tmpDir)
	if err := store.Unlock("pw"); err == nil {
		t.Fatal("expected unlock of corrupted file to fail")
	}
}

func TestSecretStoreFixesPermissions(t *testing.T) {
	tmpDir := t.TempDir()

	store := NewSecretStore(tmpDir)
	if err := store.Unlock("pw"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := store.Set("KEY", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	path := filepath.Join(tmpDir, secretsDirName, secretsFileName)
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}

	reopened := NewSecretStore(tmpDir)
	if err := reopened.Unlock("pw"); err != nil {
		t.Fatalf("unlock should fix permissions and succeed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected permissions restored to 0600, got %04o", info.Mode().Perm())
	}
}
