//go:build !darwin

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestYAMLBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodebench", "config.yaml")

	b := openYAMLBackend(path)
	if err := b.SetInt("server.port", 4100); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetBool("server.mcp_enabled", true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	if err := b.SetString("planner.provider", "heuristic"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "server.port: 4100") {
		t.Errorf("config file is not plain YAML:\n%s", data)
	}

	reopened := openYAMLBackend(path)
	if port, ok, err := reopened.GetInt("server.port"); err != nil || !ok || port != 4100 {
		t.Errorf("GetInt = %d, %v, %v", port, ok, err)
	}
	if on, ok, err := reopened.GetBool("server.mcp_enabled"); err != nil || !ok || !on {
		t.Errorf("GetBool = %v, %v, %v", on, ok, err)
	}
	if p, ok, _ := reopened.GetString("planner.provider"); !ok || p != "heuristic" {
		t.Errorf("GetString = %q, %v", p, ok)
	}

	if err := reopened.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := openYAMLBackend(path).GetInt("server.port"); ok {
		t.Error("server.port still set after Delete")
	}
}

func TestYAMLBackend_HandEditedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server.port: \"4200\"\ncoordinator.llm_delegation: \"yes\"\nlog.level: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	b := openYAMLBackend(path)
	if port, _, err := b.GetInt("server.port"); err != nil || port != 4200 {
		t.Errorf("quoted int: %d, %v", port, err)
	}
	if _, ok, err := b.GetBool("coordinator.llm_delegation"); !ok || err == nil {
		t.Error("expected an error for a non-bool string")
	}
	if lvl, _, _ := b.GetString("log.level"); lvl != "3" {
		t.Errorf("GetString on int = %q", lvl)
	}
}

func TestYAMLBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server.port: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}

	b := openYAMLBackend(path)
	if _, ok, err := b.GetInt("server.port"); ok || err != nil {
		t.Errorf("corrupt file should read as empty, got ok=%v err=%v", ok, err)
	}
}

func TestFileKeychain(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	kc := NewKeychain()

	if _, err := kc.Get(keychainService, "missing"); !errors.Is(err, errSecretNotFound) {
		t.Errorf("Get(missing) = %v, want errSecretNotFound", err)
	}

	if err := kc.Set(keychainService, "llm.openai_api_key", "sk-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kc.Set(keychainService, "billing.polar_token", "polar-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := kc.Get(keychainService, "llm.openai_api_key"); err != nil || v != "sk-1" {
		t.Errorf("Get = %q, %v", v, err)
	}

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	second, err := GetAPIToken(kc)
	if err != nil || second != first {
		t.Errorf("token not persisted: %q then %q (%v)", first, second, err)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatalf("secrets file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}
}
