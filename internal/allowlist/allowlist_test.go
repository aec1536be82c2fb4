package allowlist

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAllowlist(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cooldown-allowlist.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	a, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if a.ExactAllowed("anything", "1.0.0") {
		t.Error("empty allowlist allowed a version")
	}
	if _, ok := a.GlobalWindow(); ok {
		t.Error("empty allowlist has a global window")
	}
}

func TestLoadDocument(t *testing.T) {
	path := writeAllowlist(t, `
exact:
  - package: foo
    version: 1.2.3
packages:
  - package: bar
    minutes: 3
global:
  minutes: 5
`)

	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !a.ExactAllowed("foo", "1.2.3") {
		t.Error("exact pin not honored")
	}
	if a.ExactAllowed("foo", "1.2.4") {
		t.Error("exact pin leaked to another version")
	}

	if d, ok := a.WindowOverride("bar"); !ok || d != 3*time.Minute {
		t.Errorf("WindowOverride(bar) = %v, %v; want 3m, true", d, ok)
	}
	if _, ok := a.WindowOverride("baz"); ok {
		t.Error("WindowOverride(baz) present, want absent")
	}

	if d, ok := a.GlobalWindow(); !ok || d != 5*time.Minute {
		t.Errorf("GlobalWindow = %v, %v; want 5m, true", d, ok)
	}
}

func TestWildcardExemption(t *testing.T) {
	path := writeAllowlist(t, `
exact:
  - package: foo
    version: "*"
`)

	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !a.ExactAllowed("foo", "0.1.0") || !a.ExactAllowed("foo", "9.9.9") {
		t.Error("wildcard entry did not exempt all versions")
	}
	if a.ExactAllowed("other", "0.1.0") {
		t.Error("wildcard entry leaked to another package")
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	path := writeAllowlist(t, `
exact:
  - package: foo
    version: 1.0.0
exemptions:
  - package: bar
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted a document with unknown keys")
	}
}

func TestIncompleteExactEntryRejected(t *testing.T) {
	path := writeAllowlist(t, `
exact:
  - package: foo
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted an exact entry without a version")
	}
}
