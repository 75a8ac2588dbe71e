package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestQuarantine(t *testing.T) {
	stateDir := t.TempDir()
	path := filepath.Join(stateDir, "wus", "wu_1771722000_a3f2b7c1.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{{corrupt"), 0644); err != nil {
		t.Fatal(err)
	}

	moved, err := Quarantine(stateDir, path)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original file should be gone")
	}
	if !strings.HasPrefix(moved, filepath.Join(stateDir, "quarantine")) {
		t.Errorf("quarantined outside quarantine dir: %s", moved)
	}
	if !strings.HasSuffix(moved, ".corrupt") {
		t.Errorf("missing .corrupt suffix: %s", moved)
	}

	content, err := os.ReadFile(moved)
	if err != nil {
		t.Fatalf("read quarantined file: %v", err)
	}
	if string(content) != "{{corrupt" {
		t.Error("quarantined bytes must be preserved verbatim")
	}
}

func TestRestoreFromBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.yaml")

	if err := os.WriteFile(path+".bak", []byte("id: wu_1771722000_a3f2b7c1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := RestoreFromBackup(path); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "wu_1771722000_a3f2b7c1") {
		t.Error("restored content mismatch")
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	dir := t.TempDir()
	if err := RestoreFromBackup(filepath.Join(dir, "spec.yaml")); err == nil {
		t.Error("expected error when backup missing")
	}
}

func TestRestoreFromBackup_CorruptBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.yaml")
	if err := os.WriteFile(path+".bak", []byte("\t{{not yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := RestoreFromBackup(path); err == nil {
		t.Error("expected error when backup is corrupt")
	}
}
